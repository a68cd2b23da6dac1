package delivery

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitPublisher publishes events to a durable queue. Queue declaration is
// idempotent and done per publish.
type RabbitPublisher struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	url     string
	queue   string
}

// NewRabbitPublisher connects to the broker. An empty URL disables
// publishing and returns nil without error.
func NewRabbitPublisher(url, queue string) (*RabbitPublisher, error) {
	if url == "" {
		log.Info().Msg("RabbitMQ URL not set, broker publishing disabled")
		return nil, nil
	}
	if queue == "" {
		queue = "wa_events"
	}
	p := &RabbitPublisher{url: url, queue: queue}
	if err := p.connect(); err != nil {
		return nil, err
	}
	log.Info().Str("queue", queue).Msg("RabbitMQ connection established")
	return p, nil
}

func (p *RabbitPublisher) connect() error {
	conn, err := amqp091.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq: channel: %w", err)
	}
	p.conn = conn
	p.channel = channel
	return nil
}

// queueName routes an event type to its queue: the base queue name suffixed
// with the lowercased type.
func (p *RabbitPublisher) queueName(eventType string) string {
	if eventType == "" {
		return p.queue
	}
	return p.queue + "_" + strings.ToLower(eventType)
}

// Publish pushes one JSON payload. A dropped connection is re-dialed once.
func (p *RabbitPublisher) Publish(eventType string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}

	queue := p.queueName(eventType)
	if _, err := p.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w", queue, err)
	}
	err := p.channel.Publish("", queue, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: publish to %s: %w", queue, err)
	}
	log.Debug().Str("queue", queue).Msg("Published event to RabbitMQ")
	return nil
}

// Close shuts the channel and connection down.
func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
