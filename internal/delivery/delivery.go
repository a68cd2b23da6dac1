// Package delivery fans processed inbound events out to external consumers:
// an optional global webhook and an optional RabbitMQ queue. Delivery is
// asynchronous with bounded retries per event.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Status tracks one event through the retry loop.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Event is one fan-out unit.
type Event struct {
	ID           string                 `json:"id"`
	EventType    string                 `json:"event_type"`
	Payload      map[string]interface{} `json:"payload"`
	CreatedAt    time.Time              `json:"created_at"`
	AttemptCount int                    `json:"attempt_count"`
	Status       Status                 `json:"status"`
	LastError    string                 `json:"last_error,omitempty"`
}

// Result is the outcome of one channel attempt.
type Result struct {
	Channel  string
	Success  bool
	Error    string
	Duration time.Duration
}

// Manager delivers events to every configured channel and retries failures
// in the background.
type Manager struct {
	mu       sync.RWMutex
	pending  map[string]*Event
	inFlight map[string]bool

	webhookURL string
	http       *resty.Client
	rabbit     *RabbitPublisher

	maxRetries   int
	retryBackoff time.Duration
	timeout      time.Duration

	stop chan struct{}
}

// NewManager wires the configured channels. Either may be absent; with none
// configured, Publish is a cheap no-op.
func NewManager(webhookURL string, rabbit *RabbitPublisher) *Manager {
	m := &Manager{
		pending:      make(map[string]*Event),
		inFlight:     make(map[string]bool),
		webhookURL:   webhookURL,
		http:         resty.New().SetTimeout(10 * time.Second),
		rabbit:       rabbit,
		maxRetries:   3,
		retryBackoff: 2 * time.Second,
		timeout:      10 * time.Second,
		stop:         make(chan struct{}),
	}
	go m.processRetries()
	log.Info().
		Bool("webhook", webhookURL != "").
		Bool("rabbitmq", rabbit != nil).
		Int("maxRetries", m.maxRetries).
		Msg("Delivery manager initialized")
	return m
}

// Publish queues one event for fan-out. Non-blocking.
func (m *Manager) Publish(payload map[string]interface{}) {
	if m.webhookURL == "" && m.rabbit == nil {
		return
	}
	eventType, _ := payload["type"].(string)
	event := &Event{
		ID:        fmt.Sprintf("%s_%d", eventType, time.Now().UnixNano()),
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
		Status:    StatusPending,
	}
	m.mu.Lock()
	m.pending[event.ID] = event
	m.mu.Unlock()

	go m.deliver(event)
}

// Close stops the retry loop and the broker connection.
func (m *Manager) Close() {
	close(m.stop)
	if m.rabbit != nil {
		m.rabbit.Close()
	}
}

// beginDelivery claims an event for one attempt. A claim while a previous
// attempt is still running is refused, so the retry ticker cannot race a
// slow in-flight delivery on the same event.
func (m *Manager) beginDelivery(event *Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[event.ID] {
		return false
	}
	m.inFlight[event.ID] = true
	event.AttemptCount++
	return true
}

func (m *Manager) endDelivery(event *Event) {
	m.mu.Lock()
	delete(m.inFlight, event.ID)
	m.mu.Unlock()
}

func (m *Manager) deliver(event *Event) {
	if !m.beginDelivery(event) {
		return
	}
	defer m.endDelivery(event)

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	data, err := json.Marshal(event.Payload)
	if err != nil {
		log.Error().Err(err).Str("eventID", event.ID).Msg("Event marshal failed")
		m.settle(event, StatusFailed, err.Error())
		return
	}

	var wg sync.WaitGroup
	results := make(chan Result, 2)

	if m.webhookURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.deliverToWebhook(ctx, data)
		}()
	}
	if m.rabbit != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.deliverToRabbit(event.EventType, data)
		}()
	}
	wg.Wait()
	close(results)

	allOK := true
	lastErr := ""
	for res := range results {
		if !res.Success {
			allOK = false
			lastErr = res.Error
		}
		log.Debug().
			Str("eventID", event.ID).
			Str("channel", res.Channel).
			Bool("success", res.Success).
			Dur("duration", res.Duration).
			Msg("Delivery attempt finished")
	}

	if allOK {
		m.settle(event, StatusDelivered, "")
		return
	}
	m.mu.Lock()
	event.LastError = lastErr
	attempts := event.AttemptCount
	m.mu.Unlock()
	if attempts >= m.maxRetries {
		log.Warn().Str("eventID", event.ID).Str("error", lastErr).Msg("Event delivery gave up")
		m.settle(event, StatusFailed, lastErr)
	}
}

func (m *Manager) settle(event *Event, status Status, errMsg string) {
	m.mu.Lock()
	event.Status = status
	event.LastError = errMsg
	delete(m.pending, event.ID)
	m.mu.Unlock()
}

func (m *Manager) deliverToWebhook(ctx context.Context, data []byte) Result {
	start := time.Now()
	resp, err := m.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(data).
		Post(m.webhookURL)
	res := Result{Channel: "global_webhook", Duration: time.Since(start)}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		res.Error = fmt.Sprintf("webhook status %d", resp.StatusCode())
		return res
	}
	res.Success = true
	return res
}

func (m *Manager) deliverToRabbit(eventType string, data []byte) Result {
	start := time.Now()
	err := m.rabbit.Publish(eventType, data)
	res := Result{Channel: "rabbitmq", Duration: time.Since(start)}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

// processRetries re-runs pending events that failed their last attempt.
func (m *Manager) processRetries() {
	ticker := time.NewTicker(m.retryBackoff)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		var due []*Event
		for _, event := range m.pending {
			if event.Status == StatusPending && event.LastError != "" &&
				event.AttemptCount > 0 && event.AttemptCount < m.maxRetries {
				due = append(due, event)
			}
		}
		m.mu.RUnlock()

		for _, event := range due {
			log.Debug().Str("eventID", event.ID).Msg("Retrying event delivery")
			m.deliver(event)
		}
	}
}
