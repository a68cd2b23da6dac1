package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"waconnect/internal/models"
)

// Sender delivers bot output into a conversation. The outbound service
// satisfies it.
type Sender interface {
	SendText(ctx context.Context, acct *models.Account, conv *models.Conversation, text string) (*models.Message, error)
}

// Engine drives bot sessions. All session mutation for one (bot,
// conversation) pair is serialized through a keyed mutex so concurrent
// webhook deliveries cannot race a second session into existence.
type Engine struct {
	db     *gorm.DB
	sender Sender

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

func NewEngine(db *gorm.DB, sender Sender) *Engine {
	return &Engine{
		db:     db,
		sender: sender,
		locks:  map[string]*sync.Mutex{},
		sleep:  time.Sleep,
	}
}

func (e *Engine) lockFor(botID, convID uint) *sync.Mutex {
	key := fmt.Sprintf("%d:%d", botID, convID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	e.locks[key] = l
	return l
}

// HandleIncoming is the pipeline hook for inbound contact messages on
// bot-enabled accounts.
func (e *Engine) HandleIncoming(ctx context.Context, acct *models.Account, conv *models.Conversation, contact *models.Contact, text string) error {
	if !acct.BotEnabled || acct.BotID == nil {
		return nil
	}
	var b models.Bot
	err := e.db.Preload("Steps").Preload("Commands").First(&b, *acct.BotID).Error
	if err != nil {
		return fmt.Errorf("bot: load %d: %w", *acct.BotID, err)
	}
	if !b.Active {
		return nil
	}

	lock := e.lockFor(b.ID, conv.ID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.activeSession(b.ID, conv.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	if session != nil && session.IsExpired(b.SessionTimeout, now) {
		if err := e.expire(ctx, acct, conv, contact, &b, session); err != nil {
			return err
		}
		session = nil
	}

	if session == nil {
		if !e.shouldStart(&b, text) {
			return nil
		}
		return e.startSession(ctx, acct, conv, contact, &b)
	}

	session.LastActivity = now
	session.MessageCount++

	if cmd, args, ok := matchCommand(&b, text); ok {
		err = e.runCommand(ctx, acct, conv, contact, &b, session, cmd, args)
	} else if session.WaitingStepID != nil {
		err = e.processAnswer(ctx, acct, conv, contact, &b, session, text)
	}
	if err != nil {
		return err
	}
	return e.saveSession(session)
}

// shouldStart decides whether an inbound message opens a new session.
func (e *Engine) shouldStart(b *models.Bot, text string) bool {
	switch b.InitMode {
	case models.InitAuto:
		return true
	case models.InitCommand:
		// The body must equal the init command exactly, trigger character
		// or not. Trailing chatter does not count.
		return strings.TrimSpace(text) == b.InitCommand
	case models.InitTimeout:
		// Sessions in this mode are opened elsewhere; inbound traffic alone
		// never starts one, the message is simply dropped.
		return false
	default:
		return false
	}
}

func (e *Engine) activeSession(botID, convID uint) (*models.BotSession, error) {
	var session models.BotSession
	err := e.db.Where("bot_id = ? AND conversation_id = ? AND state = ?",
		botID, convID, models.SessionActive).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bot: session lookup: %w", err)
	}
	return &session, nil
}

// startSession creates a session, sends the greeting and runs the flow from
// its first step.
func (e *Engine) startSession(ctx context.Context, acct *models.Account, conv *models.Conversation, contact *models.Contact, b *models.Bot) error {
	now := time.Now()
	session := &models.BotSession{
		BotID:          b.ID,
		ConversationID: conv.ID,
		ContactID:      contact.ID,
		State:          models.SessionActive,
		StartTime:      now,
		LastActivity:   now,
		Variables:      map[string]interface{}{},
	}
	if err := e.db.Create(session).Error; err != nil {
		return fmt.Errorf("bot: create session: %w", err)
	}
	log.Info().Uint("bot", b.ID).Uint("conversation", conv.ID).Msg("Bot session started")

	if b.GreetingEnabled && b.GreetingMessage != "" {
		greeting := renderTemplate(b.GreetingMessage, session, contact)
		if _, err := e.sender.SendText(ctx, acct, conv, greeting); err != nil {
			return err
		}
	}
	if err := e.executeChain(ctx, acct, conv, contact, b, session, firstStep(b)); err != nil {
		return err
	}
	return e.saveSession(session)
}

// expire closes a stale session and notifies the contact once when the bot
// carries a timeout message. Idempotent: an already expired session is left
// alone.
func (e *Engine) expire(ctx context.Context, acct *models.Account, conv *models.Conversation, contact *models.Contact, b *models.Bot, session *models.BotSession) error {
	if session.State != models.SessionActive {
		return nil
	}
	now := time.Now()
	session.State = models.SessionExpired
	session.EndTime = &now
	session.WaitingStepID = nil
	if err := e.saveSession(session); err != nil {
		return err
	}
	log.Info().Uint("session", session.ID).Uint("conversation", conv.ID).Msg("Bot session expired")

	if b.SessionTimeoutMessage != "" && conv != nil {
		msg := renderTemplate(b.SessionTimeoutMessage, session, contact)
		if _, err := e.sender.SendText(ctx, acct, conv, msg); err != nil {
			log.Warn().Err(err).Uint("session", session.ID).Msg("Timeout notice failed")
		}
	}
	return nil
}

// CloseSession ends a session deliberately, e.g. when an operator takes the
// thread over.
func (e *Engine) CloseSession(session *models.BotSession) error {
	if session.State == models.SessionClosed {
		return nil
	}
	now := time.Now()
	session.State = models.SessionClosed
	session.EndTime = &now
	session.WaitingStepID = nil
	return e.saveSession(session)
}

// ReopenSession reactivates a closed or expired session, clearing its end
// marker and restarting the inactivity clock.
func (e *Engine) ReopenSession(session *models.BotSession) error {
	session.State = models.SessionActive
	session.EndTime = nil
	session.LastActivity = time.Now()
	if err := e.db.Model(session).Updates(map[string]interface{}{
		"state":         session.State,
		"end_time":      nil,
		"last_activity": session.LastActivity,
	}).Error; err != nil {
		return fmt.Errorf("bot: reopen session %d: %w", session.ID, err)
	}
	return nil
}

func (e *Engine) saveSession(session *models.BotSession) error {
	if err := e.db.Save(session).Error; err != nil {
		return fmt.Errorf("bot: save session %d: %w", session.ID, err)
	}
	return nil
}
