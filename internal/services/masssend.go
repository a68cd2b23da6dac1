package services

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"waconnect/internal/models"
)

// MassSendService runs bulk campaigns: it expands a campaign into queue
// items and delivers them with a randomized inter-message delay so the
// provider sees human-ish pacing.
type MassSendService struct {
	db            *gorm.DB
	outbound      *OutboundService
	conversations *ConversationService

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

func NewMassSendService(db *gorm.DB, outbound *OutboundService, conversations *ConversationService) *MassSendService {
	return &MassSendService{
		db:            db,
		outbound:      outbound,
		conversations: conversations,
		sleep:         time.Sleep,
	}
}

// Schedule validates a draft campaign, expands its recipient list into
// pending queue items and marks it scheduled.
func (m *MassSendService) Schedule(mass *models.MassSend, at time.Time) error {
	if mass.State == models.MassSending {
		return fmt.Errorf("mass send %d is currently sending and cannot be rescheduled", mass.ID)
	}
	if mass.Message == "" {
		return fmt.Errorf("mass send %d has no message", mass.ID)
	}
	if err := m.db.Preload("Contacts").First(mass, mass.ID).Error; err != nil {
		return fmt.Errorf("masssend: reload: %w", err)
	}
	if len(mass.Contacts) == 0 {
		return fmt.Errorf("mass send %d has no recipients", mass.ID)
	}
	if mass.MinDelay < 0 || mass.MaxDelay < mass.MinDelay {
		return fmt.Errorf("mass send %d has invalid delay bounds [%d, %d]", mass.ID, mass.MinDelay, mass.MaxDelay)
	}

	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("mass_send_id = ? AND status = ?", mass.ID, models.QueuePending).
			Delete(&models.SendQueueItem{}).Error; err != nil {
			return err
		}
		for _, contact := range mass.Contacts {
			item := models.SendQueueItem{
				MassSendID:  mass.ID,
				ContactID:   contact.ID,
				AccountID:   mass.AccountID,
				Message:     mass.Message,
				Status:      models.QueuePending,
				ScheduledAt: &at,
			}
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
		}
		mass.State = models.MassScheduled
		mass.ScheduledAt = &at
		return tx.Model(mass).Updates(map[string]interface{}{
			"state":        mass.State,
			"scheduled_at": at,
		}).Error
	})
}

// SetCronEnabled toggles background processing for a campaign. A campaign
// that is mid-delivery cannot be reconfigured.
func (m *MassSendService) SetCronEnabled(mass *models.MassSend, enabled bool) error {
	if mass.State == models.MassSending {
		return fmt.Errorf("mass send %d is currently sending and cannot be reconfigured", mass.ID)
	}
	mass.CronEnabled = enabled
	return m.db.Model(mass).Update("cron_enabled", enabled).Error
}

// Cancel voids the remaining queue. Sending campaigns finish their current
// item first; the run loop observes the state change.
func (m *MassSendService) Cancel(mass *models.MassSend) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.SendQueueItem{}).
			Where("mass_send_id = ? AND status = ?", mass.ID, models.QueuePending).
			Update("status", models.QueueCancelled).Error; err != nil {
			return err
		}
		mass.State = models.MassDone
		return tx.Model(mass).Update("state", mass.State).Error
	})
}

// Run delivers every pending item of a campaign, sleeping a random interval
// inside the configured bounds between recipients.
func (m *MassSendService) Run(ctx context.Context, mass *models.MassSend) error {
	var acct models.Account
	if err := m.db.First(&acct, mass.AccountID).Error; err != nil {
		return fmt.Errorf("masssend: load account: %w", err)
	}

	mass.State = models.MassSending
	if err := m.db.Model(mass).Update("state", mass.State).Error; err != nil {
		return fmt.Errorf("masssend: mark sending: %w", err)
	}

	var items []models.SendQueueItem
	if err := m.db.Preload("Contact").
		Where("mass_send_id = ? AND status = ?", mass.ID, models.QueuePending).
		Order("id").Find(&items).Error; err != nil {
		return fmt.Errorf("masssend: load queue: %w", err)
	}

	failed := 0
	for i, item := range items {
		select {
		case <-ctx.Done():
			m.finish(mass, models.MassError, ctx.Err().Error())
			return ctx.Err()
		default:
		}
		if i > 0 {
			m.sleep(m.delay(mass))
		}
		if err := m.deliver(ctx, &acct, mass, &item); err != nil {
			failed++
			log.Warn().Err(err).Uint("item", item.ID).Uint("campaign", mass.ID).Msg("Mass send item failed")
		}
	}

	state := models.MassDone
	errMsg := ""
	if failed == len(items) && len(items) > 0 {
		state = models.MassError
		errMsg = fmt.Sprintf("all %d deliveries failed", failed)
	}
	m.finish(mass, state, errMsg)
	log.Info().Uint("campaign", mass.ID).Int("total", len(items)).Int("failed", failed).Msg("Mass send finished")
	return nil
}

func (m *MassSendService) delay(mass *models.MassSend) time.Duration {
	min, max := mass.MinDelay, mass.MaxDelay
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	seconds := float64(min) + rand.Float64()*float64(max-min)
	return time.Duration(seconds * float64(time.Second))
}

func (m *MassSendService) deliver(ctx context.Context, acct *models.Account, mass *models.MassSend, item *models.SendQueueItem) error {
	now := time.Now()
	item.Status = models.QueueSending
	item.Attempts++
	item.LastAttempt = &now
	if err := m.db.Model(item).Updates(map[string]interface{}{
		"status":       item.Status,
		"attempts":     item.Attempts,
		"last_attempt": now,
	}).Error; err != nil {
		return err
	}

	conv, err := m.conversations.GetOrCreate(item.Contact, acct)
	if err != nil {
		m.failItem(item, err.Error())
		return err
	}
	if _, err := m.outbound.SendText(ctx, acct, conv, item.Message); err != nil {
		m.failItem(item, err.Error())
		return err
	}

	item.Status = models.QueueSent
	return m.db.Model(item).Update("status", item.Status).Error
}

func (m *MassSendService) failItem(item *models.SendQueueItem, msg string) {
	item.Status = models.QueueError
	item.ErrorMessage = msg
	if err := m.db.Model(item).Updates(map[string]interface{}{
		"status":        item.Status,
		"error_message": msg,
	}).Error; err != nil {
		log.Error().Err(err).Uint("item", item.ID).Msg("Queue item error store failed")
	}
}

func (m *MassSendService) finish(mass *models.MassSend, state models.MassSendState, errMsg string) {
	now := time.Now()
	mass.State = state
	mass.ErrorMessage = errMsg
	mass.LastSendDate = &now
	if err := m.db.Model(mass).Updates(map[string]interface{}{
		"state":          state,
		"error_message":  errMsg,
		"last_send_date": now,
	}).Error; err != nil {
		log.Error().Err(err).Uint("campaign", mass.ID).Msg("Campaign state store failed")
	}
}

// ProcessScheduled runs every due scheduled campaign. Called from cron.
func (m *MassSendService) ProcessScheduled(ctx context.Context) {
	var due []models.MassSend
	err := m.db.Where("state = ? AND cron_enabled = ? AND scheduled_at <= ?",
		models.MassScheduled, true, time.Now()).Find(&due).Error
	if err != nil {
		log.Error().Err(err).Msg("Scheduled campaign query failed")
		return
	}
	for i := range due {
		if err := m.Run(ctx, &due[i]); err != nil {
			log.Error().Err(err).Uint("campaign", due[i].ID).Msg("Campaign run failed")
		}
	}
}
