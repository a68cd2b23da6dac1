package bot

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"waconnect/internal/models"
)

// ExpireStale closes every active session that outlived its bot's timeout.
// Called from cron; the same expiry rule the lazy check applies, so a
// session expires identically whichever check reaches it first.
func (e *Engine) ExpireStale(ctx context.Context) {
	var sessions []models.BotSession
	if err := e.db.Where("state = ?", models.SessionActive).Find(&sessions).Error; err != nil {
		log.Error().Err(err).Msg("Stale session query failed")
		return
	}

	now := time.Now()
	expired := 0
	for i := range sessions {
		session := &sessions[i]

		var b models.Bot
		if err := e.db.First(&b, session.BotID).Error; err != nil {
			log.Warn().Err(err).Uint("session", session.ID).Msg("Session bot missing")
			continue
		}
		if !session.IsExpired(b.SessionTimeout, now) {
			continue
		}

		lock := e.lockFor(session.BotID, session.ConversationID)
		lock.Lock()
		var conv models.Conversation
		var contact models.Contact
		if err := e.db.First(&conv, session.ConversationID).Error; err != nil {
			lock.Unlock()
			continue
		}
		if err := e.db.First(&contact, session.ContactID).Error; err != nil {
			lock.Unlock()
			continue
		}
		var acct models.Account
		if conv.AccountID != nil {
			if err := e.db.First(&acct, *conv.AccountID).Error; err != nil {
				lock.Unlock()
				continue
			}
		}
		if err := e.expire(ctx, &acct, &conv, &contact, &b, session); err != nil {
			log.Error().Err(err).Uint("session", session.ID).Msg("Session expiry failed")
		} else {
			expired++
		}
		lock.Unlock()
	}

	if expired > 0 {
		log.Info().Int("expired", expired).Msg("Stale bot sessions closed")
	}
}
