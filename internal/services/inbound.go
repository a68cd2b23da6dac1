package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/vincent-petithory/dataurl"
	"gorm.io/gorm"

	"waconnect/internal/adapters"
	"waconnect/internal/dto"
	"waconnect/internal/models"
)

// BotHandler is the automation hook the pipeline invokes for inbound contact
// messages on bot-enabled accounts.
type BotHandler interface {
	HandleIncoming(ctx context.Context, acct *models.Account, conv *models.Conversation, contact *models.Contact, text string) error
}

// EventSink receives every processed inbound message for fan-out to external
// consumers.
type EventSink interface {
	Publish(event map[string]interface{})
}

// InboundService turns raw webhook payloads into contacts, conversations and
// posted messages. Processing is per-message best-effort: one malformed item
// in a batch does not fail the rest.
type InboundService struct {
	db            *gorm.DB
	registry      *adapters.Registry
	contacts      *ContactService
	conversations *ConversationService
	bot           BotHandler
	sink          EventSink

	// avatarCache suppresses repeated profile image fetches per mobile.
	avatarCache *cache.Cache
}

func NewInboundService(db *gorm.DB, registry *adapters.Registry, contacts *ContactService, conversations *ConversationService) *InboundService {
	return &InboundService{
		db:            db,
		registry:      registry,
		contacts:      contacts,
		conversations: conversations,
		avatarCache:   cache.New(24*time.Hour, time.Hour),
	}
}

// SetBotHandler wires the automation engine. Optional.
func (s *InboundService) SetBotHandler(h BotHandler) { s.bot = h }

// SetEventSink wires the external fan-out. Optional.
func (s *InboundService) SetEventSink(sink EventSink) { s.sink = sink }

// Handle processes one raw webhook payload for an account.
func (s *InboundService) Handle(ctx context.Context, acct *models.Account, raw map[string]interface{}) error {
	provider, err := s.registry.For(acct)
	if err != nil {
		return err
	}

	if ev, ok := provider.NormalizeControl(raw); ok {
		s.applyControlEvent(acct, ev)
		return nil
	}

	for _, msg := range provider.Normalize(acct, raw) {
		if err := s.process(ctx, acct, msg); err != nil {
			log.Error().Err(err).Str("account", acct.Name).Str("wa_id", msg.MessageID).Msg("Inbound message processing failed")
		}
	}
	return nil
}

// applyControlEvent persists the instance state an adapter extracted from a
// control payload.
func (s *InboundService) applyControlEvent(acct *models.Account, ev dto.ControlEvent) {
	switch ev.Kind {
	case dto.ControlConnection:
		if ev.State == "" {
			return
		}
		acct.State = models.ConnectionState(ev.State)
		if err := s.db.Model(acct).Update("state", acct.State).Error; err != nil {
			log.Error().Err(err).Str("account", acct.Name).Msg("Failed to persist connection state")
		}
		log.Info().Str("account", acct.Name).Str("state", string(acct.State)).Msg("Connection state updated")
	case dto.ControlQRCode:
		if ev.QRCode == "" {
			return
		}
		acct.QRCode = ev.QRCode
		if err := s.db.Model(acct).Update("qr_code", ev.QRCode).Error; err != nil {
			log.Error().Err(err).Str("account", acct.Name).Msg("Failed to persist QR code")
		}
	}
}

func (s *InboundService) process(ctx context.Context, acct *models.Account, msg dto.CanonicalMessage) error {
	if ref, ok := msg.Reaction(); ok {
		return s.processReaction(acct, msg, ref)
	}
	if msg.Mobile == "" {
		// Group, broadcast or status traffic.
		return nil
	}
	if msg.Message == "" && !msg.HasAttachment() {
		return nil
	}

	contact, err := s.contacts.GetOrCreate(msg.Mobile, msg.PushName, msg.FromMe)
	if err != nil {
		return err
	}
	if err := s.contacts.BackfillConversationNames(contact); err != nil {
		log.Warn().Err(err).Str("mobile", contact.Mobile).Msg("Conversation name backfill failed")
	}

	conv, err := s.conversations.GetOrCreate(contact, acct)
	if err != nil {
		return err
	}
	s.refreshAvatar(ctx, acct, contact, conv)

	if msg.MessageID != "" {
		if _, err := s.conversations.FindMessage(conv.ID, msg.MessageID); err == nil {
			log.Debug().Str("wa_id", msg.MessageID).Uint("conversation", conv.ID).Msg("Duplicate message dropped")
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("inbound: dedup lookup: %w", err)
		}
	}

	var parentID *uint
	if quoted := msg.QuotedID(); quoted != "" {
		if parent, err := s.conversations.FindMessage(conv.ID, quoted); err == nil {
			parentID = &parent.ID
		}
	}

	stored, err := s.post(conv, msg, parentID)
	if err != nil {
		return err
	}

	if !msg.FromMe {
		if err := s.conversations.MarkUnread(conv); err != nil {
			log.Warn().Err(err).Uint("conversation", conv.ID).Msg("Unread counter update failed")
		}
		if s.bot != nil && acct.BotEnabled && msg.Message != "" {
			if err := s.bot.HandleIncoming(ctx, acct, conv, contact, msg.Message); err != nil {
				log.Error().Err(err).Uint("conversation", conv.ID).Msg("Bot handling failed")
			}
		}
	}

	if s.sink != nil {
		s.sink.Publish(map[string]interface{}{
			"type":            "message",
			"account":         acct.Name,
			"provider":        string(acct.Provider),
			"conversation_id": conv.ID,
			"contact":         contact.Mobile,
			"message_id":      stored.ID,
			"wa_message_id":   stored.WAMessageID,
			"from_me":         msg.FromMe,
			"body":            stored.Body,
			"has_attachment":  msg.HasAttachment(),
			"timestamp":       stored.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return nil
}

// post persists the message, decoding inline media. Attachments arrive as
// plain base64 or as a full data URI.
func (s *InboundService) post(conv *models.Conversation, msg dto.CanonicalMessage, parentID *uint) (*models.Message, error) {
	direction := models.DirectionInput
	if msg.FromMe {
		direction = models.DirectionOutput
	}

	stored := models.Message{
		ConversationID: conv.ID,
		WAMessageID:    msg.MessageID,
		Direction:      direction,
		Body:           msg.Message,
		ParentID:       parentID,
	}

	if msg.HasAttachment() {
		data, mime, err := decodeAttachment(msg.AttachmentB64, msg.MimeType)
		if err != nil {
			log.Warn().Err(err).Str("wa_id", msg.MessageID).Msg("Attachment decode failed, posting text only")
		} else {
			name := msg.AttachmentName
			if name == "" {
				name = adapters.SynthesizeFileName(mime, time.Now())
			}
			stored.Attachments = []models.Attachment{{
				FileName: name,
				MimeType: mime,
				Data:     data,
			}}
		}
	}

	if err := s.db.Create(&stored).Error; err != nil {
		return nil, fmt.Errorf("inbound: post message: %w", err)
	}
	return &stored, nil
}

func decodeAttachment(b64, mime string) ([]byte, string, error) {
	if strings.HasPrefix(b64, "data:") {
		du, err := dataurl.DecodeString(b64)
		if err != nil {
			return nil, "", fmt.Errorf("data uri: %w", err)
		}
		if mime == "" {
			mime = du.MediaType.ContentType()
		}
		return du.Data, mime, nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(b64)
	}
	if err != nil {
		return nil, "", fmt.Errorf("base64: %w", err)
	}
	return data, mime, nil
}

// processReaction binds an emoji to a stored message. Unknown targets are
// dropped silently: the referenced message may predate this system.
func (s *InboundService) processReaction(acct *models.Account, msg dto.CanonicalMessage, ref dto.ReactionRef) error {
	if msg.Mobile == "" {
		return nil
	}
	contact, err := s.contacts.GetOrCreate(msg.Mobile, msg.PushName, msg.FromMe)
	if err != nil {
		return err
	}
	conv, err := s.conversations.GetOrCreate(contact, acct)
	if err != nil {
		return err
	}
	target, err := s.conversations.FindMessage(conv.ID, ref.TargetID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Debug().Str("target", ref.TargetID).Uint("conversation", conv.ID).Msg("Reaction target unknown, dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("inbound: reaction target lookup: %w", err)
	}

	if ref.Emoji == "" {
		return s.db.Where("message_id = ? AND contact_id = ? AND from_self = ?", target.ID, contact.ID, ref.FromMe).
			Delete(&models.Reaction{}).Error
	}

	var existing models.Reaction
	err = s.db.Where("message_id = ? AND contact_id = ? AND from_self = ?", target.ID, contact.ID, ref.FromMe).
		First(&existing).Error
	if err == nil {
		existing.Emoji = ref.Emoji
		return s.db.Model(&existing).Update("emoji", ref.Emoji).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("inbound: reaction lookup: %w", err)
	}
	return s.db.Create(&models.Reaction{
		MessageID: target.ID,
		ContactID: contact.ID,
		Emoji:     ref.Emoji,
		FromSelf:  ref.FromMe,
	}).Error
}

// refreshAvatar fetches the profile image at most once per cache window and
// seeds both the contact and the conversation.
func (s *InboundService) refreshAvatar(ctx context.Context, acct *models.Account, contact *models.Contact, conv *models.Conversation) {
	if len(contact.Avatar) > 0 {
		return
	}
	if _, attempted := s.avatarCache.Get(contact.Mobile); attempted {
		return
	}
	s.avatarCache.Set(contact.Mobile, true, cache.DefaultExpiration)

	provider, err := s.registry.For(acct)
	if err != nil {
		return
	}
	img, err := provider.ProfileImage(ctx, acct, contact.Mobile+"@s.whatsapp.net")
	if err != nil {
		log.Debug().Err(err).Str("mobile", contact.Mobile).Msg("Profile image not available")
		return
	}
	if err := s.contacts.SetAvatar(contact, img); err != nil {
		log.Warn().Err(err).Str("mobile", contact.Mobile).Msg("Avatar store failed")
		return
	}
	conv.Avatar = img
	if err := s.db.Model(conv).Update("avatar", img).Error; err != nil {
		log.Warn().Err(err).Uint("conversation", conv.ID).Msg("Conversation avatar store failed")
	}
}
