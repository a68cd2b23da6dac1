package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"waconnect/internal/adapters"
	"waconnect/internal/models"
)

// OutboundService sends messages through the account's provider and records
// the outbound post in the conversation, keeping the provider's external id
// so later reactions and replies can reference it.
type OutboundService struct {
	db       *gorm.DB
	registry *adapters.Registry
}

func NewOutboundService(db *gorm.DB, registry *adapters.Registry) *OutboundService {
	return &OutboundService{db: db, registry: registry}
}

func (s *OutboundService) contactOf(conv *models.Conversation) (*models.Contact, error) {
	if conv.Contact != nil {
		return conv.Contact, nil
	}
	var contact models.Contact
	if err := s.db.First(&contact, conv.ContactID).Error; err != nil {
		return nil, fmt.Errorf("outbound: contact of conversation %d: %w", conv.ID, err)
	}
	conv.Contact = &contact
	return &contact, nil
}

func (s *OutboundService) record(conv *models.Conversation, body, waMessageID string, parentID *uint, atts []models.Attachment) (*models.Message, error) {
	msg := models.Message{
		ConversationID: conv.ID,
		WAMessageID:    waMessageID,
		Direction:      models.DirectionOutput,
		Body:           body,
		ParentID:       parentID,
		Attachments:    atts,
	}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("outbound: record message: %w", err)
	}
	return &msg, nil
}

// setWAID stores the provider id once the send succeeded.
func (s *OutboundService) setWAID(msg *models.Message, waID string) error {
	if waID == "" {
		return nil
	}
	msg.WAMessageID = waID
	return s.db.Model(msg).Update("wa_message_id", waID).Error
}

// SendText posts an output message and delivers it through the provider.
// The post always survives; a provider failure is reported alongside the
// stored message.
func (s *OutboundService) SendText(ctx context.Context, acct *models.Account, conv *models.Conversation, text string) (*models.Message, error) {
	contact, err := s.contactOf(conv)
	if err != nil {
		return nil, err
	}
	provider, err := s.registry.For(acct)
	if err != nil {
		return nil, err
	}
	msg, err := s.record(conv, text, "", nil, nil)
	if err != nil {
		return nil, err
	}
	res := provider.SendText(ctx, acct, contact.Mobile, text)
	if !res.OK {
		return msg, fmt.Errorf("outbound: send text via %s: %s", acct.Provider, res.Error)
	}
	log.Debug().Str("account", acct.Name).Str("mobile", contact.Mobile).Str("wa_id", res.ID).Msg("Sent text message")
	return msg, s.setWAID(msg, res.ID)
}

// SendMedia delivers inline media and posts it with the attachment attached.
func (s *OutboundService) SendMedia(ctx context.Context, acct *models.Account, conv *models.Conversation, media adapters.Media, data []byte) (*models.Message, error) {
	contact, err := s.contactOf(conv)
	if err != nil {
		return nil, err
	}
	provider, err := s.registry.For(acct)
	if err != nil {
		return nil, err
	}
	atts := []models.Attachment{{
		FileName: media.FileName,
		MimeType: media.MimeType,
		Data:     data,
	}}
	msg, err := s.record(conv, media.Caption, "", nil, atts)
	if err != nil {
		return nil, err
	}
	res := provider.SendMedia(ctx, acct, contact.Mobile, media)
	if !res.OK {
		return msg, fmt.Errorf("outbound: send media via %s: %s", acct.Provider, res.Error)
	}
	return msg, s.setWAID(msg, res.ID)
}

// SendReply delivers a quoted reply to an earlier message. When the parent
// has no provider id the message goes out unquoted.
func (s *OutboundService) SendReply(ctx context.Context, acct *models.Account, conv *models.Conversation, text string, parent *models.Message) (*models.Message, error) {
	contact, err := s.contactOf(conv)
	if err != nil {
		return nil, err
	}
	provider, err := s.registry.For(acct)
	if err != nil {
		return nil, err
	}
	replyTo := ""
	var parentID *uint
	if parent != nil {
		replyTo = parent.WAMessageID
		parentID = &parent.ID
	}
	msg, err := s.record(conv, text, "", parentID, nil)
	if err != nil {
		return nil, err
	}
	res := provider.SendReply(ctx, acct, contact.Mobile, text, replyTo)
	if !res.OK {
		return msg, fmt.Errorf("outbound: send reply via %s: %s", acct.Provider, res.Error)
	}
	return msg, s.setWAID(msg, res.ID)
}

// SendReaction reacts to a stored message on the provider side and mirrors
// the reaction locally. An empty emoji removes the reaction.
func (s *OutboundService) SendReaction(ctx context.Context, acct *models.Account, conv *models.Conversation, target *models.Message, emoji string) error {
	contact, err := s.contactOf(conv)
	if err != nil {
		return err
	}
	provider, err := s.registry.For(acct)
	if err != nil {
		return err
	}
	if target.WAMessageID == "" {
		return fmt.Errorf("outbound: message %d has no provider id", target.ID)
	}
	key := adapters.MessageKey{
		RemoteJID: contact.Mobile + "@s.whatsapp.net",
		ID:        target.WAMessageID,
		FromMe:    target.Direction == models.DirectionOutput,
	}
	res := provider.SendReaction(ctx, acct, key, emoji)
	if !res.OK {
		return fmt.Errorf("outbound: send reaction via %s: %s", acct.Provider, res.Error)
	}

	if emoji == "" {
		return s.db.Where("message_id = ? AND from_self = ?", target.ID, true).Delete(&models.Reaction{}).Error
	}
	reaction := models.Reaction{
		MessageID: target.ID,
		ContactID: contact.ID,
		Emoji:     emoji,
		FromSelf:  true,
	}
	return s.db.Create(&reaction).Error
}
