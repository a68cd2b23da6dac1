package services

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"waconnect/internal/models"
)

// ConversationService owns conversation threads. One conversation exists per
// (contact, account) pair; conversations created before an account was known
// get the account attached on first resolution.
type ConversationService struct {
	db *gorm.DB
}

func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{db: db}
}

// GetOrCreate resolves the thread between a contact and an account. A stray
// conversation without an account is adopted instead of creating a second
// thread for the same contact.
func (s *ConversationService) GetOrCreate(contact *models.Contact, acct *models.Account) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Where("contact_id = ? AND account_id = ?", contact.ID, acct.ID).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversations: lookup: %w", err)
	}

	err = s.db.Where("contact_id = ? AND account_id IS NULL", contact.ID).First(&conv).Error
	if err == nil {
		conv.AccountID = &acct.ID
		if updErr := s.db.Model(&conv).Update("account_id", acct.ID).Error; updErr != nil {
			return nil, fmt.Errorf("conversations: attach account: %w", updErr)
		}
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversations: lookup unbound: %w", err)
	}

	name := contact.Name
	if name == "" || name == models.DefaultContactName {
		name = contact.Mobile
	}
	conv = models.Conversation{
		Name:      name,
		ContactID: contact.ID,
		AccountID: &acct.ID,
		Avatar:    contact.Avatar,
	}
	if err := s.db.Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("conversations: create: %w", err)
	}
	log.Info().Uint("conversation", conv.ID).Str("contact", contact.Mobile).Str("account", acct.Name).Msg("Created conversation")
	return &conv, nil
}

// MarkUnread bumps the unread counter unless an operator has joined.
func (s *ConversationService) MarkUnread(conv *models.Conversation) error {
	if conv.OperatorJoined {
		return nil
	}
	conv.UnreadCount++
	return s.db.Model(conv).Update("unread_count", conv.UnreadCount).Error
}

// Join marks the thread as operator-attended and clears the counter.
func (s *ConversationService) Join(conv *models.Conversation) error {
	conv.OperatorJoined = true
	conv.UnreadCount = 0
	return s.db.Model(conv).Updates(map[string]interface{}{
		"operator_joined": true,
		"unread_count":    0,
	}).Error
}

// Leave detaches the operator; subsequent inbound messages count as unread
// again.
func (s *ConversationService) Leave(conv *models.Conversation) error {
	conv.OperatorJoined = false
	return s.db.Model(conv).Update("operator_joined", false).Error
}

// SetStage moves the thread to a kanban stage.
func (s *ConversationService) SetStage(conv *models.Conversation, stageID uint) error {
	conv.StageID = &stageID
	return s.db.Model(conv).Update("stage_id", stageID).Error
}

// AddTag labels the thread. Re-adding an existing tag is a no-op.
func (s *ConversationService) AddTag(conv *models.Conversation, tag *models.Tag) error {
	return s.db.Model(conv).Association("Tags").Append(tag)
}

// RemoveTag removes a label from the thread.
func (s *ConversationService) RemoveTag(conv *models.Conversation, tag *models.Tag) error {
	return s.db.Model(conv).Association("Tags").Delete(tag)
}

// FindMessage looks up a message by its provider id within one conversation.
func (s *ConversationService) FindMessage(convID uint, waMessageID string) (*models.Message, error) {
	if waMessageID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var msg models.Message
	err := s.db.Where("conversation_id = ? AND wa_message_id = ?", convID, waMessageID).First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
