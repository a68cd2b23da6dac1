package services

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"waconnect/internal/models"
)

// ContactService owns the canonical contact table. Contacts are unique per
// mobile across all accounts.
type ContactService struct {
	db *gorm.DB
}

func NewContactService(db *gorm.DB) *ContactService {
	return &ContactService{db: db}
}

// GetOrCreate resolves the contact for a mobile, creating a placeholder row
// when none exists. Naming follows the push-name rules: a push name is only
// applied when the stored name is empty, equals the mobile, or equals the
// placeholder. Messages sent from the account itself never claim a push name
// for the contact.
func (s *ContactService) GetOrCreate(mobile, pushName string, fromMe bool) (*models.Contact, error) {
	if mobile == "" {
		return nil, fmt.Errorf("contacts: empty mobile")
	}

	var contact models.Contact
	err := s.db.Where("mobile = ?", mobile).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		contact = models.Contact{
			Mobile: mobile,
			Name:   models.DefaultContactName,
		}
		if pushName != "" && !fromMe {
			contact.Name = pushName
		} else if fromMe {
			contact.Name = mobile
		}
		if err := s.db.Create(&contact).Error; err != nil {
			return nil, fmt.Errorf("contacts: create %s: %w", mobile, err)
		}
		log.Info().Str("mobile", mobile).Str("name", contact.Name).Msg("Created contact")
		return &contact, nil
	}
	if err != nil {
		return nil, fmt.Errorf("contacts: lookup %s: %w", mobile, err)
	}

	if updated := s.applyPushName(&contact, pushName, fromMe); updated {
		if err := s.db.Model(&contact).Update("name", contact.Name).Error; err != nil {
			return nil, fmt.Errorf("contacts: rename %s: %w", mobile, err)
		}
	}
	return &contact, nil
}

func (s *ContactService) applyPushName(contact *models.Contact, pushName string, fromMe bool) bool {
	if fromMe {
		if contact.Name == models.DefaultContactName {
			contact.Name = contact.Mobile
			return true
		}
		return false
	}
	if pushName == "" || pushName == contact.Name {
		return false
	}
	if contact.Name == "" || contact.Name == contact.Mobile || contact.Name == models.DefaultContactName {
		contact.Name = pushName
		return true
	}
	return false
}

// BackfillConversationNames propagates a contact rename into conversations
// that were still titled with the bare mobile.
func (s *ContactService) BackfillConversationNames(contact *models.Contact) error {
	return s.db.Model(&models.Conversation{}).
		Where("contact_id = ? AND (name = ? OR name = '')", contact.ID, contact.Mobile).
		Update("name", contact.Name).Error
}

// SetAvatar stores a freshly fetched profile image.
func (s *ContactService) SetAvatar(contact *models.Contact, img []byte) error {
	contact.Avatar = img
	return s.db.Model(contact).Update("avatar", img).Error
}
