package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waconnect/internal/models"
)

func TestContactCreationWithPushName(t *testing.T) {
	s := NewContactService(newTestDB(t))

	contact, err := s.GetOrCreate("5511999998888", "Maria", false)
	require.NoError(t, err)
	assert.Equal(t, "Maria", contact.Name)
}

func TestContactCreationWithoutPushName(t *testing.T) {
	s := NewContactService(newTestDB(t))

	contact, err := s.GetOrCreate("5511999998888", "", false)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultContactName, contact.Name)
}

func TestContactIsUniquePerMobile(t *testing.T) {
	s := NewContactService(newTestDB(t))

	first, err := s.GetOrCreate("5511999998888", "", false)
	require.NoError(t, err)
	second, err := s.GetOrCreate("5511999998888", "", false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, s.db.Model(&models.Contact{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestPushNameUpgradesPlaceholder(t *testing.T) {
	s := NewContactService(newTestDB(t))

	contact, err := s.GetOrCreate("5511999998888", "", false)
	require.NoError(t, err)
	require.Equal(t, models.DefaultContactName, contact.Name)

	contact, err = s.GetOrCreate("5511999998888", "Maria", false)
	require.NoError(t, err)
	assert.Equal(t, "Maria", contact.Name)
}

func TestPushNameNeverOverwritesRealName(t *testing.T) {
	s := NewContactService(newTestDB(t))

	_, err := s.GetOrCreate("5511999998888", "Maria", false)
	require.NoError(t, err)

	contact, err := s.GetOrCreate("5511999998888", "SomeoneElse", false)
	require.NoError(t, err)
	assert.Equal(t, "Maria", contact.Name)
}

func TestFromMeNeverClaimsPushName(t *testing.T) {
	s := NewContactService(newTestDB(t))

	contact, err := s.GetOrCreate("5511999998888", "MyOwnProfile", true)
	require.NoError(t, err)
	assert.Equal(t, "5511999998888", contact.Name)

	// A later inbound message with the real push name still applies.
	contact, err = s.GetOrCreate("5511999998888", "Maria", false)
	require.NoError(t, err)
	assert.Equal(t, "Maria", contact.Name)
}

func TestBackfillConversationNames(t *testing.T) {
	database := newTestDB(t)
	s := NewContactService(database)

	contact, err := s.GetOrCreate("5511999998888", "", false)
	require.NoError(t, err)

	conv := models.Conversation{Name: contact.Mobile, ContactID: contact.ID}
	require.NoError(t, database.Create(&conv).Error)
	named := models.Conversation{Name: "VIP thread", ContactID: contact.ID}
	require.NoError(t, database.Create(&named).Error)

	contact, err = s.GetOrCreate("5511999998888", "Maria", false)
	require.NoError(t, err)
	require.NoError(t, s.BackfillConversationNames(contact))

	var reloaded models.Conversation
	require.NoError(t, database.First(&reloaded, conv.ID).Error)
	assert.Equal(t, "Maria", reloaded.Name)

	reloaded = models.Conversation{}
	require.NoError(t, database.First(&reloaded, named.ID).Error)
	assert.Equal(t, "VIP thread", reloaded.Name)
}
