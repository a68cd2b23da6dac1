package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"waconnect/internal/models"
)

func conversationFixture(t *testing.T) (*gorm.DB, *ConversationService, *models.Contact, *models.Account) {
	t.Helper()
	database := newTestDB(t)
	contact := &models.Contact{Name: "Maria", Mobile: "5511999998888"}
	require.NoError(t, database.Create(contact).Error)
	acct := &models.Account{Name: "Main", Provider: models.ProviderEvolution}
	require.NoError(t, database.Create(acct).Error)
	return database, NewConversationService(database), contact, acct
}

func TestConversationIsUniquePerContactAndAccount(t *testing.T) {
	database, s, contact, acct := conversationFixture(t)

	first, err := s.GetOrCreate(contact, acct)
	require.NoError(t, err)
	second, err := s.GetOrCreate(contact, acct)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, database.Model(&models.Conversation{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestConversationAdoptsUnboundThread(t *testing.T) {
	database, s, contact, acct := conversationFixture(t)

	orphan := models.Conversation{Name: "old thread", ContactID: contact.ID}
	require.NoError(t, database.Create(&orphan).Error)

	conv, err := s.GetOrCreate(contact, acct)
	require.NoError(t, err)
	assert.Equal(t, orphan.ID, conv.ID)
	require.NotNil(t, conv.AccountID)
	assert.Equal(t, acct.ID, *conv.AccountID)
}

func TestUnreadCounterRules(t *testing.T) {
	database, s, contact, acct := conversationFixture(t)

	conv, err := s.GetOrCreate(contact, acct)
	require.NoError(t, err)

	require.NoError(t, s.MarkUnread(conv))
	require.NoError(t, s.MarkUnread(conv))
	assert.Equal(t, 2, conv.UnreadCount)

	require.NoError(t, s.Join(conv))
	assert.Equal(t, 0, conv.UnreadCount)

	// No growth while an operator is attending.
	require.NoError(t, s.MarkUnread(conv))
	assert.Equal(t, 0, conv.UnreadCount)

	require.NoError(t, s.Leave(conv))
	require.NoError(t, s.MarkUnread(conv))

	var reloaded models.Conversation
	require.NoError(t, database.First(&reloaded, conv.ID).Error)
	assert.Equal(t, 1, reloaded.UnreadCount)
	assert.False(t, reloaded.OperatorJoined)
}

func TestStageAndTags(t *testing.T) {
	database, s, contact, acct := conversationFixture(t)

	conv, err := s.GetOrCreate(contact, acct)
	require.NoError(t, err)

	stage := models.Stage{Name: "Qualified", Sequence: 2}
	require.NoError(t, database.Create(&stage).Error)
	require.NoError(t, s.SetStage(conv, stage.ID))

	tag := models.Tag{Name: "vip"}
	require.NoError(t, database.Create(&tag).Error)
	require.NoError(t, s.AddTag(conv, &tag))

	var reloaded models.Conversation
	require.NoError(t, database.Preload("Tags").First(&reloaded, conv.ID).Error)
	require.NotNil(t, reloaded.StageID)
	assert.Equal(t, stage.ID, *reloaded.StageID)
	require.Len(t, reloaded.Tags, 1)
	assert.Equal(t, "vip", reloaded.Tags[0].Name)

	require.NoError(t, s.RemoveTag(conv, &tag))
	require.NoError(t, database.Preload("Tags").First(&reloaded, conv.ID).Error)
	assert.Empty(t, reloaded.Tags)
}

func TestFindMessageByProviderID(t *testing.T) {
	database, s, contact, acct := conversationFixture(t)

	conv, err := s.GetOrCreate(contact, acct)
	require.NoError(t, err)

	msg := models.Message{ConversationID: conv.ID, WAMessageID: "WA1", Direction: models.DirectionInput, Body: "hi"}
	require.NoError(t, database.Create(&msg).Error)

	found, err := s.FindMessage(conv.ID, "WA1")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, found.ID)

	_, err = s.FindMessage(conv.ID, "WA2")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = s.FindMessage(conv.ID, "")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
