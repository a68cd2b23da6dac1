package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"waconnect/internal/adapters"
	"waconnect/internal/models"
)

func setupOutbound(t *testing.T) (*gorm.DB, *OutboundService, *fakeProvider, *models.Account, *models.Conversation) {
	t.Helper()
	database := newTestDB(t)
	provider := &fakeProvider{kind: models.ProviderEvolution}
	registry := adapters.NewRegistry(provider)

	acct := &models.Account{Name: "Main", Provider: models.ProviderEvolution}
	require.NoError(t, database.Create(acct).Error)
	contact := &models.Contact{Name: "Maria", Mobile: "5511999998888"}
	require.NoError(t, database.Create(contact).Error)
	conv := &models.Conversation{Name: "Maria", ContactID: contact.ID, AccountID: &acct.ID}
	require.NoError(t, database.Create(conv).Error)

	return database, NewOutboundService(database, registry), provider, acct, conv
}

func TestSendTextRecordsOutputMessage(t *testing.T) {
	database, s, provider, acct, conv := setupOutbound(t)

	msg, err := s.SendText(context.Background(), acct, conv, "hello there")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello there"}, provider.sent)
	assert.Equal(t, models.DirectionOutput, msg.Direction)
	assert.Equal(t, "OUT1", msg.WAMessageID)

	var stored models.Message
	require.NoError(t, database.First(&stored, msg.ID).Error)
	assert.Equal(t, "hello there", stored.Body)
}

func TestSendTextFailureKeepsPostedMessage(t *testing.T) {
	database, s, provider, acct, conv := setupOutbound(t)
	provider.failSend = true

	msg, err := s.SendText(context.Background(), acct, conv, "hello")
	require.Error(t, err)
	require.NotNil(t, msg)

	// The post survives the provider failure, just without an external id.
	var stored models.Message
	require.NoError(t, database.First(&stored, msg.ID).Error)
	assert.Equal(t, "hello", stored.Body)
	assert.Empty(t, stored.WAMessageID)
}

func TestSendReplyThreadsParent(t *testing.T) {
	database, s, _, acct, conv := setupOutbound(t)

	parent := models.Message{ConversationID: conv.ID, WAMessageID: "WA1", Direction: models.DirectionInput, Body: "question"}
	require.NoError(t, database.Create(&parent).Error)

	msg, err := s.SendReply(context.Background(), acct, conv, "answer", &parent)
	require.NoError(t, err)
	require.NotNil(t, msg.ParentID)
	assert.Equal(t, parent.ID, *msg.ParentID)
}

func TestSendMediaStoresAttachment(t *testing.T) {
	database, s, _, acct, conv := setupOutbound(t)

	media := adapters.Media{Caption: "the invoice", MimeType: "application/pdf", FileName: "invoice.pdf", B64: "aGVsbG8="}
	msg, err := s.SendMedia(context.Background(), acct, conv, media, []byte("hello"))
	require.NoError(t, err)

	var att models.Attachment
	require.NoError(t, database.Where("message_id = ?", msg.ID).First(&att).Error)
	assert.Equal(t, "invoice.pdf", att.FileName)
	assert.Equal(t, []byte("hello"), att.Data)
}

func TestSendReactionMirrorsLocally(t *testing.T) {
	database, s, _, acct, conv := setupOutbound(t)

	target := models.Message{ConversationID: conv.ID, WAMessageID: "WA1", Direction: models.DirectionInput, Body: "nice"}
	require.NoError(t, database.Create(&target).Error)

	require.NoError(t, s.SendReaction(context.Background(), acct, conv, &target, "👍"))

	var reaction models.Reaction
	require.NoError(t, database.First(&reaction).Error)
	assert.True(t, reaction.FromSelf)
	assert.Equal(t, "👍", reaction.Emoji)

	// Empty emoji removes the mirrored row.
	require.NoError(t, s.SendReaction(context.Background(), acct, conv, &target, ""))
	var count int64
	require.NoError(t, database.Model(&models.Reaction{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestSendReactionRequiresProviderID(t *testing.T) {
	_, s, _, acct, conv := setupOutbound(t)
	target := models.Message{ConversationID: conv.ID, Direction: models.DirectionInput}
	err := s.SendReaction(context.Background(), acct, conv, &target, "👍")
	assert.Error(t, err)
}
