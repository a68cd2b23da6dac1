package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"waconnect/internal/adapters"
	"waconnect/internal/models"
)

type massFixture struct {
	db       *gorm.DB
	service  *MassSendService
	provider *fakeProvider
	mass     *models.MassSend
}

func setupMassSend(t *testing.T) *massFixture {
	t.Helper()
	database := newTestDB(t)
	provider := &fakeProvider{kind: models.ProviderEvolution}
	registry := adapters.NewRegistry(provider)

	acct := &models.Account{Name: "Main", Provider: models.ProviderEvolution}
	require.NoError(t, database.Create(acct).Error)

	var contacts []models.Contact
	for _, mobile := range []string{"5511000000001", "5511000000002", "5511000000003"} {
		c := models.Contact{Name: "Contact " + mobile, Mobile: mobile}
		require.NoError(t, database.Create(&c).Error)
		contacts = append(contacts, c)
	}

	mass := &models.MassSend{
		Name:      "Promo",
		AccountID: acct.ID,
		Contacts:  contacts,
		Message:   "Big sale today!",
		MinDelay:  1,
		MaxDelay:  3,
		State:     models.MassDraft,
	}
	require.NoError(t, database.Create(mass).Error)

	conversations := NewConversationService(database)
	outbound := NewOutboundService(database, registry)
	service := NewMassSendService(database, outbound, conversations)
	service.sleep = func(time.Duration) {}

	return &massFixture{db: database, service: service, provider: provider, mass: mass}
}

func TestScheduleExpandsQueue(t *testing.T) {
	f := setupMassSend(t)

	require.NoError(t, f.service.Schedule(f.mass, time.Now()))
	assert.Equal(t, models.MassScheduled, f.mass.State)

	var items []models.SendQueueItem
	require.NoError(t, f.db.Where("mass_send_id = ?", f.mass.ID).Find(&items).Error)
	require.Len(t, items, 3)
	for _, item := range items {
		assert.Equal(t, models.QueuePending, item.Status)
		assert.Equal(t, "Big sale today!", item.Message)
	}
}

func TestScheduleRejectsInvalidDelays(t *testing.T) {
	f := setupMassSend(t)
	f.mass.MinDelay = 10
	f.mass.MaxDelay = 5
	require.NoError(t, f.db.Save(f.mass).Error)
	assert.Error(t, f.service.Schedule(f.mass, time.Now()))
}

func TestRunDeliversAllRecipients(t *testing.T) {
	f := setupMassSend(t)
	require.NoError(t, f.service.Schedule(f.mass, time.Now()))

	require.NoError(t, f.service.Run(context.Background(), f.mass))
	assert.Equal(t, models.MassDone, f.mass.State)
	assert.Len(t, f.provider.sent, 3)

	var sent int64
	require.NoError(t, f.db.Model(&models.SendQueueItem{}).
		Where("mass_send_id = ? AND status = ?", f.mass.ID, models.QueueSent).Count(&sent).Error)
	assert.EqualValues(t, 3, sent)

	// Each delivery is also posted into the contact's conversation.
	var msgs int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&msgs).Error)
	assert.EqualValues(t, 3, msgs)
}

func TestRunMarksErrorWhenEverythingFails(t *testing.T) {
	f := setupMassSend(t)
	require.NoError(t, f.service.Schedule(f.mass, time.Now()))
	f.provider.failSend = true

	require.NoError(t, f.service.Run(context.Background(), f.mass))
	assert.Equal(t, models.MassError, f.mass.State)

	var failed int64
	require.NoError(t, f.db.Model(&models.SendQueueItem{}).
		Where("mass_send_id = ? AND status = ?", f.mass.ID, models.QueueError).Count(&failed).Error)
	assert.EqualValues(t, 3, failed)
}

func TestReconfigureWhileSendingIsRejected(t *testing.T) {
	f := setupMassSend(t)
	f.mass.State = models.MassSending
	require.NoError(t, f.db.Save(f.mass).Error)

	err := f.service.SetCronEnabled(f.mass, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "currently sending")

	err = f.service.Schedule(f.mass, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "currently sending")
}

func TestCancelVoidsPendingItems(t *testing.T) {
	f := setupMassSend(t)
	require.NoError(t, f.service.Schedule(f.mass, time.Now()))
	require.NoError(t, f.service.Cancel(f.mass))

	var cancelled int64
	require.NoError(t, f.db.Model(&models.SendQueueItem{}).
		Where("mass_send_id = ? AND status = ?", f.mass.ID, models.QueueCancelled).Count(&cancelled).Error)
	assert.EqualValues(t, 3, cancelled)
}

func TestDelayStaysWithinBounds(t *testing.T) {
	f := setupMassSend(t)
	for i := 0; i < 50; i++ {
		d := f.service.delay(f.mass)
		assert.GreaterOrEqual(t, d, 1*time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestProcessScheduledRunsDueCampaigns(t *testing.T) {
	f := setupMassSend(t)
	require.NoError(t, f.service.Schedule(f.mass, time.Now().Add(-time.Minute)))
	require.NoError(t, f.service.SetCronEnabled(f.mass, true))

	f.service.ProcessScheduled(context.Background())

	var reloaded models.MassSend
	require.NoError(t, f.db.First(&reloaded, f.mass.ID).Error)
	assert.Equal(t, models.MassDone, reloaded.State)
}
