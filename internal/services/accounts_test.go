package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waconnect/internal/adapters"
	"waconnect/internal/models"
)

func setupAccounts(t *testing.T) (*AccountService, *fakeProvider) {
	t.Helper()
	database := newTestDB(t)
	provider := &fakeProvider{kind: models.ProviderEvolution}
	registry := adapters.NewRegistry(provider)
	return NewAccountService(database, registry, "https://gw.example.com/"), provider
}

func TestAccountCreation(t *testing.T) {
	s, _ := setupAccounts(t)

	acct, err := s.Create("My Company Sales", models.ProviderEvolution, "https://evo.example.com/", "key123")
	require.NoError(t, err)

	assert.Equal(t, "my_company_sales", acct.InstanceName)
	assert.Equal(t, models.StateNotCreated, acct.State)
	assert.NotEmpty(t, acct.WebhookUUID)
	assert.NotEmpty(t, acct.WebhookSecret)
	assert.NotEqual(t, acct.WebhookUUID, acct.WebhookSecret)
	assert.Equal(t, "https://gw.example.com/wa/webhook/"+acct.WebhookUUID, acct.WebhookURL)
	assert.Equal(t, "https://evo.example.com", acct.APIURL)
}

func TestInstanceLifecycle(t *testing.T) {
	s, _ := setupAccounts(t)
	ctx := context.Background()

	acct, err := s.Create("Main", models.ProviderEvolution, "https://evo.example.com", "key")
	require.NoError(t, err)

	require.NoError(t, s.CreateInstance(ctx, acct))
	assert.True(t, acct.InstanceCreated)
	assert.Equal(t, models.StateDisconnected, acct.State)

	qr, err := s.Connect(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, "QRDATA", qr)
	assert.Equal(t, models.StateConnecting, acct.State)

	state, err := s.CheckStatus(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, models.StateConnected, state)

	require.NoError(t, s.Disconnect(ctx, acct))
	assert.Equal(t, models.StateDisconnected, acct.State)
	assert.Empty(t, acct.QRCode)

	require.NoError(t, s.Delete(ctx, acct))
	_, err = s.ByID(acct.ID)
	assert.Error(t, err)
}

func TestResolveOrder(t *testing.T) {
	s, _ := setupAccounts(t)

	first, err := s.Create("First", models.ProviderEvolution, "https://evo.example.com", "key")
	require.NoError(t, err)
	second, err := s.Create("Second", models.ProviderEvolution, "https://evo.example.com", "key")
	require.NoError(t, err)

	// Path uuid wins over everything else.
	acct, err := s.Resolve(first.WebhookUUID, second.WebhookUUID, second.WebhookSecret, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, acct.ID)

	// Header uuid next.
	acct, err = s.Resolve("", second.WebhookUUID, first.WebhookSecret, nil)
	require.NoError(t, err)
	assert.Equal(t, second.ID, acct.ID)

	// Secret header next.
	acct, err = s.Resolve("", "", first.WebhookSecret, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, acct.ID)

	// Finally the instance name from the payload.
	acct, err = s.Resolve("", "", "", map[string]interface{}{"instance": "second"})
	require.NoError(t, err)
	assert.Equal(t, second.ID, acct.ID)

	acct, err = s.Resolve("", "", "", map[string]interface{}{
		"data": map[string]interface{}{"instance": "first"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, acct.ID)

	_, err = s.Resolve("", "", "", map[string]interface{}{"instance": "nobody"})
	assert.Error(t, err)

	_, err = s.Resolve("", "", "", nil)
	assert.Error(t, err)
}
