package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"waconnect/internal/adapters"
	"waconnect/internal/models"
)

// AccountService owns provider accounts and their instance lifecycle.
type AccountService struct {
	db            *gorm.DB
	registry      *adapters.Registry
	publicBaseURL string
}

func NewAccountService(db *gorm.DB, registry *adapters.Registry, publicBaseURL string) *AccountService {
	return &AccountService{db: db, registry: registry, publicBaseURL: publicBaseURL}
}

// Create registers a new account with freshly generated webhook credentials.
// The provider-side instance is not provisioned yet.
func (s *AccountService) Create(name string, provider models.ProviderKind, apiURL, apiKey string) (*models.Account, error) {
	if name == "" {
		return nil, fmt.Errorf("accounts: empty name")
	}
	webhookUUID := uuid.New().String()
	acct := models.Account{
		Name:          name,
		Provider:      provider,
		State:         models.StateNotCreated,
		APIURL:        strings.TrimRight(apiURL, "/"),
		APIKey:        apiKey,
		InstanceName:  adapters.InstanceSlug(name),
		WebhookUUID:   webhookUUID,
		WebhookSecret: uuid.New().String(),
		WebhookURL:    strings.TrimRight(s.publicBaseURL, "/") + "/wa/webhook/" + webhookUUID,
	}
	if err := s.db.Create(&acct).Error; err != nil {
		return nil, fmt.Errorf("accounts: create %s: %w", name, err)
	}
	log.Info().Str("account", acct.Name).Str("provider", string(provider)).Msg("Created account")
	return &acct, nil
}

// CreateInstance provisions the instance at the provider.
func (s *AccountService) CreateInstance(ctx context.Context, acct *models.Account) error {
	provider, err := s.registry.For(acct)
	if err != nil {
		return err
	}
	res := provider.CreateInstance(ctx, acct)
	if !res.OK {
		return fmt.Errorf("accounts: create instance for %s: %s", acct.Name, res.Error)
	}
	acct.InstanceCreated = true
	acct.State = models.StateDisconnected
	if err := s.db.Model(acct).Updates(map[string]interface{}{
		"instance_created": true,
		"state":            acct.State,
	}).Error; err != nil {
		return fmt.Errorf("accounts: persist instance creation: %w", err)
	}
	log.Info().Str("account", acct.Name).Msg("Provider instance created")
	return nil
}

// Connect starts pairing and stores the QR code when the provider delivers
// one.
func (s *AccountService) Connect(ctx context.Context, acct *models.Account) (string, error) {
	provider, err := s.registry.For(acct)
	if err != nil {
		return "", err
	}
	qr, res := provider.Connect(ctx, acct)
	if !res.OK {
		return "", fmt.Errorf("accounts: connect %s: %s", acct.Name, res.Error)
	}
	acct.QRCode = qr
	acct.State = models.StateConnecting
	if err := s.db.Model(acct).Updates(map[string]interface{}{
		"qr_code": qr,
		"state":   acct.State,
	}).Error; err != nil {
		return "", fmt.Errorf("accounts: persist connect: %w", err)
	}
	return qr, nil
}

// CheckStatus asks the provider for the live connection state and persists
// it.
func (s *AccountService) CheckStatus(ctx context.Context, acct *models.Account) (models.ConnectionState, error) {
	provider, err := s.registry.For(acct)
	if err != nil {
		return acct.State, err
	}
	state, err := provider.ConnectionState(ctx, acct)
	if err != nil {
		return acct.State, err
	}
	if state != acct.State {
		acct.State = state
		if err := s.db.Model(acct).Update("state", state).Error; err != nil {
			return state, fmt.Errorf("accounts: persist state: %w", err)
		}
		log.Info().Str("account", acct.Name).Str("state", string(state)).Msg("Connection state refreshed")
	}
	return state, nil
}

// Restart bounces the provider instance.
func (s *AccountService) Restart(ctx context.Context, acct *models.Account) error {
	provider, err := s.registry.For(acct)
	if err != nil {
		return err
	}
	res := provider.Restart(ctx, acct)
	if !res.OK {
		return fmt.Errorf("accounts: restart %s: %s", acct.Name, res.Error)
	}
	acct.State = models.StateConnecting
	return s.db.Model(acct).Update("state", acct.State).Error
}

// Disconnect logs the instance out. The instance keeps existing and can be
// paired again later.
func (s *AccountService) Disconnect(ctx context.Context, acct *models.Account) error {
	provider, err := s.registry.For(acct)
	if err != nil {
		return err
	}
	res := provider.Disconnect(ctx, acct)
	if !res.OK {
		return fmt.Errorf("accounts: disconnect %s: %s", acct.Name, res.Error)
	}
	acct.State = models.StateDisconnected
	acct.QRCode = ""
	return s.db.Model(acct).Updates(map[string]interface{}{
		"state":   acct.State,
		"qr_code": "",
	}).Error
}

// Delete tears the provider instance down best-effort, then removes the
// account. A failing provider never blocks local deletion.
func (s *AccountService) Delete(ctx context.Context, acct *models.Account) error {
	if provider, err := s.registry.For(acct); err == nil && acct.InstanceCreated {
		if res := provider.Disconnect(ctx, acct); !res.OK {
			log.Warn().Str("account", acct.Name).Str("error", res.Error).Msg("Logout during delete failed")
		}
		if res := provider.DeleteInstance(ctx, acct); !res.OK {
			log.Warn().Str("account", acct.Name).Str("error", res.Error).Msg("Instance delete failed")
		}
	}
	if err := s.db.Delete(acct).Error; err != nil {
		return fmt.Errorf("accounts: delete %s: %w", acct.Name, err)
	}
	log.Info().Str("account", acct.Name).Msg("Deleted account")
	return nil
}

// Resolve finds the account a webhook payload belongs to. Resolution order:
// path uuid, uuid header, secret header, then instance name from the
// payload.
func (s *AccountService) Resolve(pathUUID, headerUUID, headerSecret string, payload map[string]interface{}) (*models.Account, error) {
	var acct models.Account

	for _, lookup := range []struct {
		column string
		value  string
	}{
		{"webhook_uuid", pathUUID},
		{"webhook_uuid", headerUUID},
		{"webhook_secret", headerSecret},
	} {
		if lookup.value == "" {
			continue
		}
		err := s.db.Where(lookup.column+" = ?", lookup.value).First(&acct).Error
		if err == nil {
			return &acct, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("accounts: resolve: %w", err)
		}
	}

	for _, key := range []string{"instance", "name"} {
		name := instanceFromPayload(payload, key)
		if name == "" {
			continue
		}
		err := s.db.Where("instance_name = ? OR name = ?", name, name).First(&acct).Error
		if err == nil {
			return &acct, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("accounts: resolve: %w", err)
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func instanceFromPayload(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok && v != "" {
		return v
	}
	if data, ok := payload["data"].(map[string]interface{}); ok {
		if v, ok := data[key].(string); ok {
			return v
		}
	}
	return ""
}

// ByID loads one account.
func (s *AccountService) ByID(id uint) (*models.Account, error) {
	var acct models.Account
	if err := s.db.First(&acct, id).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}
