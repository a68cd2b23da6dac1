package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"waconnect/internal/adapters"
	"waconnect/internal/db"
	"waconnect/internal/dto"
	"waconnect/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return database
}

// fakeProvider returns canned canonical messages and records outbound calls.
type fakeProvider struct {
	kind     models.ProviderKind
	messages []dto.CanonicalMessage
	control  *dto.ControlEvent
	sent     []string
	sendID   string
	failSend bool
}

func (f *fakeProvider) Kind() models.ProviderKind { return f.kind }

func (f *fakeProvider) Normalize(acct *models.Account, raw map[string]interface{}) []dto.CanonicalMessage {
	return f.messages
}

func (f *fakeProvider) NormalizeControl(raw map[string]interface{}) (dto.ControlEvent, bool) {
	if f.control == nil {
		return dto.ControlEvent{}, false
	}
	return *f.control, true
}

func (f *fakeProvider) sendResult() adapters.SendResult {
	if f.failSend {
		return adapters.SendResult{OK: false, Error: "provider down"}
	}
	id := f.sendID
	if id == "" {
		id = "OUT1"
	}
	return adapters.SendResult{OK: true, ID: id, StatusCode: 200}
}

func (f *fakeProvider) SendText(ctx context.Context, acct *models.Account, mobile, text string) adapters.SendResult {
	f.sent = append(f.sent, text)
	return f.sendResult()
}

func (f *fakeProvider) SendMedia(ctx context.Context, acct *models.Account, mobile string, media adapters.Media) adapters.SendResult {
	f.sent = append(f.sent, media.Caption)
	return f.sendResult()
}

func (f *fakeProvider) SendReaction(ctx context.Context, acct *models.Account, key adapters.MessageKey, emoji string) adapters.SendResult {
	return f.sendResult()
}

func (f *fakeProvider) SendReply(ctx context.Context, acct *models.Account, mobile, text, replyTo string) adapters.SendResult {
	f.sent = append(f.sent, text)
	return f.sendResult()
}

func (f *fakeProvider) CreateInstance(ctx context.Context, acct *models.Account) adapters.SendResult {
	return f.sendResult()
}

func (f *fakeProvider) DeleteInstance(ctx context.Context, acct *models.Account) adapters.SendResult {
	return f.sendResult()
}

func (f *fakeProvider) Connect(ctx context.Context, acct *models.Account) (string, adapters.SendResult) {
	return "QRDATA", f.sendResult()
}

func (f *fakeProvider) Disconnect(ctx context.Context, acct *models.Account) adapters.SendResult {
	return f.sendResult()
}

func (f *fakeProvider) Restart(ctx context.Context, acct *models.Account) adapters.SendResult {
	return f.sendResult()
}

func (f *fakeProvider) ConnectionState(ctx context.Context, acct *models.Account) (models.ConnectionState, error) {
	return models.StateConnected, nil
}

func (f *fakeProvider) ProfileImage(ctx context.Context, acct *models.Account, remoteJID string) ([]byte, error) {
	return nil, errors.New("no picture available")
}
