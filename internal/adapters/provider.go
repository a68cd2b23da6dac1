package adapters

import (
	"context"
	"fmt"
	"sync"

	"waconnect/internal/dto"
	"waconnect/internal/models"
)

// SendResult is the structured outcome of one outbound provider call.
// Provider-side failures are reported here, never as Go errors, so callers
// decide whether to retry or move on.
type SendResult struct {
	OK         bool                   `json:"ok"`
	ID         string                 `json:"id,omitempty"`
	StatusCode int                    `json:"status_code"`
	Error      string                 `json:"error,omitempty"`
	Raw        map[string]interface{} `json:"raw,omitempty"`
}

// MessageKey identifies a provider-side message, used for reactions.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	ID        string `json:"id"`
	FromMe    bool   `json:"fromMe"`
}

// Media is an outbound media payload. B64 carries the content without any
// data-URI prefix.
type Media struct {
	Caption  string
	MimeType string
	FileName string
	B64      string
}

// Provider is the normalize/send contract every messaging backend implements.
// Implementations are stateless; the account carrying credentials is passed
// per call.
type Provider interface {
	Kind() models.ProviderKind

	// Normalize turns a raw webhook body into zero or more canonical
	// messages. Malformed items are dropped, not fatal.
	Normalize(acct *models.Account, raw map[string]interface{}) []dto.CanonicalMessage

	// NormalizeControl interprets payloads that carry instance state rather
	// than chat traffic. ok=false means the payload is not a control event
	// for this provider and should go through Normalize instead.
	NormalizeControl(raw map[string]interface{}) (dto.ControlEvent, bool)

	SendText(ctx context.Context, acct *models.Account, mobile, text string) SendResult
	SendMedia(ctx context.Context, acct *models.Account, mobile string, media Media) SendResult
	SendReaction(ctx context.Context, acct *models.Account, key MessageKey, emoji string) SendResult
	SendReply(ctx context.Context, acct *models.Account, mobile, text, replyTo string) SendResult

	CreateInstance(ctx context.Context, acct *models.Account) SendResult
	DeleteInstance(ctx context.Context, acct *models.Account) SendResult
	// Connect initiates pairing and returns a QR code (base64, no data-URI
	// prefix) when the provider issues one.
	Connect(ctx context.Context, acct *models.Account) (qrB64 string, res SendResult)
	Disconnect(ctx context.Context, acct *models.Account) SendResult
	Restart(ctx context.Context, acct *models.Account) SendResult
	ConnectionState(ctx context.Context, acct *models.Account) (models.ConnectionState, error)

	ProfileImage(ctx context.Context, acct *models.Account, remoteJID string) ([]byte, error)
}

// Registry maps provider kinds to installed adapters. Accounts select their
// adapter by kind; there is no string-typed branching at call sites.
type Registry struct {
	mu        sync.RWMutex
	providers map[models.ProviderKind]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[models.ProviderKind]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Kind()] = p
}

// For returns the adapter for the account's provider kind.
func (r *Registry) For(acct *models.Account) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[acct.Provider]
	if !ok {
		return nil, fmt.Errorf("no adapter installed for provider %q", acct.Provider)
	}
	return p, nil
}

// Kinds lists the installed provider kinds.
func (r *Registry) Kinds() []models.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]models.ProviderKind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	return kinds
}
