// Package quepasa implements the Provider contract against a Quepasa bot
// server. Quepasa authenticates with a per-bot token header and uses bare
// phone numbers without the plus sign.
package quepasa

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"waconnect/internal/adapters"
	"waconnect/internal/models"
)

const tokenHeader = "X-QUEPASA-TOKEN"

type Adapter struct {
	http *resty.Client
}

func New() *Adapter {
	return &Adapter{
		http: resty.New().SetTimeout(40 * time.Second),
	}
}

func (a *Adapter) Kind() models.ProviderKind {
	return models.ProviderQuepasa
}

var nonDigits = regexp.MustCompile(`\D`)

func formatNumber(mobile string) string {
	return nonDigits.ReplaceAllString(mobile, "")
}

func (a *Adapter) request(ctx context.Context, acct *models.Account, method, url string, payload interface{}) adapters.SendResult {
	req := a.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(tokenHeader, acct.APIKey)
	if payload != nil {
		req.SetBody(payload)
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("Quepasa API request failed")
		return adapters.SendResult{OK: false, Error: err.Error()}
	}

	raw := map[string]interface{}{}
	if jsonErr := json.Unmarshal(resp.Body(), &raw); jsonErr != nil {
		raw = map[string]interface{}{"text": string(resp.Body())}
	}

	res := adapters.SendResult{
		OK:         resp.StatusCode() >= 200 && resp.StatusCode() < 300,
		StatusCode: resp.StatusCode(),
		Raw:        raw,
	}
	if success, ok := raw["success"].(bool); ok {
		res.OK = res.OK && success
	}
	res.ID = messageID(raw)
	if !res.OK {
		if status, ok := raw["status"].(string); ok && status != "" {
			res.Error = status
		} else {
			res.Error = fmt.Sprintf("quepasa: status %d", resp.StatusCode())
		}
		log.Warn().Int("status", resp.StatusCode()).Str("url", url).Msg("Quepasa API returned an error")
	}
	return res
}

func messageID(raw map[string]interface{}) string {
	if id, ok := raw["id"].(string); ok && id != "" {
		return id
	}
	if m, ok := raw["message"].(map[string]interface{}); ok {
		if id, ok := m["id"].(string); ok {
			return id
		}
	}
	return ""
}

func (a *Adapter) SendText(ctx context.Context, acct *models.Account, mobile, text string) adapters.SendResult {
	number := formatNumber(mobile)
	if number == "" {
		return adapters.SendResult{OK: false, Error: "invalid_mobile"}
	}
	url := fmt.Sprintf("%s/v3/bot/%s/sendtext", acct.APIURL, acct.APIKey)
	return a.request(ctx, acct, resty.MethodPost, url, map[string]interface{}{
		"chatId": number,
		"text":   text,
	})
}

func (a *Adapter) SendMedia(ctx context.Context, acct *models.Account, mobile string, media adapters.Media) adapters.SendResult {
	number := formatNumber(mobile)
	if number == "" {
		return adapters.SendResult{OK: false, Error: "invalid_mobile"}
	}
	if media.B64 == "" {
		return adapters.SendResult{OK: false, Error: "empty_media"}
	}
	url := fmt.Sprintf("%s/v3/bot/%s/sendbinary", acct.APIURL, acct.APIKey)
	return a.request(ctx, acct, resty.MethodPost, url, map[string]interface{}{
		"chatId": number,
		"text":   media.Caption,
		"attachment": map[string]interface{}{
			"base64":   media.B64,
			"mime":     media.MimeType,
			"filename": media.FileName,
		},
	})
}

// SendReaction is not part of the Quepasa surface.
func (a *Adapter) SendReaction(ctx context.Context, acct *models.Account, key adapters.MessageKey, emoji string) adapters.SendResult {
	return adapters.SendResult{OK: false, Error: "reactions_not_supported"}
}

func (a *Adapter) SendReply(ctx context.Context, acct *models.Account, mobile, text, replyTo string) adapters.SendResult {
	number := formatNumber(mobile)
	if number == "" {
		return adapters.SendResult{OK: false, Error: "invalid_mobile"}
	}
	payload := map[string]interface{}{
		"chatId": number,
		"text":   text,
	}
	if replyTo != "" {
		payload["inreply"] = replyTo
	}
	url := fmt.Sprintf("%s/v3/bot/%s/sendtext", acct.APIURL, acct.APIKey)
	return a.request(ctx, acct, resty.MethodPost, url, payload)
}

// Quepasa bots are provisioned on the server itself, not over this API.
func (a *Adapter) CreateInstance(ctx context.Context, acct *models.Account) adapters.SendResult {
	return adapters.SendResult{OK: true, Raw: map[string]interface{}{"status": "managed externally"}}
}

func (a *Adapter) DeleteInstance(ctx context.Context, acct *models.Account) adapters.SendResult {
	return adapters.SendResult{OK: true, Raw: map[string]interface{}{"status": "managed externally"}}
}

func (a *Adapter) Connect(ctx context.Context, acct *models.Account) (string, adapters.SendResult) {
	url := fmt.Sprintf("%s/v3/bot/%s/scan", acct.APIURL, acct.APIKey)
	res := a.request(ctx, acct, resty.MethodGet, url, nil)
	qr, _ := res.Raw["qrcode"].(string)
	return qr, res
}

func (a *Adapter) Disconnect(ctx context.Context, acct *models.Account) adapters.SendResult {
	url := fmt.Sprintf("%s/v3/bot/%s/logout", acct.APIURL, acct.APIKey)
	return a.request(ctx, acct, resty.MethodPost, url, nil)
}

func (a *Adapter) Restart(ctx context.Context, acct *models.Account) adapters.SendResult {
	url := fmt.Sprintf("%s/v3/bot/%s/restart", acct.APIURL, acct.APIKey)
	return a.request(ctx, acct, resty.MethodPost, url, nil)
}

func (a *Adapter) ConnectionState(ctx context.Context, acct *models.Account) (models.ConnectionState, error) {
	url := fmt.Sprintf("%s/v3/bot/%s/info", acct.APIURL, acct.APIKey)
	res := a.request(ctx, acct, resty.MethodGet, url, nil)
	if !res.OK {
		return acct.State, fmt.Errorf("quepasa: info check failed: %s", res.Error)
	}
	if connected, ok := res.Raw["connected"].(bool); ok {
		if connected {
			return models.StateConnected, nil
		}
		return models.StateDisconnected, nil
	}
	return acct.State, fmt.Errorf("quepasa: info response missing connected flag")
}

func (a *Adapter) ProfileImage(ctx context.Context, acct *models.Account, remoteJID string) ([]byte, error) {
	url := fmt.Sprintf("%s/v3/bot/%s/picdata/%s", acct.APIURL, acct.APIKey, formatNumber(remoteJID))
	resp, err := a.http.R().SetContext(ctx).SetHeader(tokenHeader, acct.APIKey).Get(url)
	if err != nil {
		return nil, fmt.Errorf("quepasa: profile picture download: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("quepasa: profile picture download status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}
