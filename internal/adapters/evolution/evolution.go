// Package evolution implements the Provider contract against the Evolution
// API (https://doc.evolution-api.com), a REST front-end for WhatsApp.
package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"waconnect/internal/adapters"
	"waconnect/internal/models"
)

type Adapter struct {
	http *resty.Client
}

func New() *Adapter {
	return &Adapter{
		http: resty.New().SetTimeout(40 * time.Second),
	}
}

func (a *Adapter) Kind() models.ProviderKind {
	return models.ProviderEvolution
}

func (a *Adapter) headers(acct *models.Account) map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"apikey":       acct.APIKey,
	}
}

// request performs one provider call and folds the outcome into a
// SendResult. Transport errors yield ok=false with status code 0; they are
// never propagated as Go errors past the adapter boundary.
func (a *Adapter) request(ctx context.Context, acct *models.Account, method, url string, payload interface{}) adapters.SendResult {
	req := a.http.R().SetContext(ctx).SetHeaders(a.headers(acct))
	if payload != nil {
		req.SetBody(payload)
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("Evolution API request failed")
		return adapters.SendResult{OK: false, Error: err.Error()}
	}

	raw := map[string]interface{}{}
	if jsonErr := json.Unmarshal(resp.Body(), &raw); jsonErr != nil {
		raw = map[string]interface{}{"text": string(resp.Body())}
	}

	res := adapters.SendResult{
		OK:         resp.StatusCode() >= 200 && resp.StatusCode() < 300,
		StatusCode: resp.StatusCode(),
		ID:         externalID(raw),
		Raw:        raw,
	}
	if !res.OK {
		res.Error = fmt.Sprintf("evolution: status %d", resp.StatusCode())
		log.Warn().Int("status", resp.StatusCode()).Str("url", url).Msg("Evolution API returned an error")
	}
	return res
}

// externalID digs the provider message id out of a response body.
func externalID(raw map[string]interface{}) string {
	if id, ok := raw["id"].(string); ok && id != "" {
		return id
	}
	if id, ok := raw["message_id"].(string); ok && id != "" {
		return id
	}
	if key, ok := raw["key"].(map[string]interface{}); ok {
		if id, ok := key["id"].(string); ok {
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
	url := fmt.Sprintf("%s/message/sendText/%s", acct.APIURL, instanceName(acct))
	return a.request(ctx, acct, resty.MethodPost, url, map[string]interface{}{
		"number": number,
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
	mime := media.MimeType
	if mime == "" {
		mime = MimeTypeFor(media.FileName)
	}
	fileName := media.FileName
	if fileName == "" {
		fileName = "file.bin"
	}
	url := fmt.Sprintf("%s/message/sendMedia/%s", acct.APIURL, instanceName(acct))
	return a.request(ctx, acct, resty.MethodPost, url, map[string]interface{}{
		"number":    number,
		"caption":   media.Caption,
		"mediatype": MediaTypeFor(media.FileName),
		"mimetype":  mime,
		"media":     media.B64,
		"fileName":  fileName,
	})
}

func (a *Adapter) SendReaction(ctx context.Context, acct *models.Account, key adapters.MessageKey, emoji string) adapters.SendResult {
	url := fmt.Sprintf("%s/message/sendReaction/%s", acct.APIURL, instanceName(acct))
	return a.request(ctx, acct, resty.MethodPost, url, map[string]interface{}{
		"key": map[string]interface{}{
			"remoteJid": key.RemoteJID,
			"fromMe":    key.FromMe,
			"id":        key.ID,
		},
		"reaction": emoji,
	})
}

func (a *Adapter) SendReply(ctx context.Context, acct *models.Account, mobile, text, replyTo string) adapters.SendResult {
	number := formatNumber(mobile)
	if number == "" {
		return adapters.SendResult{OK: false, Error: "invalid_mobile"}
	}
	payload := map[string]interface{}{
		"number": number,
		"text":   text,
	}
	if replyTo != "" {
		payload["quoted"] = map[string]interface{}{
			"key": map[string]interface{}{"id": replyTo},
		}
	}
	url := fmt.Sprintf("%s/message/sendText/%s", acct.APIURL, instanceName(acct))
	return a.request(ctx, acct, resty.MethodPost, url, payload)
}

func (a *Adapter) CreateInstance(ctx context.Context, acct *models.Account) adapters.SendResult {
	payload := map[string]interface{}{
		"instanceName": instanceName(acct),
		"integration":  "WHATSAPP-BAILEYS",
		"qrcode":       true,
	}
	if acct.WebhookURL != "" {
		payload["webhook"] = map[string]interface{}{
			"url":     acct.WebhookURL,
			"base64":  true,
			"headers": map[string]string{"webhook_key": acct.WebhookSecret},
			"events":  []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE", "QRCODE_UPDATED"},
		}
	}
	url := fmt.Sprintf("%s/instance/create", acct.APIURL)
	return a.request(ctx, acct, resty.MethodPost, url, payload)
}

func (a *Adapter) DeleteInstance(ctx context.Context, acct *models.Account) adapters.SendResult {
	url := fmt.Sprintf("%s/instance/delete/%s", acct.APIURL, instanceName(acct))
	return a.request(ctx, acct, resty.MethodDelete, url, nil)
}

func (a *Adapter) Connect(ctx context.Context, acct *models.Account) (string, adapters.SendResult) {
	url := fmt.Sprintf("%s/instance/connect/%s", acct.APIURL, instanceName(acct))
	res := a.request(ctx, acct, resty.MethodGet, url, nil)
	qr, _ := res.Raw["base64"].(string)
	return stripDataURI(qr), res
}

func (a *Adapter) Disconnect(ctx context.Context, acct *models.Account) adapters.SendResult {
	url := fmt.Sprintf("%s/instance/logout/%s", acct.APIURL, instanceName(acct))
	return a.request(ctx, acct, resty.MethodDelete, url, nil)
}

func (a *Adapter) Restart(ctx context.Context, acct *models.Account) adapters.SendResult {
	url := fmt.Sprintf("%s/instance/restart/%s", acct.APIURL, instanceName(acct))
	return a.request(ctx, acct, resty.MethodPost, url, nil)
}

func (a *Adapter) ConnectionState(ctx context.Context, acct *models.Account) (models.ConnectionState, error) {
	url := fmt.Sprintf("%s/instance/connectionState/%s", acct.APIURL, instanceName(acct))
	res := a.request(ctx, acct, resty.MethodGet, url, nil)
	if !res.OK {
		return acct.State, fmt.Errorf("evolution: connection state check failed: %s", res.Error)
	}
	inst, _ := res.Raw["instance"].(map[string]interface{})
	state, _ := inst["state"].(string)
	switch state {
	case "open":
		return models.StateConnected, nil
	case "close":
		return models.StateDisconnected, nil
	case "connecting":
		return models.StateConnecting, nil
	default:
		return acct.State, fmt.Errorf("evolution: unknown instance state %q", state)
	}
}

func (a *Adapter) ProfileImage(ctx context.Context, acct *models.Account, remoteJID string) ([]byte, error) {
	if remoteJID == "" {
		return nil, fmt.Errorf("evolution: empty remote jid")
	}
	number := formatNumber(remoteJID)
	url := fmt.Sprintf("%s/chat/fetchProfilePictureUrl/%s", acct.APIURL, instanceName(acct))
	res := a.request(ctx, acct, resty.MethodPost, url, map[string]interface{}{"number": number})
	picURL, _ := res.Raw["profilePictureUrl"].(string)
	if picURL == "" {
		return nil, fmt.Errorf("evolution: no profile picture for %s", remoteJID)
	}
	img, err := a.http.R().SetContext(ctx).Get(picURL)
	if err != nil {
		return nil, fmt.Errorf("evolution: profile picture download: %w", err)
	}
	if img.StatusCode() != 200 {
		return nil, fmt.Errorf("evolution: profile picture download status %d", img.StatusCode())
	}
	return img.Body(), nil
}
