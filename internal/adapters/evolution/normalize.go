package evolution

import (
	"strings"
	"time"

	"waconnect/internal/adapters"
	"waconnect/internal/dto"
	"waconnect/internal/models"
)

// Normalize lowers an Evolution webhook payload into canonical messages.
// Evolution delivers either a single event with a "data" object or a batch
// where "data" is a list; both shapes collapse into the same slice.
func (a *Adapter) Normalize(acct *models.Account, raw map[string]interface{}) []dto.CanonicalMessage {
	event, _ := raw["event"].(string)
	instance, _ := raw["instance"].(string)

	var out []dto.CanonicalMessage
	switch data := raw["data"].(type) {
	case []interface{}:
		for _, item := range data {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, a.normalizeOne(acct, event, instance, raw, m))
			}
		}
	case map[string]interface{}:
		out = append(out, a.normalizeOne(acct, event, instance, raw, data))
	default:
		// Payloads without a data envelope carry the message at the root.
		out = append(out, a.normalizeOne(acct, event, instance, raw, raw))
	}
	return out
}

// NormalizeControl consumes connection and pairing events. The QR code
// arrives either nested under "qrcode" or at the data root, with or without
// a data-URI prefix.
func (a *Adapter) NormalizeControl(raw map[string]interface{}) (dto.ControlEvent, bool) {
	event, _ := raw["event"].(string)
	data, _ := raw["data"].(map[string]interface{})

	switch strings.ToLower(event) {
	case "connection.update":
		ev := dto.ControlEvent{Kind: dto.ControlConnection}
		state, _ := data["state"].(string)
		switch state {
		case "open":
			ev.State = string(models.StateConnected)
		case "close":
			ev.State = string(models.StateDisconnected)
		case "connecting":
			ev.State = string(models.StateConnecting)
		}
		return ev, true
	case "qrcode.updated":
		qr := ""
		if qrData, ok := data["qrcode"].(map[string]interface{}); ok {
			qr, _ = qrData["base64"].(string)
		}
		if qr == "" {
			qr, _ = data["base64"].(string)
		}
		return dto.ControlEvent{Kind: dto.ControlQRCode, QRCode: stripDataURI(qr)}, true
	}
	return dto.ControlEvent{}, false
}

func (a *Adapter) normalizeOne(acct *models.Account, event, instance string, raw, data map[string]interface{}) dto.CanonicalMessage {
	msg := dto.CanonicalMessage{
		Provider: string(models.ProviderEvolution),
		Instance: instance,
		Event:    event,
		Raw:      raw,
	}

	if key, ok := data["key"].(map[string]interface{}); ok {
		msg.MessageID, _ = key["id"].(string)
		msg.RemoteJID, _ = key["remoteJid"].(string)
		msg.FromMe, _ = key["fromMe"].(bool)
	}
	msg.PushName, _ = data["pushName"].(string)
	msg.MessageType, _ = data["messageType"].(string)
	msg.Mobile = mobileFromJID(msg.RemoteJID)

	body, _ := data["message"].(map[string]interface{})
	msg.Message = strings.TrimSpace(extractText(body))
	a.extractMedia(&msg, data, body)
	return msg
}

// mobileFromJID keeps the user part of an individual jid. Group and
// broadcast jids produce an empty mobile, which the pipeline drops.
func mobileFromJID(jid string) string {
	if jid == "" || strings.Contains(jid, "@g.us") || strings.Contains(jid, "@broadcast") {
		return ""
	}
	user := jid
	if i := strings.Index(user, "@"); i >= 0 {
		user = user[:i]
	}
	if i := strings.Index(user, ":"); i >= 0 {
		user = user[:i]
	}
	return nonDigits.ReplaceAllString(user, "")
}

func extractText(body map[string]interface{}) string {
	if body == nil {
		return ""
	}
	if text, ok := body["conversation"].(string); ok && text != "" {
		return text
	}
	if ext, ok := body["extendedTextMessage"].(map[string]interface{}); ok {
		if text, ok := ext["text"].(string); ok {
			return text
		}
	}
	for _, kind := range []string{"imageMessage", "videoMessage", "documentMessage"} {
		if media, ok := body[kind].(map[string]interface{}); ok {
			if caption, ok := media["caption"].(string); ok {
				return caption
			}
		}
	}
	return ""
}

// extractMedia fills the attachment fields when the webhook was provisioned
// with base64 payloads enabled. The base64 body lives next to the message
// envelope, the mime type inside the typed message node.
func (a *Adapter) extractMedia(msg *dto.CanonicalMessage, data, body map[string]interface{}) {
	b64, _ := data["base64"].(string)
	if b64 == "" {
		if m, ok := data["message"].(map[string]interface{}); ok {
			b64, _ = m["base64"].(string)
		}
	}
	if b64 == "" {
		return
	}
	msg.AttachmentB64 = b64

	for _, kind := range []string{"imageMessage", "videoMessage", "audioMessage", "documentMessage", "stickerMessage"} {
		media, ok := body[kind].(map[string]interface{})
		if !ok {
			continue
		}
		msg.MimeType, _ = media["mimetype"].(string)
		if name, ok := media["fileName"].(string); ok {
			msg.AttachmentName = name
		}
		break
	}
	if msg.AttachmentName == "" {
		msg.AttachmentName = adapters.SynthesizeFileName(msg.MimeType, time.Now())
	}
}
