package quepasa

import (
	"strings"
	"time"

	"waconnect/internal/adapters"
	"waconnect/internal/dto"
	"waconnect/internal/models"
)

// Normalize lowers a Quepasa webhook payload into canonical messages. The
// payload is either a single flat message object or an array of them.
func (a *Adapter) Normalize(acct *models.Account, raw map[string]interface{}) []dto.CanonicalMessage {
	if items, ok := raw["messages"].([]interface{}); ok {
		var out []dto.CanonicalMessage
		for _, item := range items {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, a.normalizeOne(acct, raw, m))
			}
		}
		return out
	}
	return []dto.CanonicalMessage{a.normalizeOne(acct, raw, raw)}
}

// NormalizeControl reports no control events: the Quepasa webhook stream is
// chat traffic only, instance state comes from polling the info endpoint.
func (a *Adapter) NormalizeControl(raw map[string]interface{}) (dto.ControlEvent, bool) {
	return dto.ControlEvent{}, false
}

func (a *Adapter) normalizeOne(acct *models.Account, raw, data map[string]interface{}) dto.CanonicalMessage {
	msg := dto.CanonicalMessage{
		Provider: string(models.ProviderQuepasa),
		Event:    "message",
		Raw:      raw,
	}

	msg.MessageID, _ = data["id"].(string)
	if text, ok := data["text"].(string); ok {
		msg.Message = strings.TrimSpace(text)
	}
	msg.MessageType, _ = data["type"].(string)
	msg.FromMe, _ = data["fromme"].(bool)

	if chat, ok := data["chat"].(map[string]interface{}); ok {
		msg.RemoteJID, _ = chat["id"].(string)
		msg.PushName, _ = chat["title"].(string)
	}
	msg.Mobile = mobileFromJID(msg.RemoteJID)

	if att, ok := data["attachment"].(map[string]interface{}); ok {
		msg.AttachmentB64, _ = att["base64"].(string)
		msg.MimeType, _ = att["mime"].(string)
		msg.AttachmentName, _ = att["filename"].(string)
		if msg.AttachmentB64 != "" && msg.AttachmentName == "" {
			msg.AttachmentName = adapters.SynthesizeFileName(msg.MimeType, time.Now())
		}
	}
	return msg
}

func mobileFromJID(jid string) string {
	if jid == "" || strings.Contains(jid, "@g.us") || strings.Contains(jid, "@broadcast") {
		return ""
	}
	if i := strings.Index(jid, "@"); i >= 0 {
		jid = jid[:i]
	}
	return nonDigits.ReplaceAllString(jid, "")
}
