package dto

import "strings"

// CanonicalMessage is the provider-agnostic representation of one inbound
// webhook event. It is ephemeral: adapters produce it, the inbound pipeline
// consumes it, nothing persists it.
type CanonicalMessage struct {
	Provider string
	Instance string
	Event    string

	MessageID string
	RemoteJID string
	Mobile    string

	FromMe      bool
	PushName    string
	Message     string
	MessageType string
	MimeType    string

	AttachmentB64  string
	AttachmentName string

	Raw map[string]interface{}
}

// HasAttachment reports whether the message carries inline media.
func (m *CanonicalMessage) HasAttachment() bool {
	return m.AttachmentB64 != ""
}

// ControlKind labels a non-chat provider event.
type ControlKind string

const (
	ControlConnection ControlKind = "connection"
	ControlQRCode     ControlKind = "qrcode"
)

// ControlEvent is a provider event that carries instance state rather than
// chat traffic: a connection state change or a refreshed pairing QR code.
// State holds a canonical connection state name and may be empty when the
// provider reported a state this system does not track. QRCode is base64
// without any data-URI prefix.
type ControlEvent struct {
	Kind   ControlKind
	State  string
	QRCode string
}

// ReactionRef describes a reaction embedded in a raw payload: an emoji bound
// to the external id of the message being reacted to. An empty Emoji means
// the reaction is being removed.
type ReactionRef struct {
	TargetID string
	Emoji    string
	FromMe   bool
}

// Reaction extracts a reaction marker from the raw payload, looking at
// data.message.reactionMessage the way Evolution-style providers ship it.
func (m *CanonicalMessage) Reaction() (ReactionRef, bool) {
	data := subMap(m.Raw, "data")
	if data == nil {
		data = m.Raw
	}
	if str(data["messageType"]) != "reactionMessage" {
		return ReactionRef{}, false
	}
	reaction := subMap(subMap(data, "message"), "reactionMessage")
	if reaction == nil {
		return ReactionRef{}, false
	}
	key := subMap(reaction, "key")
	ref := ReactionRef{
		TargetID: str(key["id"]),
		Emoji:    str(reaction["text"]),
	}
	if b, ok := key["fromMe"].(bool); ok {
		ref.FromMe = b
	}
	if ref.TargetID == "" {
		return ReactionRef{}, false
	}
	return ref, true
}

// QuotedID extracts the external id of the message this one replies to.
// Providers nest it either under extendedTextMessage.contextInfo.stanzaId
// or directly under data.contextInfo.stanzaId. Empty means not a reply.
func (m *CanonicalMessage) QuotedID() string {
	data := subMap(m.Raw, "data")
	if data == nil {
		data = m.Raw
	}
	msg := subMap(data, "message")
	ctx := subMap(subMap(msg, "extendedTextMessage"), "contextInfo")
	if ctx == nil {
		ctx = subMap(data, "contextInfo")
	}
	return str(ctx["stanzaId"])
}

func subMap(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]interface{})
	return sub
}

func str(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
