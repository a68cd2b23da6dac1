package quepasa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waconnect/internal/models"
)

func testAccount() *models.Account {
	return &models.Account{Name: "Test", Provider: models.ProviderQuepasa}
}

func TestNormalizeTrimsBodyText(t *testing.T) {
	a := New()
	raw := map[string]interface{}{
		"id":   "QP9",
		"type": "text",
		"text": "  spaced out \n",
		"chat": map[string]interface{}{"id": "5511999998888@s.whatsapp.net"},
	}

	msgs := a.Normalize(testAccount(), raw)
	require.Len(t, msgs, 1)
	assert.Equal(t, "spaced out", msgs[0].Message)
}

func TestNormalizeControlReportsNothing(t *testing.T) {
	a := New()
	_, ok := a.NormalizeControl(map[string]interface{}{"event": "connection.update"})
	assert.False(t, ok)
}

func TestNormalizeFlatMessage(t *testing.T) {
	a := New()
	raw := map[string]interface{}{
		"id":     "QP1",
		"type":   "text",
		"text":   "hello there",
		"fromme": false,
		"chat": map[string]interface{}{
			"id":    "5511999998888@s.whatsapp.net",
			"title": "Maria",
		},
	}

	msgs := a.Normalize(testAccount(), raw)
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, "QP1", m.MessageID)
	assert.Equal(t, "5511999998888", m.Mobile)
	assert.Equal(t, "hello there", m.Message)
	assert.Equal(t, "Maria", m.PushName)
	assert.False(t, m.FromMe)
}

func TestNormalizeArrayPayload(t *testing.T) {
	a := New()
	raw := map[string]interface{}{
		"messages": []interface{}{
			map[string]interface{}{"id": "A", "text": "one", "chat": map[string]interface{}{"id": "1@s.whatsapp.net"}},
			map[string]interface{}{"id": "B", "text": "two", "chat": map[string]interface{}{"id": "2@s.whatsapp.net"}},
		},
	}
	msgs := a.Normalize(testAccount(), raw)
	require.Len(t, msgs, 2)
	assert.Equal(t, "A", msgs[0].MessageID)
	assert.Equal(t, "B", msgs[1].MessageID)
}

func TestNormalizeAttachment(t *testing.T) {
	a := New()
	raw := map[string]interface{}{
		"id":   "QP2",
		"type": "image",
		"chat": map[string]interface{}{"id": "5511999998888@s.whatsapp.net"},
		"attachment": map[string]interface{}{
			"base64": "aGVsbG8=",
			"mime":   "image/jpeg",
		},
	}
	msgs := a.Normalize(testAccount(), raw)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].HasAttachment())
	assert.Equal(t, "image/jpeg", msgs[0].MimeType)
	assert.NotEmpty(t, msgs[0].AttachmentName)
}

func TestFormatNumberBare(t *testing.T) {
	assert.Equal(t, "5511999998888", formatNumber("+55 11 99999-8888"))
}
