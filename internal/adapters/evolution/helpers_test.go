package evolution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "+5511999998888", formatNumber("5511999998888"))
	assert.Equal(t, "+5511999998888", formatNumber("+55 (11) 99999-8888"))
	assert.Equal(t, "+5511999998888", formatNumber("5511999998888@s.whatsapp.net"))
	assert.Equal(t, "+5511999998888", formatNumber("5511999998888:12@s.whatsapp.net"))
	assert.Equal(t, "", formatNumber("no digits here"))
}

func TestMediaTypeFor(t *testing.T) {
	assert.Equal(t, "image", MediaTypeFor("photo.JPG"))
	assert.Equal(t, "image", MediaTypeFor("sticker.webp"))
	assert.Equal(t, "video", MediaTypeFor("clip.mkv"))
	assert.Equal(t, "audio", MediaTypeFor("note.opus"))
	assert.Equal(t, "document", MediaTypeFor("report.pdf"))
	assert.Equal(t, "document", MediaTypeFor("noextension"))
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, "image/jpeg", MimeTypeFor("photo.jpeg"))
	assert.Equal(t, "video/mp4", MimeTypeFor("clip.mp4"))
	assert.Equal(t, "application/pdf", MimeTypeFor("report.PDF"))
	assert.Equal(t, "application/octet-stream", MimeTypeFor("unknown.xyz"))
}

func TestStripDataURI(t *testing.T) {
	assert.Equal(t, "aGVsbG8=", stripDataURI("data:image/png;base64,aGVsbG8="))
	assert.Equal(t, "aGVsbG8=", stripDataURI("aGVsbG8="))
}
