package adapters

import (
	"fmt"
	"strings"
	"time"
)

var extByMime = map[string]string{
	"image/jpeg":         ".jpeg",
	"image/jpg":          ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"image/webp":         ".webp",
	"video/mp4":          ".mp4",
	"video/3gpp":         ".3gp",
	"video/quicktime":    ".mov",
	"audio/mpeg":         ".mp3",
	"audio/mp4":          ".m4a",
	"audio/ogg":          ".ogg",
	"audio/aac":          ".aac",
	"application/pdf":    ".pdf",
	"text/plain":         ".txt",
	"application/zip":    ".zip",
	"text/vcard":         ".vcf",
	"text/x-vcard":       ".vcf",
}

// SynthesizeFileName builds a display name for an attachment that arrived
// without one, e.g. "Image-20240131-154503.jpeg". The mime type may carry
// codec parameters ("audio/ogg; codecs=opus").
func SynthesizeFileName(mimeType string, at time.Time) string {
	mime := strings.TrimSpace(strings.ToLower(mimeType))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	ext, ok := extByMime[mime]
	if !ok {
		switch {
		case strings.HasPrefix(mime, "image/"):
			ext = ".jpeg"
		case strings.HasPrefix(mime, "video/"):
			ext = ".mp4"
		case strings.HasPrefix(mime, "audio/"):
			ext = ".mp3"
		default:
			ext = ".bin"
		}
	}

	var prefix string
	switch {
	case strings.HasPrefix(mime, "image/"):
		prefix = "Image"
	case strings.HasPrefix(mime, "video/"):
		prefix = "Video"
	case strings.HasPrefix(mime, "audio/"):
		prefix = "Voice"
	default:
		prefix = "File"
	}
	return fmt.Sprintf("%s-%s%s", prefix, at.Format("20060102-150405"), ext)
}
