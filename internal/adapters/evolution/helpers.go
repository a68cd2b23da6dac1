package evolution

import (
	"path/filepath"
	"regexp"
	"strings"

	"waconnect/internal/adapters"
	"waconnect/internal/models"
)

var nonDigits = regexp.MustCompile(`\D`)

// formatNumber reduces any jid or display form to +<digits>. Evolution wants
// the leading plus sign on outbound numbers.
func formatNumber(mobile string) string {
	if i := strings.IndexAny(mobile, "@:"); i >= 0 {
		mobile = mobile[:i]
	}
	digits := nonDigits.ReplaceAllString(mobile, "")
	if digits == "" {
		return ""
	}
	return "+" + digits
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".wmv": true, ".flv": true, ".mkv": true, ".webm": true,
}

var audioExts = map[string]bool{
	".mp3": true, ".ogg": true, ".wav": true, ".aac": true, ".flac": true, ".m4a": true, ".opus": true,
}

// MediaTypeFor classifies a file name into the coarse media types the
// Evolution send endpoint understands.
func MediaTypeFor(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch {
	case imageExts[ext]:
		return "image"
	case videoExts[ext]:
		return "video"
	case audioExts[ext]:
		return "audio"
	default:
		return "document"
	}
}

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".aac":  "audio/aac",
	".m4a":  "audio/mp4",
	".opus": "audio/opus",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".txt":  "text/plain",
	".zip":  "application/zip",
}

func MimeTypeFor(fileName string) string {
	if mime, ok := mimeByExt[strings.ToLower(filepath.Ext(fileName))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// instanceName prefers the persisted instance name and falls back to the
// slug of the account name for accounts created before provisioning.
func instanceName(acct *models.Account) string {
	if acct.InstanceName != "" {
		return acct.InstanceName
	}
	return adapters.InstanceSlug(acct.Name)
}

func stripDataURI(s string) string {
	if i := strings.Index(s, "base64,"); i >= 0 {
		return s[i+len("base64,"):]
	}
	return s
}
