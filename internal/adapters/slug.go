package adapters

import (
	"regexp"
	"strings"
)

var slugDrop = regexp.MustCompile(`[^a-z0-9_\- ]`)

// InstanceSlug derives the provider-side instance name from an account name:
// lowercase, punctuation stripped, spaces collapsed to underscores, at most
// 50 characters.
func InstanceSlug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugDrop.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), "_")
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}
