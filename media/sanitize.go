package media

import (
	"path/filepath"
	"strings"
)

const maxNameBytes = 200

// SanitizeName reduces a user-supplied display name to a filesystem-safe
// base name and extension. The base keeps only [A-Za-z0-9_-], collapsing any
// run of other characters into a single underscore; the extension keeps only
// alphanumerics. An empty or fully-stripped name becomes "file".
func SanitizeName(display string) (base, ext string) {
	display = filepath.Base(display)
	ext = strings.TrimPrefix(filepath.Ext(display), ".")
	base = strings.TrimSuffix(display, filepath.Ext(display))

	base = collapse(base, func(r rune) bool {
		return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-'
	})
	base = strings.Trim(base, "_")
	if base == "" {
		base = "file"
	}
	if len(base) > maxNameBytes {
		base = base[:maxNameBytes]
		base = strings.TrimRight(base, "_")
		if base == "" {
			base = "file"
		}
	}

	var extB strings.Builder
	for _, r := range ext {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			extB.WriteRune(r)
		}
	}
	return base, strings.ToLower(extB.String())
}

func collapse(s string, keep func(rune) bool) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range s {
		if keep(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		} else {
			pendingSep = true
		}
	}
	return b.String()
}
