// Package fetch pulls remote audio onto local disk ahead of ingestion. URL
// validation and platform detection are synchronous and cheap; the actual
// extraction shells out to yt-dlp and reports percentage progress as it goes.
package fetch

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL rejects URLs before any job is created for them.
var ErrInvalidURL = errors.New("invalid media url")

// Result describes a completed extraction.
type Result struct {
	// Path is the downloaded audio file, inside the destination directory
	// the caller supplied.
	Path string
	// Title is the media title reported by the platform, or "" when the
	// extractor could not determine one.
	Title string
	// DurationSeconds is the reported duration, 0 when unknown.
	DurationSeconds float64
}

// platformSuffixes maps registrable host suffixes to platform labels. The
// match is on dot-boundary suffix so sub-hosts (www., m., music.) resolve to
// the same platform.
var platformSuffixes = []struct {
	suffix   string
	platform string
}{
	{"youtube.com", "youtube"},
	{"youtu.be", "youtube"},
	{"vimeo.com", "vimeo"},
	{"soundcloud.com", "soundcloud"},
	{"twitch.tv", "twitch"},
	{"twitter.com", "twitter"},
	{"x.com", "twitter"},
	{"tiktok.com", "tiktok"},
	{"instagram.com", "instagram"},
	{"facebook.com", "facebook"},
	{"dailymotion.com", "dailymotion"},
	{"bandcamp.com", "bandcamp"},
}

// ValidateURL checks that raw parses as an absolute http(s) URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q is not http or https", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// DetectPlatform labels the URL's source platform, defaulting to "other"
// for hosts outside the known list.
func DetectPlatform(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	for _, p := range platformSuffixes {
		if host == p.suffix || strings.HasSuffix(host, "."+p.suffix) {
			return p.platform
		}
	}
	return "other"
}
