package relay

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	fallbackKind      = "video"
	fallbackExt       = ".mp4"
	maxFilenameLength = 200
)

// ParseTarget validates raw as an absolute http or https URL. It never
// performs I/O.
func ParseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &InvalidRequestError{Reason: "video URL is required"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &InvalidRequestError{Reason: "invalid video URL", Err: err}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, &InvalidRequestError{Reason: "invalid video URL: scheme must be http or https"}
	}

	if u.Host == "" {
		return nil, &InvalidRequestError{Reason: "invalid video URL: missing host"}
	}

	u.Scheme = scheme

	return u, nil
}

// DeriveFilename returns the percent-decoded last path segment of u, made
// safe to join to the destination directory. When nothing usable remains it
// synthesizes "video-<unix millis>-<random>.mp4".
func DeriveFilename(u *url.URL, now time.Time) string {
	escaped := u.EscapedPath()
	segment := escaped[strings.LastIndex(escaped, "/")+1:]

	if decoded, err := url.PathUnescape(segment); err == nil {
		if name := sanitizeFilename(decoded); name != "" {
			return name
		}
	}

	return synthesizeFilename(now)
}

func synthesizeFilename(now time.Time) string {
	return fmt.Sprintf("%s-%d-%s%s", fallbackKind, now.UnixMilli(), uuid.NewString()[:8], fallbackExt)
}

// sanitizeFilename strips traversal sequences, separators and control
// characters. It returns "" when the result is not a plain local name.
func sanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, name)

	name = strings.ReplaceAll(name, "..", "")
	// Leading dots would hide the file and collide with in-progress temp names.
	name = strings.TrimLeft(strings.TrimSpace(name), ".")
	name = truncateFilename(name)

	if name == "" || !filepath.IsLocal(name) {
		return ""
	}

	return name
}

func truncateFilename(name string) string {
	if len(name) <= maxFilenameLength {
		return name
	}

	ext := filepath.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}

	base := name[:maxFilenameLength-len(ext)]
	for !utf8.ValidString(base) {
		base = base[:len(base)-1]
	}

	return base + ext
}
