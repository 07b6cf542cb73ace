// Package text provides URL slugs, URL classification and text helpers for fetched pages.
package text

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// TrackURIPrefix is the catalog URI prefix of a track
	TrackURIPrefix = "spotify:track:"
	// TrackURLPrefix is the web URL prefix of a track
	TrackURLPrefix = "https://open.spotify.com/track/"

	defaultSlug   = "page"
	queryHashSize = 8
)

var (
	slugRegex       = regexp.MustCompile(`[^a-zA-Z0-9]+`)
	whitespaceRegex = regexp.MustCompile(`[ \t]+`)
	trackIDRegex    = regexp.MustCompile(`^[A-Za-z0-9]{22}$`)

	spotifyDomains = map[string]bool{
		"open.spotify.com": true,
		"spotify.com":      true,
	}

	trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "si"}

	ErrInvalidTrackReference = errors.New("invalid track reference")
)

// SlugifyURL turns a URL into a filesystem-friendly name: host and path with every
// non-alphanumeric run replaced by "-", lowercased. A query string appends
// "-q" and the first 8 hex digits of its SHA-1.
func SlugifyURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		u = &url.URL{Path: rawURL}
	}

	slug := strings.ToLower(strings.Trim(slugRegex.ReplaceAllString(u.Host+u.Path, "-"), "-"))
	if slug == "" {
		slug = defaultSlug
	}

	if u.RawQuery != "" {
		sum := sha1.Sum([]byte(u.RawQuery))
		slug += "-q" + hex.EncodeToString(sum[:])[:queryHashSize]
	}

	return slug
}

// IsPDFURL reports whether the URL path ends in .pdf.
func IsPDFURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}

// Truncate cuts s to at most maxChars runes. It reports whether anything was cut.
func Truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:maxChars]), true
}

// NormalizeText applies NFKC, collapses horizontal whitespace and drops blank lines.
func NormalizeText(text string) string {
	text = norm.NFKC.String(text)

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(whitespaceRegex.ReplaceAllString(line, " "))
		if line != "" {
			kept = append(kept, line)
		}
	}

	return strings.Join(kept, "\n")
}

// CleanURL validates an absolute http(s) URL and drops tracking parameters and the
// fragment. It returns "" for anything else.
func CleanURL(rawURL string) string {
	rawURL = strings.TrimRight(strings.TrimSpace(rawURL), ".,!?;")

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}

	if u.RawQuery != "" {
		q := u.Query()
		for _, param := range trackingParams {
			q.Del(param)
		}
		u.RawQuery = q.Encode()
	}
	u.Fragment = ""

	return u.String()
}

// ParseTrackReference accepts a track URI ("spotify:track:<id>"), a track web URL or a
// bare track ID and returns the canonical URI and URL.
func ParseTrackReference(ref string) (uri, webURL string, err error) {
	id, err := ExtractTrackID(ref)
	if err != nil {
		return "", "", err
	}
	return TrackURIPrefix + id, TrackURLPrefix + id, nil
}

// ExtractTrackID returns the track ID of a track URI, web URL or bare ID.
func ExtractTrackID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)

	switch {
	case strings.HasPrefix(ref, TrackURIPrefix):
		ref = strings.TrimPrefix(ref, TrackURIPrefix)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		u, err := url.Parse(ref)
		if err != nil {
			return "", ErrInvalidTrackReference
		}
		if !spotifyDomains[strings.ToLower(u.Hostname())] {
			return "", ErrInvalidTrackReference
		}

		ref = ""
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i, part := range parts {
			if part == "track" && i+1 < len(parts) {
				ref = parts[i+1]
				break
			}
		}
	}

	if !trackIDRegex.MatchString(ref) {
		return "", ErrInvalidTrackReference
	}
	return ref, nil
}
