// Package fuzzy canonicalizes free-text artist and title strings for comparison and catalog search.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NearMatchThreshold is the minimum edit-distance similarity for two titles to count as a near match.
const NearMatchThreshold = 0.8

var (
	bracketRegex    = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]|\{[^}]*\}`)
	featRegex       = regexp.MustCompile(`(?i)\s+(?:feat\.?|ft\.?|featuring)\s+.*$`)
	dashSuffixRegex = regexp.MustCompile(
		`(?i)\s+[-–—]\s+.*\b(?:remaster(?:ed)?|radio edit|single version|album version|mono|stereo|live|edit|version|mix|remix)\b.*$`)
	versionMarkerRegex = regexp.MustCompile(
		`(?i)\b(?:remix|mix|edit|version|live|remaster(?:ed)?|extended|instrumental|acoustic|demo|rework|dub)\b`)
	artistSplitRegex = regexp.MustCompile(
		`(?i)\s*(?:,|&|/|;|\+|\s+feat\.?\s+|\s+ft\.?\s+|\s+featuring\s+|\s+x\s+|\s+vs\.?\s+|\s+and\s+|\s+und\s+)\s*`)
	leadingArticleRegex = regexp.MustCompile(`^the\s+`)
	punctRegex          = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex     = regexp.MustCompile(`\s+`)
	queryStripRegex     = regexp.MustCompile(`["“”]`)
)

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize returns the comparison key for s: lowercase, no diacritics, no bracketed
// annotations, punctuation folded to spaces and whitespace collapsed.
func (n *Normalizer) Normalize(s string) string {
	s = bracketRegex.ReplaceAllString(s, " ")
	return n.basicNormalize(s)
}

// NormalizeArtist normalizes an artist name and drops a leading article.
func (n *Normalizer) NormalizeArtist(artist string) string {
	artist = n.Normalize(artist)
	return leadingArticleRegex.ReplaceAllString(artist, "")
}

// NormalizeTitle normalizes a title and strips featured-artist and version suffixes
// such as "- Remastered 2011".
func (n *Normalizer) NormalizeTitle(title string) string {
	title = bracketRegex.ReplaceAllString(title, " ")
	title = dashSuffixRegex.ReplaceAllString(title, "")
	title = featRegex.ReplaceAllString(title, "")
	return n.basicNormalize(title)
}

// SplitArtists breaks a credit like "A feat. B & C" into normalized artist names.
// The full normalized credit is always included.
func (n *Normalizer) SplitArtists(artist string) []string {
	seen := make(map[string]struct{})
	var parts []string

	add := func(s string) {
		s = n.NormalizeArtist(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		parts = append(parts, s)
	}

	add(artist)
	for _, part := range artistSplitRegex.Split(bracketRegex.ReplaceAllString(artist, " "), -1) {
		add(part)
	}

	return parts
}

// TrackKey is the identity of a track for caching and deduplication.
func (n *Normalizer) TrackKey(artist, title string) string {
	return n.Normalize(artist) + "\x00" + n.Normalize(title)
}

// HasVersionMarker reports whether a raw title names a remix, edit or similar variant.
func (n *Normalizer) HasVersionMarker(title string) bool {
	return versionMarkerRegex.MatchString(title)
}

// QueryText cleans a string for use inside a catalog query while keeping its case and accents.
func (n *Normalizer) QueryText(s string) string {
	s = bracketRegex.ReplaceAllString(s, " ")
	s = queryStripRegex.ReplaceAllString(s, " ")
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func (n *Normalizer) basicNormalize(text string) string {
	text = norm.NFKD.String(text)

	var result strings.Builder
	for _, r := range text {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	text = result.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")

	text = strings.ToLower(text)
	text = strings.TrimSpace(text)

	return text
}

// CalculateSimilarity returns the longest-common-subsequence ratio of two strings.
func (n *Normalizer) CalculateSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}

	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}

	return float64(n.longestCommonSubsequence(s1, s2)) / float64(max(len(s1), len(s2)))
}

func (n *Normalizer) longestCommonSubsequence(s1, s2 string) int {
	a, b := []rune(s1), []rune(s2)
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else {
				dp[i][j] = max(dp[i-1][j], dp[i][j-1])
			}
		}
	}

	return dp[len(a)][len(b)]
}

// EditDistance is the Levenshtein distance over runes.
func (n *Normalizer) EditDistance(s1, s2 string) int {
	a, b := []rune(s1), []rune(s2)
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// IsNearMatch reports whether two normalized titles are equal, contain one another on
// word boundaries, or are within NearMatchThreshold edit similarity.
func (n *Normalizer) IsNearMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	if strings.Contains(" "+a+" ", " "+b+" ") || strings.Contains(" "+b+" ", " "+a+" ") {
		return true
	}

	longest := max(len([]rune(a)), len([]rune(b)))
	similarity := 1.0 - float64(n.EditDistance(a, b))/float64(longest)
	return similarity >= NearMatchThreshold
}
