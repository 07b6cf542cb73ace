package fuzzy

import (
	"fmt"
	"strings"
)

type QueryKind string

const (
	// QueryStructured uses the catalog's field filters: artist:"X" track:"Y"
	QueryStructured QueryKind = "structured"
	// QueryFreeText combines artist and title as plain words
	QueryFreeText QueryKind = "free_text"
	// QueryTitleOnly searches the title alone, the most permissive variant
	QueryTitleOnly QueryKind = "title_only"
)

type QueryVariant struct {
	Kind  QueryKind
	Query string
}

// BuildQueries returns the search variants for a track in priority order.
// Blank input yields empty query strings rather than an error.
func (n *Normalizer) BuildQueries(artist, title string) []QueryVariant {
	a := n.QueryText(artist)
	t := n.QueryText(title)

	structured := ""
	if a != "" && t != "" {
		structured = fmt.Sprintf(`artist:"%s" track:"%s"`, a, t)
	}

	return []QueryVariant{
		{Kind: QueryStructured, Query: structured},
		{Kind: QueryFreeText, Query: strings.TrimSpace(a + " " + t)},
		{Kind: QueryTitleOnly, Query: t},
	}
}
