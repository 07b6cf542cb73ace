// Package playlist turns resolved track blocks into catalog playlists.
package playlist

import (
	"fmt"
	"strings"
	"time"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/pkg/fuzzy"
)

const (
	// DefaultSourceName is used when the page has no source name
	DefaultSourceName = "Imported"
	// MasterKey identifies the aggregate playlist
	MasterKey = "all"
	// MasterLabel is the label of the aggregate playlist
	MasterLabel = "All"
	// MasterContext is the description context of the aggregate playlist
	MasterContext = "All blocks combined"

	// NameSeparator joins the parts of a playlist name
	NameSeparator = " – "
	dateLayout    = "2006-01-02"
)

var genericLabels = map[string]struct{}{
	"playlist":       {},
	"block":          {},
	"untitled":       {},
	"untitled block": {},
}

// Target is the destination playlist of one block.
type Target struct {
	BlockIndex  int
	Key         string
	Label       string
	Name        string
	Description string
}

// Name formats "<source> – <label> – <YYYY-MM-DD>".
func Name(source, label string, date time.Time) string {
	source = strings.TrimSpace(source)
	if source == "" {
		source = DefaultSourceName
	}
	return source + NameSeparator + label + NameSeparator + date.Format(dateLayout)
}

// Description formats "Imported from <url>", adding " | <context>" when context is set.
func Description(sourceURL, context string) string {
	desc := "Imported from " + sourceURL
	if context = strings.TrimSpace(context); context != "" {
		desc += " | " + context
	}
	return desc
}

// Label picks the human-readable label of a block: its title, or its context when
// the title is empty or generic, or "Block <n>" (1-based) when both are unusable.
func Label(block *core.TrackBlock, index int) string {
	title := strings.TrimSpace(block.Title)
	if title != "" && !isGeneric(title) {
		return title
	}

	if context := strings.TrimSpace(block.Context); context != "" {
		return context
	}

	return fmt.Sprintf("Block %d", index+1)
}

func isGeneric(label string) bool {
	_, ok := genericLabels[strings.ToLower(label)]
	return ok
}

// Plan computes the destination playlist of every block. Repeated labels get a
// " (<n>)" suffix, counting from 2, so names stay unique within the page.
func Plan(page *core.ParsedPage) []Target {
	normalizer := fuzzy.NewNormalizer()
	labels := make(map[string]int)
	keys := make(map[string]struct{})
	targets := make([]Target, 0, len(page.Blocks))

	for i := range page.Blocks {
		block := &page.Blocks[i]
		label := Label(block, i)

		labels[label]++
		if n := labels[label]; n > 1 {
			label = fmt.Sprintf("%s (%d)", label, n)
		}

		key := blockKey(normalizer, label, i)
		for n := 2; ; n++ {
			if _, taken := keys[key]; !taken {
				break
			}
			key = fmt.Sprintf("%s-%d", blockKey(normalizer, label, i), n)
		}
		keys[key] = struct{}{}

		targets = append(targets, Target{
			BlockIndex:  i,
			Key:         key,
			Label:       label,
			Name:        Name(page.SourceName, label, page.FetchedAt),
			Description: Description(page.SourceURL, block.Context),
		})
	}

	return targets
}

// MasterTarget is the destination of the aggregate playlist.
func MasterTarget(page *core.ParsedPage) Target {
	return Target{
		BlockIndex:  -1,
		Key:         MasterKey,
		Label:       MasterLabel,
		Name:        Name(page.SourceName, MasterLabel, page.FetchedAt),
		Description: Description(page.SourceURL, MasterContext),
	}
}

func blockKey(normalizer *fuzzy.Normalizer, label string, index int) string {
	key := strings.ReplaceAll(normalizer.Normalize(label), " ", "-")
	if key == "" || key == MasterKey {
		return fmt.Sprintf("block-%d", index+1)
	}
	return key
}
