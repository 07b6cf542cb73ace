package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/smartschat/playlist-from-web/internal/core"
)

// UntitledBlock replaces empty block titles
const UntitledBlock = "Untitled Block"

var (
	ErrNoBlocks     = errors.New("no track blocks returned by LLM")
	ErrInvalidReply = errors.New("LLM returned invalid JSON")

	codeFenceRegex = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

type blocksReply struct {
	SourceName *string `json:"source_name"`
	Blocks     []struct {
		Title   *string `json:"title"`
		Context *string `json:"context"`
		Tracks  []struct {
			Artist     *string `json:"artist"`
			Title      *string `json:"title"`
			Album      *string `json:"album"`
			SourceLine *string `json:"source_line"`
		} `json:"tracks"`
	} `json:"blocks"`
}

type linksReply struct {
	Links []struct {
		URL         *string `json:"url"`
		Description *string `json:"description"`
	} `json:"links"`
}

// parseBlocks turns a block extraction reply into a page. Tracks without artist and
// title and blocks without tracks are dropped. A reply with no blocks left is an error.
func parseBlocks(sourceURL, raw string, fetchedAt time.Time) (*core.ParsedPage, error) {
	var reply blocksReply
	if err := decode(raw, &reply); err != nil {
		return nil, err
	}

	page := &core.ParsedPage{
		SourceURL:  sourceURL,
		SourceName: str(reply.SourceName),
		FetchedAt:  fetchedAt,
		Blocks:     []core.TrackBlock{},
	}

	for _, b := range reply.Blocks {
		tracks := make([]core.Track, 0, len(b.Tracks))
		for _, t := range b.Tracks {
			track := core.Track{
				Artist:     str(t.Artist),
				Title:      str(t.Title),
				Album:      str(t.Album),
				SourceLine: str(t.SourceLine),
			}
			if track.Artist == "" && track.Title == "" {
				continue
			}
			tracks = append(tracks, track)
		}
		if len(tracks) == 0 {
			continue
		}

		title := str(b.Title)
		if title == "" {
			title = UntitledBlock
		}
		page.Blocks = append(page.Blocks, core.TrackBlock{
			Title:   title,
			Context: str(b.Context),
			Tracks:  tracks,
		})
	}

	if len(page.Blocks) == 0 {
		return nil, ErrNoBlocks
	}
	return page, nil
}

// parseLinks turns a link selection reply into absolute, de-duplicated links.
func parseLinks(baseURL, raw string) ([]core.ExtractedLink, error) {
	var reply linksReply
	if err := decode(raw, &reply); err != nil {
		return nil, err
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	seen := make(map[string]struct{})
	links := make([]core.ExtractedLink, 0, len(reply.Links))
	for _, l := range reply.Links {
		href := str(l.URL)
		if href == "" {
			continue
		}

		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}

		resolved := abs.String()
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}

		links = append(links, core.ExtractedLink{URL: resolved, Description: str(l.Description)})
	}

	return links, nil
}

// decode unmarshals raw, tolerating surrounding whitespace and a Markdown code fence.
func decode(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if m := codeFenceRegex.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	if raw == "" {
		return fmt.Errorf("%w: empty reply", ErrInvalidReply)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReply, err)
	}
	return nil
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
