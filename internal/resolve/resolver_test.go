package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"

	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/pkg/fuzzy"
)

// mockSearcher answers queries from a table and records every call.
type mockSearcher struct {
	mu      sync.Mutex
	results map[string][]core.Candidate
	errs    map[string]error
	calls   []string
}

func (m *mockSearcher) Search(_ context.Context, query string, _ int) ([]core.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, query)
	if err, ok := m.errs[query]; ok {
		return nil, err
	}
	return m.results[query], nil
}

func (m *mockSearcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func candidate(id, name, artist string, popularity int) core.Candidate {
	return core.Candidate{
		URI:        "spotify:track:" + id,
		ID:         id,
		Name:       name,
		Artists:    []string{artist},
		Popularity: popularity,
		URL:        "https://open.spotify.com/track/" + id,
	}
}

func newTestResolver(searcher Searcher) *Resolver {
	return NewResolver(searcher, NewCache(), Config{SearchLimit: 20, Workers: 4}, zap.NewNop(), nil)
}

func TestResolver_ExactMatchOnFirstVariant(t *testing.T) {
	searcher := &mockSearcher{results: map[string][]core.Candidate{
		`artist:"Café Tacvba" track:"Eres"`: {candidate("eres", "Eres", "Café Tacvba", 70)},
	}}
	resolver := newTestResolver(searcher)

	result, err := resolver.Resolve(context.Background(), "Café Tacvba", "Eres")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if !result.Matched() || result.Candidate.URI != "spotify:track:eres" {
		t.Fatalf("Expected match spotify:track:eres, got %+v", result)
	}
	if result.Strategy != StrategyExact {
		t.Errorf("Expected exact strategy, got %s", result.Strategy)
	}
	if result.Variant != fuzzy.QueryStructured {
		t.Errorf("Expected structured variant, got %s", result.Variant)
	}
	if searcher.callCount() != 1 {
		t.Errorf("Expected 1 search, got %d", searcher.callCount())
	}
}

func TestResolver_DiacriticsInsensitiveArtist(t *testing.T) {
	searcher := &mockSearcher{results: map[string][]core.Candidate{
		`artist:"Café Tacvba" track:"Eres"`: {
			candidate("other", "Eres", "Someone Else", 90),
			candidate("eres", "ERES", "Cafe Tacvba", 65),
		},
	}}
	resolver := newTestResolver(searcher)

	result, err := resolver.Resolve(context.Background(), "Café Tacvba", "Eres")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if result.Strategy != StrategyExact {
		t.Errorf("Expected exact strategy, got %s", result.Strategy)
	}
	if result.Candidate == nil || result.Candidate.ID != "eres" {
		t.Errorf("Expected candidate 'eres', got %+v", result.Candidate)
	}
}

func TestResolver_Miss(t *testing.T) {
	searcher := &mockSearcher{}
	resolver := newTestResolver(searcher)

	result, err := resolver.Resolve(context.Background(), "Nobody", "Nothing")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Matched() {
		t.Errorf("Expected no match, got %+v", result.Candidate)
	}
	if result.Strategy != StrategyNone {
		t.Errorf("Expected none strategy, got %s", result.Strategy)
	}
	if searcher.callCount() != 3 {
		t.Errorf("Expected 3 searches, got %d", searcher.callCount())
	}

	again, err := resolver.Resolve(context.Background(), "nobody", "NOTHING")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !again.Cached || again.Matched() {
		t.Errorf("Expected cached miss, got %+v", again)
	}
	if searcher.callCount() != 3 {
		t.Errorf("Expected cached miss to skip search, got %d calls", searcher.callCount())
	}
}

func TestResolver_EmptyFields(t *testing.T) {
	tests := []struct {
		name   string
		artist string
		title  string
	}{
		{name: "Empty artist", artist: "", title: "Song"},
		{name: "Empty title", artist: "Artist", title: ""},
		{name: "Whitespace", artist: "  ", title: "\t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &mockSearcher{}
			resolver := newTestResolver(searcher)

			result, err := resolver.Resolve(context.Background(), tt.artist, tt.title)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if result.Matched() || result.Strategy != StrategyNone {
				t.Errorf("Expected miss, got %+v", result)
			}
			if searcher.callCount() != 0 {
				t.Errorf("Expected no searches, got %d", searcher.callCount())
			}
		})
	}
}

func TestResolver_SingleSearchPerCachedKey(t *testing.T) {
	searcher := &mockSearcher{results: map[string][]core.Candidate{
		`artist:"Daft Punk" track:"Get Lucky"`: {candidate("lucky", "Get Lucky", "Daft Punk", 80)},
	}}
	resolver := newTestResolver(searcher)

	block := &core.TrackBlock{Title: "Block"}
	for range 8 {
		block.Tracks = append(block.Tracks, core.Track{Artist: "Daft Punk", Title: "Get Lucky"})
	}

	misses, err := resolver.ResolveBlock(context.Background(), block)
	if err != nil {
		t.Fatalf("ResolveBlock() error = %v", err)
	}
	if len(misses) != 0 {
		t.Errorf("Expected no misses, got %v", misses)
	}
	if searcher.callCount() != 1 {
		t.Errorf("Expected exactly 1 search for 8 identical tracks, got %d", searcher.callCount())
	}
	for i, track := range block.Tracks {
		if track.CatalogURI != "spotify:track:lucky" {
			t.Errorf("Track %d not annotated: %+v", i, track)
		}
	}
}

func TestResolver_RecoverableErrorsBecomeUncachedMisses(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "Rate limit", err: &core.RateLimitError{Attempts: 5}},
		{name: "Bad request", err: &core.CatalogRequestError{Status: 400, Message: "bad query"}},
		{name: "Connection refused", err: &core.NetworkError{Attempts: 5, Err: syscall.ECONNREFUSED}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &mockSearcher{errs: map[string]error{
				`artist:"Artist" track:"Song"`: tt.err,
			}}
			resolver := newTestResolver(searcher)

			result, err := resolver.Resolve(context.Background(), "Artist", "Song")
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if result.Matched() {
				t.Error("Expected a miss")
			}
			if !errors.Is(result.Err, tt.err) {
				t.Errorf("Expected result to carry %v, got %v", tt.err, result.Err)
			}

			if _, err := resolver.Resolve(context.Background(), "Artist", "Song"); err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if searcher.callCount() != 2 {
				t.Errorf("Expected errored track to be searched again, got %d calls", searcher.callCount())
			}
		})
	}
}

func TestResolver_FatalErrorsPropagate(t *testing.T) {
	authErr := &core.AuthError{Err: errors.New("invalid_grant")}
	searcher := &mockSearcher{errs: map[string]error{
		`artist:"Artist" track:"Song"`: authErr,
	}}
	resolver := newTestResolver(searcher)

	_, err := resolver.Resolve(context.Background(), "Artist", "Song")
	if !errors.Is(err, core.ErrAuth) {
		t.Errorf("Expected auth error, got %v", err)
	}

	block := &core.TrackBlock{Title: "Block", Tracks: []core.Track{{Artist: "Artist", Title: "Song"}}}
	if _, err := resolver.ResolveBlock(context.Background(), block); !errors.Is(err, core.ErrAuth) {
		t.Errorf("Expected ResolveBlock to propagate auth error, got %v", err)
	}
}

func TestResolver_ExpiredTokenIsFatal(t *testing.T) {
	expired := &core.AuthError{Err: &core.CatalogRequestError{Status: 401, Message: "The access token expired"}}
	searcher := &mockSearcher{errs: map[string]error{
		`artist:"Artist" track:"Song"`: fmt.Errorf("search failed: %w", expired),
	}}
	resolver := newTestResolver(searcher)

	_, err := resolver.Resolve(context.Background(), "Artist", "Song")
	if !errors.Is(err, core.ErrAuth) {
		t.Errorf("Expected auth error, got %v", err)
	}
}

func TestResolver_NetworkFailureKeepsOtherTracks(t *testing.T) {
	searcher := &mockSearcher{
		results: map[string][]core.Candidate{
			`artist:"Good" track:"Song"`: {candidate("g1", "Song", "Good", 50)},
		},
		errs: map[string]error{
			`artist:"Down" track:"Song"`: fmt.Errorf("search failed: %w",
				&core.NetworkError{Attempts: 5, Err: syscall.ECONNRESET}),
		},
	}
	resolver := newTestResolver(searcher)

	blocks := []core.TrackBlock{
		{Title: "One", Tracks: []core.Track{{Artist: "Down", Title: "Song"}}},
		{Title: "Two", Tracks: []core.Track{{Artist: "Good", Title: "Song"}}},
	}

	misses, err := resolver.ResolveBlocks(context.Background(), blocks)
	if err != nil {
		t.Fatalf("ResolveBlocks() error = %v", err)
	}
	if len(misses) != 1 || misses[0].Block != "One" || misses[0].Artist != "Down" {
		t.Fatalf("Expected a single miss in block One, got %+v", misses)
	}
	if blocks[0].Tracks[0].Resolved() {
		t.Errorf("Expected the unreachable track to stay unresolved: %+v", blocks[0].Tracks[0])
	}
	if got := blocks[1].Tracks[0].CatalogURI; got != "spotify:track:g1" {
		t.Errorf("Expected block Two to resolve, got %q", got)
	}
}

func TestResolver_FallbackUsesMostPermissiveVariant(t *testing.T) {
	searcher := &mockSearcher{results: map[string][]core.Candidate{
		"Artist Song": {candidate("a", "Other", "Somebody", 99)},
		"Song": {
			candidate("b", "Song", "Cover Band", 10),
			candidate("c", "Song", "Karaoke", 50),
		},
	}}
	resolver := newTestResolver(searcher)

	result, err := resolver.Resolve(context.Background(), "Artist", "Song")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Strategy != StrategyFallback {
		t.Fatalf("Expected fallback strategy, got %s", result.Strategy)
	}
	if result.Variant != fuzzy.QueryTitleOnly {
		t.Errorf("Expected title-only variant, got %s", result.Variant)
	}
	if result.Candidate.ID != "c" {
		t.Errorf("Expected most popular candidate 'c', got %q", result.Candidate.ID)
	}
}

func TestResolver_TieBreak(t *testing.T) {
	tests := []struct {
		name       string
		title      string
		candidates []core.Candidate
		expectedID string
	}{
		{
			name:  "Higher popularity wins",
			title: "Song",
			candidates: []core.Candidate{
				candidate("low", "Song", "Artist", 10),
				candidate("high", "Song", "Artist", 60),
			},
			expectedID: "high",
		},
		{
			name:  "Exact title beats near title",
			title: "Song",
			candidates: []core.Candidate{
				candidate("near", "Song Reprise", "Artist", 40),
				candidate("exact", "Song", "Artist", 40),
			},
			expectedID: "exact",
		},
		{
			name:  "Shorter title wins when source has no version marker",
			title: "Song",
			candidates: []core.Candidate{
				candidate("long", "Song - Radio Edit", "Artist", 40),
				candidate("short", "Song", "Artist", 40),
			},
			expectedID: "short",
		},
		{
			name:  "Length preference skipped for versioned source titles",
			title: "Song (Radio Edit)",
			candidates: []core.Candidate{
				candidate("long", "Song - Radio Edit", "Artist", 40),
				candidate("short", "Song", "Artist", 40),
			},
			expectedID: "long",
		},
		{
			name:  "Wrong artist is filtered before tie-break",
			title: "Song",
			candidates: []core.Candidate{
				candidate("impostor", "Song", "Someone Else", 100),
				candidate("real", "Song", "Artist", 1),
			},
			expectedID: "real",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalizer := fuzzy.NewNormalizer()
			structured := normalizer.BuildQueries("Artist", tt.title)[0].Query

			searcher := &mockSearcher{results: map[string][]core.Candidate{structured: tt.candidates}}
			resolver := newTestResolver(searcher)

			result, err := resolver.Resolve(context.Background(), "Artist", tt.title)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if result.Strategy != StrategyExact {
				t.Fatalf("Expected exact strategy, got %s", result.Strategy)
			}
			if result.Candidate.ID != tt.expectedID {
				t.Errorf("Expected %q, got %q", tt.expectedID, result.Candidate.ID)
			}
		})
	}
}

func TestResolver_FeaturedArtistCredit(t *testing.T) {
	searcher := &mockSearcher{results: map[string][]core.Candidate{
		`artist:"Daft Punk feat. Pharrell Williams" track:"Get Lucky"`: {
			candidate("lucky", "Get Lucky (feat. Pharrell Williams & Nile Rodgers)", "Daft Punk", 85),
		},
	}}
	resolver := newTestResolver(searcher)

	result, err := resolver.Resolve(context.Background(), "Daft Punk feat. Pharrell Williams", "Get Lucky")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Strategy != StrategyExact || result.Candidate.ID != "lucky" {
		t.Errorf("Expected exact match on 'lucky', got %+v", result)
	}
}

func TestResolver_ResolveBlockPreservesOrderAndManualTracks(t *testing.T) {
	searcher := &mockSearcher{results: map[string][]core.Candidate{}}
	for i := range 10 {
		artist := fmt.Sprintf("Artist %d", i)
		title := fmt.Sprintf("Title %d", i)
		query := fmt.Sprintf(`artist:"%s" track:"%s"`, artist, title)
		searcher.results[query] = []core.Candidate{candidate(fmt.Sprintf("id%d", i), title, artist, 50)}
	}
	resolver := newTestResolver(searcher)

	block := &core.TrackBlock{Title: "Mixed"}
	for i := range 10 {
		block.Tracks = append(block.Tracks, core.Track{
			Artist: fmt.Sprintf("Artist %d", i),
			Title:  fmt.Sprintf("Title %d", i),
		})
	}
	block.Tracks = append(block.Tracks,
		core.Track{Artist: "Unknown", Title: "Unreleased"},
		core.Track{Artist: "Hand", Title: "Picked", CatalogURI: "spotify:track:manual", Manual: true},
	)

	misses, err := resolver.ResolveBlock(context.Background(), block)
	if err != nil {
		t.Fatalf("ResolveBlock() error = %v", err)
	}

	for i := range 10 {
		want := fmt.Sprintf("spotify:track:id%d", i)
		if block.Tracks[i].CatalogURI != want {
			t.Errorf("Track %d: expected %s, got %s", i, want, block.Tracks[i].CatalogURI)
		}
	}

	if len(misses) != 1 || misses[0] != (core.Miss{Block: "Mixed", Artist: "Unknown", Title: "Unreleased"}) {
		t.Errorf("Unexpected misses: %+v", misses)
	}

	manual := block.Tracks[11]
	if manual.CatalogURI != "spotify:track:manual" || !manual.Manual {
		t.Errorf("Manual track was modified: %+v", manual)
	}
	for _, q := range searcher.calls {
		if q == `artist:"Hand" track:"Picked"` {
			t.Error("Manual track should not be searched")
		}
	}

	uris := block.URIs()
	if len(uris) != 11 || uris[10] != "spotify:track:manual" {
		t.Errorf("Unexpected block URIs: %v", uris)
	}
}

func TestResolver_ResolveBlocksDeduplicatesMisses(t *testing.T) {
	resolver := newTestResolver(&mockSearcher{})

	blocks := []core.TrackBlock{
		{Title: "One", Tracks: []core.Track{{Artist: "A", Title: "X"}, {Artist: "a", Title: "x!"}}},
		{Title: "Two", Tracks: []core.Track{{Artist: "A", Title: "X"}}},
	}

	misses, err := resolver.ResolveBlocks(context.Background(), blocks)
	if err != nil {
		t.Fatalf("ResolveBlocks() error = %v", err)
	}

	if len(misses) != 2 {
		t.Fatalf("Expected 2 misses (one per block), got %+v", misses)
	}
	if misses[0].Block != "One" || misses[1].Block != "Two" {
		t.Errorf("Unexpected miss blocks: %+v", misses)
	}
}

func TestResolver_Candidates(t *testing.T) {
	var many []core.Candidate
	for i := range 8 {
		many = append(many, candidate(fmt.Sprintf("f%d", i), "Song", "Artist", i))
	}

	searcher := &mockSearcher{results: map[string][]core.Candidate{
		`artist:"Artist" track:"Song"`: {candidate("s1", "Song", "Artist", 50), candidate("f0", "Song", "Artist", 0)},
		"Artist Song":                  many,
	}}
	resolver := newTestResolver(searcher)

	candidates, err := resolver.Candidates(context.Background(), "Artist", "Song")
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}

	if len(candidates) != 9 {
		t.Fatalf("Expected 9 unique candidates, got %d", len(candidates))
	}
	if candidates[0].ID != "s1" || candidates[1].ID != "f0" || candidates[2].ID != "f1" {
		t.Errorf("Unexpected candidate order: %s %s %s", candidates[0].ID, candidates[1].ID, candidates[2].ID)
	}
	for _, q := range searcher.calls {
		if q == "Song" {
			t.Error("Title-only variant should not be used for manual candidates")
		}
	}
}

func TestResolver_CandidatesRequiresInput(t *testing.T) {
	resolver := newTestResolver(&mockSearcher{})

	if _, err := resolver.Candidates(context.Background(), "", " "); err == nil {
		t.Error("Expected error for blank input")
	}
}

func TestCache(t *testing.T) {
	cache := NewCache()

	if _, ok := cache.Get("Artist", "Song"); ok {
		t.Fatal("Expected empty cache")
	}

	c := candidate("x", "Song", "Artist", 1)
	cache.Put("Artist", "Song (Live)", Entry{Candidate: &c, Strategy: StrategyExact})

	entry, ok := cache.Get("ARTIST", "song")
	if !ok || entry.Candidate.ID != "x" {
		t.Errorf("Expected normalized key lookup to hit, got %+v %v", entry, ok)
	}

	cache.Put("Nobody", "Nothing", Entry{Strategy: StrategyNone})
	if miss, ok := cache.Get("Nobody", "Nothing"); !ok || miss.Candidate != nil {
		t.Errorf("Expected cached miss, got %+v %v", miss, ok)
	}

	if cache.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", cache.Len())
	}
}
