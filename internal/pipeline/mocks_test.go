package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/artifact"
	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/pkg/musiclink"
)

type mockFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls []string
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{pages: make(map[string]string), errs: make(map[string]error)}
}

func (m *mockFetcher) Fetch(_ context.Context, url string) (*core.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, url)
	if err, ok := m.errs[url]; ok {
		return nil, err
	}
	body, ok := m.pages[url]
	if !ok {
		return nil, &core.CatalogRequestError{Status: 404, Message: "not found"}
	}
	return &core.Page{URL: url, Body: []byte(body), ContentType: "text/html"}, nil
}

func (m *mockFetcher) fetchCount(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, call := range m.calls {
		if call == url {
			n++
		}
	}
	return n
}

type mockExtractor struct {
	mu       sync.Mutex
	blocks   map[string][]core.TrackBlock
	links    []core.ExtractedLink
	contents []string
}

func (m *mockExtractor) ExtractBlocks(_ context.Context, sourceURL, content string) (*core.ParsedPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contents = append(m.contents, content)
	blocks, ok := m.blocks[sourceURL]
	if !ok {
		return nil, fmt.Errorf("no blocks found on %s", sourceURL)
	}
	return &core.ParsedPage{
		SourceURL:  sourceURL,
		SourceName: "hr2",
		FetchedAt:  time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		Blocks:     cloneBlocks(blocks),
	}, nil
}

func (m *mockExtractor) ExtractLinks(_ context.Context, _, content string) ([]core.ExtractedLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contents = append(m.contents, content)
	return slices.Clone(m.links), nil
}

type catalogTrack struct {
	id     string
	artist string
	title  string
}

// mockCatalog answers searches from a fixed track list and keeps playlists in memory.
type mockCatalog struct {
	mu          sync.Mutex
	tracks      []catalogTrack
	playlists   map[string]*core.ResolvedPlaylist
	nextID      int
	searches    int
	creates     int
	addCalls    int
	replaces    int
	unfollowed  []string
	detailCalls int
}

func newMockCatalog(tracks ...catalogTrack) *mockCatalog {
	return &mockCatalog{tracks: tracks, playlists: make(map[string]*core.ResolvedPlaylist)}
}

func (m *mockCatalog) Search(_ context.Context, query string, _ int) ([]core.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++

	var results []core.Candidate
	for _, track := range m.tracks {
		if strings.Contains(strings.ToLower(query), strings.ToLower(track.title)) {
			results = append(results, core.Candidate{
				URI:        "spotify:track:" + track.id,
				ID:         track.id,
				Name:       track.title,
				Artists:    []string{track.artist},
				Popularity: 50,
				URL:        "https://open.spotify.com/track/" + track.id,
			})
		}
	}
	return results, nil
}

func (m *mockCatalog) CreatePlaylist(_ context.Context, name, description string) (*core.ResolvedPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	m.nextID++
	id := fmt.Sprintf("pl%d", m.nextID)
	m.playlists[id] = &core.ResolvedPlaylist{ID: id, Name: name, Description: description, Tracks: []string{}}
	return &core.ResolvedPlaylist{ID: id, Name: name, URL: "https://open.spotify.com/playlist/" + id}, nil
}

func (m *mockCatalog) AddTracks(_ context.Context, playlistID string, uris []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addCalls++
	playlist, ok := m.playlists[playlistID]
	if !ok {
		return 0, &core.CatalogRequestError{Status: 404, Message: "not found"}
	}
	playlist.Tracks = append(playlist.Tracks, uris...)
	return len(uris), nil
}

func (m *mockCatalog) ReplaceTracks(_ context.Context, playlistID string, uris []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaces++
	playlist, ok := m.playlists[playlistID]
	if !ok {
		return &core.CatalogRequestError{Status: 404, Message: "not found"}
	}
	playlist.Tracks = slices.Clone(uris)
	return nil
}

func (m *mockCatalog) RemoveTracks(context.Context, string, []string) error {
	return nil
}

func (m *mockCatalog) UpdatePlaylistDetails(_ context.Context, playlistID string, name, description *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailCalls++
	playlist, ok := m.playlists[playlistID]
	if !ok {
		return &core.CatalogRequestError{Status: 404, Message: "not found"}
	}
	if name != nil {
		playlist.Name = *name
	}
	if description != nil {
		playlist.Description = *description
	}
	return nil
}

func (m *mockCatalog) UnfollowPlaylist(_ context.Context, playlistID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unfollowed = append(m.unfollowed, playlistID)
	delete(m.playlists, playlistID)
	return nil
}

func (m *mockCatalog) GetPlaylist(_ context.Context, playlistID string) (*core.ResolvedPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	playlist, ok := m.playlists[playlistID]
	if !ok {
		return nil, &core.CatalogRequestError{Status: 404, Message: "not found"}
	}
	copied := *playlist
	copied.Tracks = slices.Clone(playlist.Tracks)
	return &copied, nil
}

func (m *mockCatalog) tracksOf(playlistID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if playlist, ok := m.playlists[playlistID]; ok {
		return slices.Clone(playlist.Tracks)
	}
	return nil
}

type mockHistory struct {
	mu   sync.Mutex
	runs []core.RunRecord
}

func (m *mockHistory) Record(_ context.Context, run *core.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *mockHistory) List(_ context.Context, limit int) ([]core.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := slices.Clone(m.runs)
	slices.Reverse(runs)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

type mockLinks struct {
	tracks map[string]musiclink.TrackInfo
}

func (m *mockLinks) Resolve(_ context.Context, link string) (*musiclink.TrackInfo, error) {
	info, ok := m.tracks[link]
	if !ok {
		return nil, musiclink.ErrUnsupportedLink
	}
	return &info, nil
}

type testEnv struct {
	service   *Service
	store     *artifact.Store
	fetcher   *mockFetcher
	extractor *mockExtractor
	catalog   *mockCatalog
	history   *mockHistory
	links     *mockLinks
}

const (
	showURL  = "https://www.hr2.de/programm/musik-grenzenlos"
	daftID   = "0DiWol3AO6WpXZgp0goxAV"
	adeleID  = "4sPmO7WMQUAf45kwMOtONw"
	tacvbaID = "1tVbZ5Es0nIsR0WbTUgBLa"
)

func defaultCatalog() *mockCatalog {
	return newMockCatalog(
		catalogTrack{id: daftID, artist: "Daft Punk", title: "One More Time"},
		catalogTrack{id: adeleID, artist: "Adele", title: "Hello"},
		catalogTrack{id: tacvbaID, artist: "Café Tacvba", title: "Eres"},
	)
}

func showBlocks() []core.TrackBlock {
	return []core.TrackBlock{
		{
			Title: "Hörbar",
			Tracks: []core.Track{
				{Artist: "Daft Punk", Title: "One More Time"},
				{Artist: "Nobody Known", Title: "Lost Song"},
			},
		},
		{
			Title: "Musik grenzenlos",
			Tracks: []core.Track{
				{Artist: "Adele", Title: "Hello"},
				{Artist: "Daft Punk", Title: "One More Time"},
			},
		},
		{
			Title: "Musik grenzenlos",
			Tracks: []core.Track{
				{Artist: "Café Tacvba", Title: "Eres"},
			},
		},
	}
}

func (e *testEnv) parsedPath(t *testing.T, slug string) string {
	t.Helper()
	path, err := e.store.ParsedPath(slug)
	if err != nil {
		t.Fatalf("ParsedPath(%q) error = %v", slug, err)
	}
	return path
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	config := core.DefaultConfig()
	config.App.DataDir = t.TempDir()

	extractor := &mockExtractor{blocks: map[string][]core.TrackBlock{showURL: showBlocks()}}
	env := &testEnv{
		store:     artifact.NewStore(config.App.DataDir, zap.NewNop()),
		fetcher:   newMockFetcher(),
		extractor: extractor,
		catalog:   defaultCatalog(),
		history:   &mockHistory{},
		links:     &mockLinks{tracks: map[string]musiclink.TrackInfo{}},
	}
	env.fetcher.pages[showURL] = "<html><body><h1>Musik grenzenlos</h1><p>Daft Punk - One More Time</p></body></html>"

	env.service = NewService(config, Deps{
		Store:     env.store,
		Fetcher:   env.fetcher,
		Extractor: env.extractor,
		Catalog:   env.catalog,
		History:   env.history,
		Links:     env.links,
	}, zap.NewNop(), nil)
	return env
}
