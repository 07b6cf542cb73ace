package core

import (
	"context"
	"time"
)

// Track is one entry of a track listing. CatalogURI stays empty until resolved.
type Track struct {
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	Album      string `json:"album,omitempty"`
	SourceLine string `json:"source_line,omitempty"`
	CatalogURI string `json:"spotify_uri,omitempty"`
	CatalogURL string `json:"spotify_url,omitempty"`
	Manual     bool   `json:"manual,omitempty"`
}

// Resolved reports whether the track carries a catalog URI.
func (t *Track) Resolved() bool {
	return t.CatalogURI != ""
}

type TrackBlock struct {
	Title   string  `json:"title"`
	Context string  `json:"context,omitempty"`
	Tracks  []Track `json:"tracks"`
}

// URIs returns the resolved catalog URIs of the block in order.
func (b *TrackBlock) URIs() []string {
	uris := make([]string, 0, len(b.Tracks))
	for i := range b.Tracks {
		if b.Tracks[i].Resolved() {
			uris = append(uris, b.Tracks[i].CatalogURI)
		}
	}
	return uris
}

type ParsedPage struct {
	SourceURL  string       `json:"source_url"`
	SourceName string       `json:"source_name,omitempty"`
	FetchedAt  time.Time    `json:"fetched_at"`
	Blocks     []TrackBlock `json:"blocks"`
}

// TrackCount returns the number of tracks across all blocks.
func (p *ParsedPage) TrackCount() int {
	n := 0
	for i := range p.Blocks {
		n += len(p.Blocks[i].Tracks)
	}
	return n
}

// Candidate is a catalog search result.
type Candidate struct {
	URI        string   `json:"uri"`
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	Album      string   `json:"album"`
	Popularity int      `json:"popularity"`
	URL        string   `json:"url"`
}

type Miss struct {
	Block  string `json:"block"`
	Artist string `json:"artist"`
	Title  string `json:"title"`
}

type ResolvedPlaylist struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	Tracks      []string `json:"tracks"`
	TracksAdded int      `json:"tracks_added"`
	Key         string   `json:"key,omitempty"`
}

type BlockFailure struct {
	Block string `json:"block"`
	Error string `json:"error"`
}

// SpotifyArtifact is the persisted outcome of resolving and materializing one page.
type SpotifyArtifact struct {
	SourceURL      string             `json:"source_url"`
	ParsedArtifact string             `json:"parsed_artifact"`
	Blocks         []TrackBlock       `json:"blocks"`
	Playlists      []ResolvedPlaylist `json:"playlists"`
	MasterPlaylist *ResolvedPlaylist  `json:"master_playlist"`
	Misses         []Miss             `json:"misses"`
	FailedTracks   []string           `json:"failed_tracks"`
	FailedBlocks   []BlockFailure     `json:"failed_blocks,omitempty"`
	GeneratedAt    time.Time          `json:"generated_at"`
	WritePlaylists bool               `json:"write_playlists"`
}

// FindPlaylist returns the playlist with the given ID and whether it is the master playlist.
func (a *SpotifyArtifact) FindPlaylist(playlistID string) (playlist *ResolvedPlaylist, index int, master bool) {
	if a.MasterPlaylist != nil && a.MasterPlaylist.ID == playlistID {
		return a.MasterPlaylist, -1, true
	}
	for i := range a.Playlists {
		if a.Playlists[i].ID == playlistID {
			return &a.Playlists[i], i, false
		}
	}
	return nil, -1, false
}

type ExtractedLink struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

type CrawlStatus string

const (
	CrawlStatusSuccess CrawlStatus = "success"
	CrawlStatusSkipped CrawlStatus = "skipped"
	CrawlStatusFailed  CrawlStatus = "failed"
)

type CrawlEntry struct {
	URL         string      `json:"url"`
	Description string      `json:"description,omitempty"`
	Status      CrawlStatus `json:"status"`
	Mode        string      `json:"mode,omitempty"`
	Artifact    string      `json:"artifact,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type CrawlResult struct {
	IndexURL        string          `json:"index_url"`
	DiscoveredLinks []ExtractedLink `json:"discovered_links"`
	Processed       []CrawlEntry    `json:"processed"`
	CrawledAt       time.Time       `json:"crawled_at"`
}

// Counts tallies processed entries by status.
func (c *CrawlResult) Counts() map[CrawlStatus]int {
	counts := make(map[CrawlStatus]int, 3)
	for i := range c.Processed {
		counts[c.Processed[i].Status]++
	}
	return counts
}

// RunRecord summarizes one pipeline run for the history log.
type RunRecord struct {
	ID          string    `json:"id"`
	Mode        string    `json:"mode"`
	URL         string    `json:"url"`
	Status      string    `json:"status"`
	Playlists   int       `json:"playlists"`
	TracksAdded int       `json:"tracks_added"`
	Misses      int       `json:"misses"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Page is raw fetched content.
type Page struct {
	URL         string
	Body        []byte
	ContentType string
	IsPDF       bool
}

type CatalogClient interface {
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
	CreatePlaylist(ctx context.Context, name, description string) (*ResolvedPlaylist, error)
	AddTracks(ctx context.Context, playlistID string, uris []string) (int, error)
	ReplaceTracks(ctx context.Context, playlistID string, uris []string) error
	RemoveTracks(ctx context.Context, playlistID string, uris []string) error
	UpdatePlaylistDetails(ctx context.Context, playlistID string, name, description *string) error
	UnfollowPlaylist(ctx context.Context, playlistID string) error
	GetPlaylist(ctx context.Context, playlistID string) (*ResolvedPlaylist, error)
}

type Extractor interface {
	ExtractBlocks(ctx context.Context, sourceURL, content string) (*ParsedPage, error)
	ExtractLinks(ctx context.Context, baseURL, content string) ([]ExtractedLink, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

type ArtifactStore interface {
	LoadRaw(slug, ext string) ([]byte, error)
	SaveRaw(slug, ext string, data []byte) (string, error)

	ParsedPath(slug string) (string, error)
	LoadParsed(slug string) (*ParsedPage, error)
	LoadParsedFile(path string) (*ParsedPage, error)
	SaveParsed(slug string, page *ParsedPage) (string, error)
	ListParsed() ([]string, error)
	DeleteParsed(slug string, alsoSpotify bool) error

	SpotifyPath(slug string) string
	LoadSpotify(slug string) (*SpotifyArtifact, error)
	SaveSpotify(slug string, artifact *SpotifyArtifact) (string, error)

	CrawlPath(slug string) string
	LoadCrawl(slug string) (*CrawlResult, error)
	SaveCrawl(slug string, result *CrawlResult) (string, error)
	ListCrawls() ([]string, error)
}

type RunRecorder interface {
	Record(ctx context.Context, run *RunRecord) error
	List(ctx context.Context, limit int) ([]RunRecord, error)
}

// Metrics receives pipeline instrumentation. NopMetrics discards everything.
type Metrics interface {
	RecordSearch(variant, status string)
	RecordResolution(outcome string)
	RecordCatalogRetry(reason string)
	RecordPlaylistWrite(op, status string)
	RecordTracksAdded(n int)
	RecordRun(mode, status string, duration time.Duration)
	RecordLLMCall(provider, status string)
	RecordError(component, errorType string)
}

type NopMetrics struct{}

func (NopMetrics) RecordSearch(string, string) {}
func (NopMetrics) RecordResolution(string) {}
func (NopMetrics) RecordCatalogRetry(string) {}
func (NopMetrics) RecordPlaylistWrite(string, string) {}
func (NopMetrics) RecordTracksAdded(int) {}
func (NopMetrics) RecordRun(string, string, time.Duration) {}
func (NopMetrics) RecordLLMCall(string, string) {}
func (NopMetrics) RecordError(string, string) {}
