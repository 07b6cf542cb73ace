package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/internal/playlist"
	"github.com/smartschat/playlist-from-web/pkg/musiclink"
	"github.com/smartschat/playlist-from-web/pkg/text"
)

// ParsedSummary describes one parsed artifact in listings.
type ParsedSummary struct {
	Slug       string    `json:"slug"`
	SourceURL  string    `json:"source_url"`
	SourceName string    `json:"source_name,omitempty"`
	FetchedAt  time.Time `json:"fetched_at"`
	Blocks     int       `json:"blocks"`
	Tracks     int       `json:"tracks"`
	Imported   bool      `json:"imported"`
	Misses     int       `json:"misses"`
	Playlists  int       `json:"playlists"`
}

// CrawlSummary describes one crawl artifact in listings.
type CrawlSummary struct {
	Slug       string    `json:"slug"`
	IndexURL   string    `json:"index_url"`
	CrawledAt  time.Time `json:"crawled_at"`
	Discovered int       `json:"discovered"`
	Success    int       `json:"success"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
}

// ResolveOne returns candidates for choosing a match by hand.
func (s *Service) ResolveOne(ctx context.Context, artist, title string) ([]core.Candidate, error) {
	if s.catalog == nil {
		return nil, ErrCatalogUnavailable
	}
	candidates, err := s.newResolver().Candidates(ctx, artist, title)
	if err != nil {
		return nil, err
	}
	if candidates == nil {
		candidates = []core.Candidate{}
	}
	return candidates, nil
}

// ResolveLink looks up the track behind a link to another streaming service and
// returns catalog candidates for it.
func (s *Service) ResolveLink(ctx context.Context, link string) (*musiclink.TrackInfo, []core.Candidate, error) {
	if s.catalog == nil {
		return nil, nil, ErrCatalogUnavailable
	}
	if s.links == nil {
		return nil, nil, musiclink.ErrUnsupportedLink
	}

	info, err := s.links.Resolve(ctx, link)
	if err != nil {
		return nil, nil, err
	}

	candidates, err := s.ResolveOne(ctx, info.Artist, info.Title)
	if err != nil {
		return nil, nil, err
	}
	return info, candidates, nil
}

// AssignTrackURI sets the catalog URI of one track by hand and drops its miss. uri
// may be a track URI, a track URL or a bare ID; with uri empty, webURL is used.
func (s *Service) AssignTrackURI(slug string, blockIndex, trackIndex int, uri, webURL string) (*core.Track, error) {
	artifact, err := s.store.LoadSpotify(slug)
	if err != nil {
		return nil, err
	}

	if blockIndex < 0 || blockIndex >= len(artifact.Blocks) {
		return nil, fmt.Errorf("%w: block %d", ErrInvalidIndex, blockIndex)
	}
	block := &artifact.Blocks[blockIndex]
	if trackIndex < 0 || trackIndex >= len(block.Tracks) {
		return nil, fmt.Errorf("%w: track %d of block %d", ErrInvalidIndex, trackIndex, blockIndex)
	}

	ref := uri
	if strings.TrimSpace(ref) == "" {
		ref = webURL
	}
	canonicalURI, canonicalURL, err := text.ParseTrackReference(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, ref)
	}

	track := &block.Tracks[trackIndex]
	track.CatalogURI = canonicalURI
	track.CatalogURL = canonicalURL
	track.Manual = true

	artifact.Misses = slices.DeleteFunc(artifact.Misses, func(m core.Miss) bool {
		return m.Block == block.Title && m.Artist == track.Artist && m.Title == track.Title
	})

	if _, err := s.store.SaveSpotify(slug, artifact); err != nil {
		return nil, err
	}

	s.logger.Info("Assigned track",
		zap.String("slug", slug),
		zap.String("artist", track.Artist),
		zap.String("title", track.Title),
		zap.String("uri", canonicalURI))

	assigned := *track
	return &assigned, nil
}

// Remap re-resolves the parsed artifact of slug with a fresh cache. Recorded
// playlists and manual assignments are kept; no playlist is written.
func (s *Service) Remap(ctx context.Context, slug string) (result *RunResult, err error) {
	start := s.now()
	result = &RunResult{Mode: ModeRemap, Slug: slug}
	defer func() { s.recordRun(ctx, result, start, err) }()

	if s.catalog == nil {
		return result, ErrCatalogUnavailable
	}

	if result.ParsedPath, err = s.store.ParsedPath(slug); err != nil {
		return result, err
	}

	page, err := s.store.LoadParsed(slug)
	if err != nil {
		return result, err
	}
	result.URL = page.SourceURL

	prior, err := s.loadSpotify(slug)
	if err != nil {
		return result, err
	}

	artifact, err := s.resolve(ctx, page, prior)
	if err != nil {
		return result, err
	}
	artifact.ParsedArtifact = result.ParsedPath
	if prior != nil {
		artifact.WritePlaylists = prior.WritePlaylists
		artifact.FailedTracks = prior.FailedTracks
		artifact.FailedBlocks = prior.FailedBlocks
	}

	path, err := s.store.SaveSpotify(slug, artifact)
	if err != nil {
		return result, err
	}

	result.Status = StatusSuccess
	result.SpotifyPath = path
	result.Blocks = len(artifact.Blocks)
	result.Tracks = page.TrackCount()
	result.Misses = len(artifact.Misses)
	result.Playlists = len(artifact.Playlists)
	return result, nil
}

// CreatePlaylists materializes the playlists of a search-only artifact. It refuses
// with core.ErrPlaylistsExist once the artifact records any playlist.
func (s *Service) CreatePlaylists(ctx context.Context, slug string, master bool) (result *RunResult, err error) {
	start := s.now()
	result = &RunResult{Mode: ModeCreate, Slug: slug}
	defer func() { s.recordRun(ctx, result, start, err) }()

	if s.catalog == nil {
		return result, ErrCatalogUnavailable
	}

	artifact, err := s.store.LoadSpotify(slug)
	if err != nil {
		return result, err
	}
	result.URL = artifact.SourceURL
	if len(artifact.Playlists) > 0 || artifact.MasterPlaylist != nil {
		return result, core.ErrPlaylistsExist
	}

	page := s.pageFor(slug, artifact)
	if err := s.materialize(ctx, artifact, page, nil, playlist.Options{Master: master}, result); err != nil {
		return result, err
	}
	artifact.WritePlaylists = true

	path, err := s.store.SaveSpotify(slug, artifact)
	if err != nil {
		return result, err
	}

	result.Status = StatusSuccess
	result.Wrote = true
	result.SpotifyPath = path
	result.Blocks = len(artifact.Blocks)
	result.Tracks = page.TrackCount()
	result.Misses = len(artifact.Misses)
	return result, nil
}

// SyncPlaylist brings one recorded playlist up to date with the artifact and returns
// the number of tracks added. The aggregate playlist receives every block.
func (s *Service) SyncPlaylist(ctx context.Context, slug, playlistID string, full bool) (int, error) {
	if s.catalog == nil {
		return 0, ErrCatalogUnavailable
	}

	artifact, err := s.store.LoadSpotify(slug)
	if err != nil {
		return 0, err
	}

	current, index, master := artifact.FindPlaylist(playlistID)
	if current == nil {
		return 0, fmt.Errorf("playlist %s: %w", playlistID, core.ErrNotFound)
	}

	page := s.pageFor(slug, artifact)
	var target playlist.Target
	var uris []string
	if master {
		target = playlist.MasterTarget(page)
		uris = unionURIs(artifact.Blocks)
	} else {
		target, uris = matchTarget(page, current, index)
	}

	updated, added, failed, err := s.materializer.Sync(ctx, target, current, uris, full)
	if updated != nil {
		if master {
			artifact.MasterPlaylist = updated
		} else {
			artifact.Playlists[index] = *updated
		}
	}
	artifact.FailedTracks = append(artifact.FailedTracks, failed...)

	if _, saveErr := s.store.SaveSpotify(slug, artifact); saveErr != nil {
		return added, saveErr
	}
	if err != nil {
		return added, err
	}

	s.logger.Info("Synced playlist",
		zap.String("slug", slug),
		zap.String("playlistID", playlistID),
		zap.Int("added", added),
		zap.Int("failed", len(failed)),
		zap.Bool("full", full))

	return added, nil
}

// matchTarget finds the block a recorded playlist belongs to: by key, then by the
// block label appearing in the playlist name, then by position. A playlist that
// matches no block keeps the tracks it already records.
func matchTarget(page *core.ParsedPage, current *core.ResolvedPlaylist, index int) (playlist.Target, []string) {
	targets := playlist.Plan(page)

	pick := -1
	if current.Key != "" {
		pick = slices.IndexFunc(targets, func(t playlist.Target) bool { return t.Key == current.Key })
	}
	if pick < 0 {
		pick = slices.IndexFunc(targets, func(t playlist.Target) bool {
			return strings.Contains(current.Name, playlist.NameSeparator+t.Label+playlist.NameSeparator)
		})
	}
	if pick < 0 && index < len(targets) {
		pick = index
	}

	if pick < 0 {
		return playlist.Target{
			BlockIndex:  -1,
			Key:         current.Key,
			Label:       current.Name,
			Name:        current.Name,
			Description: current.Description,
		}, slices.Clone(current.Tracks)
	}

	target := targets[pick]
	return target, unionURIs(page.Blocks[target.BlockIndex : target.BlockIndex+1])
}

// RenamePlaylist updates the name and/or description of a recorded playlist.
func (s *Service) RenamePlaylist(ctx context.Context, slug, playlistID string, name, description *string) error {
	if s.catalog == nil {
		return ErrCatalogUnavailable
	}
	if name != nil && strings.TrimSpace(*name) == "" {
		name = nil
	}
	if name == nil && description == nil {
		return ErrNothingToUpdate
	}

	artifact, err := s.store.LoadSpotify(slug)
	if err != nil {
		return err
	}
	current, _, _ := artifact.FindPlaylist(playlistID)
	if current == nil {
		return fmt.Errorf("playlist %s: %w", playlistID, core.ErrNotFound)
	}

	if err := s.catalog.UpdatePlaylistDetails(ctx, playlistID, name, description); err != nil {
		return err
	}
	if name != nil {
		current.Name = *name
	}
	if description != nil {
		current.Description = *description
	}

	_, err = s.store.SaveSpotify(slug, artifact)
	return err
}

// DeletePlaylist unfollows a recorded playlist and drops it from the artifact. A
// playlist already gone from the catalog is dropped as well.
func (s *Service) DeletePlaylist(ctx context.Context, slug, playlistID string) error {
	if s.catalog == nil {
		return ErrCatalogUnavailable
	}

	artifact, err := s.store.LoadSpotify(slug)
	if err != nil {
		return err
	}
	current, index, master := artifact.FindPlaylist(playlistID)
	if current == nil {
		return fmt.Errorf("playlist %s: %w", playlistID, core.ErrNotFound)
	}

	if err := s.catalog.UnfollowPlaylist(ctx, playlistID); err != nil {
		if !core.IsNotFound(err) {
			return err
		}
		s.logger.Info("Playlist already gone from catalog", zap.String("playlistID", playlistID))
	}

	if master {
		artifact.MasterPlaylist = nil
	} else {
		artifact.Playlists = slices.Delete(artifact.Playlists, index, index+1)
	}

	_, err = s.store.SaveSpotify(slug, artifact)
	return err
}

// pageFor rebuilds the page a catalog artifact was made from, for naming. The parsed
// artifact supplies source name and date; without it the artifact itself is used.
func (s *Service) pageFor(slug string, artifact *core.SpotifyArtifact) *core.ParsedPage {
	page := &core.ParsedPage{
		SourceURL: artifact.SourceURL,
		FetchedAt: artifact.GeneratedAt,
		Blocks:    artifact.Blocks,
	}

	parsed, err := s.store.LoadParsed(slug)
	if err != nil {
		if !core.IsNotFound(err) {
			s.logger.Warn("Failed to load parsed artifact", zap.String("slug", slug), zap.Error(err))
		}
		return page
	}
	page.SourceName = parsed.SourceName
	page.FetchedAt = parsed.FetchedAt
	return page
}

// UpdateParsed replaces the blocks of a parsed artifact, and its source name when set.
func (s *Service) UpdateParsed(slug string, blocks []core.TrackBlock, sourceName string) (*core.ParsedPage, error) {
	page, err := s.store.LoadParsed(slug)
	if err != nil {
		return nil, err
	}

	if blocks != nil {
		page.Blocks = cloneBlocks(blocks)
	}
	if sourceName = strings.TrimSpace(sourceName); sourceName != "" {
		page.SourceName = sourceName
	}

	if _, err := s.store.SaveParsed(slug, page); err != nil {
		return nil, err
	}
	return page, nil
}

func (s *Service) ListParsed() ([]ParsedSummary, error) {
	slugs, err := s.store.ListParsed()
	if err != nil {
		return nil, err
	}

	summaries := make([]ParsedSummary, 0, len(slugs))
	for _, slug := range slugs {
		page, err := s.store.LoadParsed(slug)
		if err != nil {
			s.logger.Warn("Skipping unreadable parsed artifact", zap.String("slug", slug), zap.Error(err))
			continue
		}

		summary := ParsedSummary{
			Slug:       slug,
			SourceURL:  page.SourceURL,
			SourceName: page.SourceName,
			FetchedAt:  page.FetchedAt,
			Blocks:     len(page.Blocks),
			Tracks:     page.TrackCount(),
		}
		if artifact, err := s.store.LoadSpotify(slug); err == nil {
			summary.Imported = true
			summary.Misses = len(artifact.Misses)
			summary.Playlists = len(artifact.Playlists)
			if artifact.MasterPlaylist != nil {
				summary.Playlists++
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *Service) GetParsed(slug string) (*core.ParsedPage, error) {
	return s.store.LoadParsed(slug)
}

func (s *Service) GetSpotify(slug string) (*core.SpotifyArtifact, error) {
	return s.store.LoadSpotify(slug)
}

func (s *Service) DeleteParsed(slug string, alsoSpotify bool) error {
	return s.store.DeleteParsed(slug, alsoSpotify)
}

func (s *Service) ListCrawls() ([]CrawlSummary, error) {
	slugs, err := s.store.ListCrawls()
	if err != nil {
		return nil, err
	}

	summaries := make([]CrawlSummary, 0, len(slugs))
	for _, slug := range slugs {
		crawl, err := s.store.LoadCrawl(slug)
		if err != nil {
			s.logger.Warn("Skipping unreadable crawl artifact", zap.String("slug", slug), zap.Error(err))
			continue
		}
		counts := crawl.Counts()
		summaries = append(summaries, CrawlSummary{
			Slug:       slug,
			IndexURL:   crawl.IndexURL,
			CrawledAt:  crawl.CrawledAt,
			Discovered: len(crawl.DiscoveredLinks),
			Success:    counts[core.CrawlStatusSuccess],
			Skipped:    counts[core.CrawlStatusSkipped],
			Failed:     counts[core.CrawlStatusFailed],
		})
	}
	return summaries, nil
}

func (s *Service) GetCrawl(slug string) (*core.CrawlResult, error) {
	return s.store.LoadCrawl(slug)
}

// Runs returns the most recent runs from the history, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]core.RunRecord, error) {
	if s.history == nil {
		return nil, errors.New("run history not configured")
	}
	return s.history.List(ctx, limit)
}

// ParsedPath is where the parsed artifact of slug is stored.
func (s *Service) ParsedPath(slug string) (string, error) {
	return s.store.ParsedPath(slug)
}
