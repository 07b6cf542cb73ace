// Package pipeline runs pages through fetch, extraction, resolution and playlist
// materialization, and manages the artifacts each run leaves behind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/internal/fetch"
	"github.com/smartschat/playlist-from-web/internal/playlist"
	"github.com/smartschat/playlist-from-web/internal/resolve"
	"github.com/smartschat/playlist-from-web/pkg/musiclink"
	"github.com/smartschat/playlist-from-web/pkg/text"
)

var (
	ErrCatalogUnavailable = errors.New("catalog client not configured")
	ErrInvalidIndex       = errors.New("invalid index")
	ErrNothingToUpdate    = errors.New("name or description required")
)

type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusSkipped RunStatus = "skipped"
	StatusFailed  RunStatus = "failed"
)

const (
	ModeDev       = "dev"
	ModeImport    = "import"
	ModeReplay    = "replay"
	ModeCrawl     = "crawl"
	ModeReprocess = "reprocess"
	ModeRemap     = "remap"
	ModeCreate    = "create"
)

type ImportOptions struct {
	// Force re-fetches and re-parses, then syncs into the playlists of an existing artifact.
	Force bool
	// Master also materializes the aggregate playlist.
	Master bool
	// SearchOnly resolves tracks without writing playlists.
	SearchOnly bool
	// FullResync replaces playlist contents instead of appending what is missing.
	FullResync bool
}

// RunResult reports one pipeline run.
type RunResult struct {
	Mode         string    `json:"mode"`
	URL          string    `json:"url"`
	Slug         string    `json:"slug"`
	Status       RunStatus `json:"status"`
	ParsedPath   string    `json:"parsed_path,omitempty"`
	SpotifyPath  string    `json:"spotify_path,omitempty"`
	Blocks       int       `json:"blocks"`
	Tracks       int       `json:"tracks"`
	Playlists    int       `json:"playlists"`
	Created      int       `json:"created"`
	TracksAdded  int       `json:"tracks_added"`
	Misses       int       `json:"misses"`
	FailedBlocks int       `json:"failed_blocks"`
	FailedTracks int       `json:"failed_tracks"`
	// Wrote is set when playlists were materialized.
	Wrote bool `json:"wrote"`
}

// Summary is the one-line report printed after a run.
func (r *RunResult) Summary() string {
	switch {
	case r.Status == StatusSkipped && r.Mode == ModeDev:
		return fmt.Sprintf("Skipped (already parsed): %s", r.URL)
	case r.Status == StatusSkipped:
		return fmt.Sprintf("Skipped (already imported): %s", r.URL)
	case r.Mode == ModeDev:
		return fmt.Sprintf("Parsed %d blocks with %d tracks. Artifact: %s", r.Blocks, r.Tracks, r.ParsedPath)
	case !r.Wrote:
		return fmt.Sprintf("[%s] Mapped (no write) %d tracks. Misses: %d. Artifact: %s",
			r.Mode, r.Tracks, r.Misses, r.SpotifyPath)
	default:
		summary := fmt.Sprintf("[%s] Synced %d playlists (%d created, %d tracks added). Misses: %d. Artifact: %s",
			r.Mode, r.Playlists, r.Created, r.TracksAdded, r.Misses, r.SpotifyPath)
		if r.FailedBlocks > 0 || r.FailedTracks > 0 {
			summary += fmt.Sprintf(" Failed: %d blocks, %d tracks.", r.FailedBlocks, r.FailedTracks)
		}
		return summary
	}
}

type Deps struct {
	Store     core.ArtifactStore
	Fetcher   core.Fetcher
	Extractor core.Extractor
	// Catalog may be nil for parse-only use.
	Catalog core.CatalogClient
	// History may be nil.
	History core.RunRecorder
	// Links turns streaming service links into artist and title. May be nil.
	Links LinkResolver
}

type LinkResolver interface {
	Resolve(ctx context.Context, link string) (*musiclink.TrackInfo, error)
}

type Service struct {
	config       *core.Config
	store        core.ArtifactStore
	fetcher      core.Fetcher
	extractor    core.Extractor
	catalog      core.CatalogClient
	history      core.RunRecorder
	links        LinkResolver
	materializer *playlist.Materializer
	logger       *zap.Logger
	metrics      core.Metrics
	now          func() time.Time
}

func NewService(config *core.Config, deps Deps, logger *zap.Logger, metrics core.Metrics) *Service {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}

	s := &Service{
		config:    config,
		store:     deps.Store,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		catalog:   deps.Catalog,
		history:   deps.History,
		links:     deps.Links,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
	if deps.Catalog != nil {
		s.materializer = playlist.NewMaterializer(deps.Catalog, logger.Named("playlist"), metrics)
	}
	return s
}

// Dev fetches and parses url, stopping once the parsed artifact is written. An
// existing parsed artifact makes the run skipped unless force is set.
func (s *Service) Dev(ctx context.Context, url string, force bool) (result *RunResult, err error) {
	start := s.now()
	result = &RunResult{Mode: ModeDev, URL: url, Slug: text.SlugifyURL(url)}
	defer func() { s.recordRun(ctx, result, start, err) }()

	if !force {
		if _, loadErr := s.store.LoadParsed(result.Slug); loadErr == nil {
			s.logger.Info("Skipping already parsed page", zap.String("url", url))
			result.Status = StatusSkipped
			result.ParsedPath, err = s.store.ParsedPath(result.Slug)
			return result, err
		} else if !core.IsNotFound(loadErr) {
			return result, loadErr
		}
	}

	page, parsedPath, err := s.parse(ctx, url, result.Slug, force)
	if err != nil {
		return result, err
	}

	result.Status = StatusSuccess
	result.ParsedPath = parsedPath
	result.Blocks = len(page.Blocks)
	result.Tracks = page.TrackCount()
	return result, nil
}

// Import runs url through every stage. An existing catalog artifact makes the run
// skipped unless Force is set, in which case its playlists are synced instead of
// created again.
func (s *Service) Import(ctx context.Context, url string, opts ImportOptions) (result *RunResult, err error) {
	start := s.now()
	result = &RunResult{Mode: ModeImport, URL: url, Slug: text.SlugifyURL(url)}
	defer func() { s.recordRun(ctx, result, start, err) }()

	if s.catalog == nil {
		return result, ErrCatalogUnavailable
	}

	prior, err := s.loadSpotify(result.Slug)
	if err != nil {
		return result, err
	}
	if prior != nil && !opts.Force {
		s.logger.Info("Skipping already imported page", zap.String("url", url))
		result.Status = StatusSkipped
		result.SpotifyPath = s.store.SpotifyPath(result.Slug)
		return result, nil
	}

	page, parsedPath, err := s.parse(ctx, url, result.Slug, opts.Force)
	if err != nil {
		return result, err
	}
	result.ParsedPath = parsedPath

	return result, s.resolveAndSave(ctx, result, page, prior, !opts.SearchOnly, playlist.Options{
		Master:     opts.Master,
		FullResync: opts.FullResync,
	})
}

// Replay resolves and materializes a parsed artifact without fetching or extracting.
// Playlists recorded for the same slug are reused.
func (s *Service) Replay(ctx context.Context, parsedPath string, opts ImportOptions) (result *RunResult, err error) {
	start := s.now()
	slug := strings.TrimSuffix(filepath.Base(parsedPath), filepath.Ext(parsedPath))
	result = &RunResult{Mode: ModeReplay, Slug: slug, ParsedPath: parsedPath}
	defer func() { s.recordRun(ctx, result, start, err) }()

	if s.catalog == nil {
		return result, ErrCatalogUnavailable
	}

	page, err := s.store.LoadParsedFile(parsedPath)
	if err != nil {
		return result, err
	}
	result.URL = page.SourceURL

	prior, err := s.loadSpotify(slug)
	if err != nil {
		return result, err
	}

	return result, s.resolveAndSave(ctx, result, page, prior, !opts.SearchOnly, playlist.Options{
		Master:     opts.Master,
		FullResync: opts.FullResync,
	})
}

// parse fetches (or reuses the raw copy of) url, extracts its blocks and writes the parsed artifact.
func (s *Service) parse(ctx context.Context, url, slug string, force bool) (*core.ParsedPage, string, error) {
	if s.extractor == nil || s.fetcher == nil {
		return nil, "", errors.New("fetcher and extractor are required to parse pages")
	}

	raw, err := s.loadPage(ctx, url, slug, force)
	if err != nil {
		return nil, "", err
	}

	content, err := fetch.PageText(raw)
	if err != nil {
		return nil, "", fmt.Errorf("extract text from %s: %w", url, err)
	}

	page, err := s.extractor.ExtractBlocks(ctx, url, content)
	if err != nil {
		return nil, "", fmt.Errorf("extract blocks from %s: %w", url, err)
	}

	extracted := len(page.Blocks)
	page.Blocks = PrepareBlocks(page.Blocks)

	path, err := s.store.SaveParsed(slug, page)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("Parsed page",
		zap.String("url", url),
		zap.Int("extractedBlocks", extracted),
		zap.Int("blocks", len(page.Blocks)),
		zap.Int("tracks", page.TrackCount()),
		zap.String("artifact", path))

	return page, path, nil
}

// loadPage returns the cached raw copy of url unless force is set, fetching and caching it otherwise.
func (s *Service) loadPage(ctx context.Context, url, slug string, force bool) (*core.Page, error) {
	if !force {
		exts := []string{"html", "pdf"}
		if text.IsPDFURL(url) {
			exts = []string{"pdf", "html"}
		}
		for _, ext := range exts {
			body, err := s.store.LoadRaw(slug, ext)
			if err == nil {
				s.logger.Debug("Using cached raw page", zap.String("url", url), zap.String("ext", ext))
				return &core.Page{URL: url, Body: body, IsPDF: ext == "pdf"}, nil
			}
			if !core.IsNotFound(err) {
				return nil, err
			}
		}
	}

	page, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	ext := "html"
	if page.IsPDF {
		ext = "pdf"
	}
	if _, err := s.store.SaveRaw(slug, ext, page.Body); err != nil {
		return nil, err
	}
	return page, nil
}

// resolveAndSave resolves the page with a fresh cache, materializes playlists when
// write is set and saves the catalog artifact. The artifact is saved even when
// materialization aborts, so a re-run resumes through the sync path.
func (s *Service) resolveAndSave(
	ctx context.Context, result *RunResult, page *core.ParsedPage, prior *core.SpotifyArtifact,
	write bool, opts playlist.Options,
) error {
	artifact, err := s.resolve(ctx, page, prior)
	if err != nil {
		return err
	}
	artifact.ParsedArtifact = result.ParsedPath
	artifact.WritePlaylists = write

	var materializeErr error
	if write {
		materializeErr = s.materialize(ctx, artifact, page, prior, opts, result)
	}

	path, err := s.store.SaveSpotify(result.Slug, artifact)
	if err != nil {
		return err
	}
	if materializeErr != nil {
		return materializeErr
	}

	result.Status = StatusSuccess
	result.Wrote = write
	result.SpotifyPath = path
	result.Blocks = len(artifact.Blocks)
	result.Tracks = page.TrackCount()
	result.Misses = len(artifact.Misses)
	return nil
}

// resolve annotates a copy of the page's blocks with catalog URIs. Manual assignments
// from prior are kept, and its playlists are carried into the new artifact.
func (s *Service) resolve(ctx context.Context, page *core.ParsedPage, prior *core.SpotifyArtifact) (*core.SpotifyArtifact, error) {
	blocks := cloneBlocks(page.Blocks)
	if prior != nil {
		if n := carryManual(blocks, prior.Blocks); n > 0 {
			s.logger.Info("Kept manual assignments", zap.Int("tracks", n))
		}
	}

	misses, err := s.newResolver().ResolveBlocks(ctx, blocks)
	if err != nil {
		return nil, err
	}
	if misses == nil {
		misses = []core.Miss{}
	}

	artifact := &core.SpotifyArtifact{
		SourceURL:    page.SourceURL,
		Blocks:       blocks,
		Playlists:    []core.ResolvedPlaylist{},
		Misses:       misses,
		FailedTracks: []string{},
		GeneratedAt:  s.now().UTC(),
	}
	if prior != nil {
		artifact.Playlists = prior.Playlists
		artifact.MasterPlaylist = prior.MasterPlaylist
	}
	return artifact, nil
}

func (s *Service) materialize(
	ctx context.Context, artifact *core.SpotifyArtifact, page *core.ParsedPage, prior *core.SpotifyArtifact,
	opts playlist.Options, result *RunResult,
) error {
	resolved := &core.ParsedPage{
		SourceURL:  page.SourceURL,
		SourceName: page.SourceName,
		FetchedAt:  page.FetchedAt,
		Blocks:     artifact.Blocks,
	}

	outcome, err := s.materializer.Materialize(ctx, resolved, prior, opts)
	if err != nil {
		return err
	}

	artifact.Playlists = outcome.Playlists
	artifact.MasterPlaylist = outcome.MasterPlaylist
	artifact.FailedTracks = outcome.FailedTracks
	artifact.FailedBlocks = outcome.FailedBlocks

	result.Playlists = len(outcome.Playlists)
	result.Created = outcome.Created
	result.TracksAdded = outcome.TracksAdded
	result.FailedBlocks = len(outcome.FailedBlocks)
	result.FailedTracks = len(outcome.FailedTracks)
	return nil
}

func (s *Service) newResolver() *resolve.Resolver {
	return resolve.NewResolver(s.catalog, resolve.NewCache(), resolve.Config{
		SearchLimit: s.config.Spotify.SearchLimit,
		Workers:     s.config.App.ResolveWorkers,
	}, s.logger.Named("resolve"), s.metrics)
}

// loadSpotify returns the catalog artifact of slug, or nil when there is none.
func (s *Service) loadSpotify(slug string) (*core.SpotifyArtifact, error) {
	artifact, err := s.store.LoadSpotify(slug)
	if core.IsNotFound(err) {
		return nil, nil
	}
	return artifact, err
}

func (s *Service) recordRun(ctx context.Context, result *RunResult, start time.Time, err error) {
	status := result.Status
	if err != nil {
		status = StatusFailed
		result.Status = StatusFailed
	}
	finished := s.now()
	s.metrics.RecordRun(result.Mode, string(status), finished.Sub(start))

	if err != nil {
		s.metrics.RecordError("pipeline", errorType(err))
		s.logger.Error("Run failed",
			zap.String("mode", result.Mode),
			zap.String("url", result.URL),
			zap.Error(err))
	}

	if s.history == nil {
		return
	}

	run := &core.RunRecord{
		Mode:        result.Mode,
		URL:         result.URL,
		Status:      string(status),
		Playlists:   result.Playlists,
		TracksAdded: result.TracksAdded,
		Misses:      result.Misses,
		StartedAt:   start.UTC(),
		FinishedAt:  finished.UTC(),
	}
	if err != nil {
		run.Error = err.Error()
	}

	// A cancelled run is still recorded.
	if recErr := s.history.Record(context.WithoutCancel(ctx), run); recErr != nil {
		s.logger.Warn("Failed to record run", zap.Error(recErr))
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, core.ErrAuth):
		return "auth"
	case errors.Is(err, core.ErrRateLimitExceeded):
		return "rate_limit"
	case core.IsNotFound(err):
		return "not_found"
	case errors.Is(err, core.ErrCatalogRequest):
		return "request"
	case errors.Is(err, core.ErrNetwork):
		return "network"
	case errors.Is(err, fetch.ErrPageFetch):
		return "fetch"
	default:
		return "other"
	}
}
