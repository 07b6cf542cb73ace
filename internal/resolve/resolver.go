// Package resolve matches free-text tracks against the catalog.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/pkg/fuzzy"
)

// MaxManualCandidates limits the candidates offered for a manual assignment
const MaxManualCandidates = 10

type Strategy string

const (
	// StrategyExact means a candidate matched both artist and title
	StrategyExact Strategy = "exact"
	// StrategyFallback means the most popular candidate of the most permissive variant was taken
	StrategyFallback Strategy = "fallback"
	// StrategyNone means no candidate was found
	StrategyNone Strategy = "none"
)

// Searcher is the part of the catalog client the resolver needs.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]core.Candidate, error)
}

type Config struct {
	SearchLimit int
	Workers     int
}

// Result is the outcome of resolving one track. Err carries a recoverable
// catalog error that turned the track into a miss.
type Result struct {
	Candidate *core.Candidate
	Strategy  Strategy
	Variant   fuzzy.QueryKind
	Cached    bool
	Err       error
}

func (r *Result) Matched() bool {
	return r.Candidate != nil
}

type Resolver struct {
	searcher   Searcher
	cache      *Cache
	normalizer *fuzzy.Normalizer
	group      singleflight.Group
	config     Config
	logger     *zap.Logger
	metrics    core.Metrics
}

func NewResolver(searcher Searcher, cache *Cache, config Config, logger *zap.Logger, metrics core.Metrics) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	if config.SearchLimit <= 0 {
		config.SearchLimit = core.DefaultSearchLimit
	}
	if config.Workers <= 0 {
		config.Workers = core.DefaultResolveWorkers
	}
	if metrics == nil {
		metrics = core.NopMetrics{}
	}

	return &Resolver{
		searcher:   searcher,
		cache:      cache,
		normalizer: fuzzy.NewNormalizer(),
		config:     config,
		logger:     logger,
		metrics:    metrics,
	}
}

// Resolve finds the best catalog match for a track. Only fatal errors are
// returned: authentication failures and context cancellation.
func (r *Resolver) Resolve(ctx context.Context, artist, title string) (Result, error) {
	if strings.TrimSpace(artist) == "" || strings.TrimSpace(title) == "" {
		r.metrics.RecordResolution("miss")
		return Result{Strategy: StrategyNone}, nil
	}

	if entry, ok := r.cache.Get(artist, title); ok {
		r.metrics.RecordResolution("cached")
		return cachedResult(entry), nil
	}

	v, err, _ := r.group.Do(r.cache.Key(artist, title), func() (any, error) {
		if entry, ok := r.cache.Get(artist, title); ok {
			return cachedResult(entry), nil
		}

		result, searchErr := r.search(ctx, artist, title)
		if searchErr != nil {
			return nil, searchErr
		}

		if result.Err == nil {
			r.cache.Put(artist, title, Entry{
				Candidate: result.Candidate,
				Strategy:  result.Strategy,
				Variant:   result.Variant,
			})
		}
		return result, nil
	})
	if err != nil {
		return Result{}, err
	}

	result := v.(Result)
	switch {
	case result.Cached:
		r.metrics.RecordResolution("cached")
	case result.Err != nil:
		r.metrics.RecordResolution("error")
	case result.Matched():
		r.metrics.RecordResolution(string(result.Strategy))
	default:
		r.metrics.RecordResolution("miss")
	}

	return result, nil
}

func cachedResult(entry Entry) Result {
	return Result{
		Candidate: entry.Candidate,
		Strategy:  entry.Strategy,
		Variant:   entry.Variant,
		Cached:    true,
	}
}

func (r *Resolver) search(ctx context.Context, artist, title string) (Result, error) {
	artistParts := r.normalizer.SplitArtists(artist)
	normTitle := r.normalizer.NormalizeTitle(title)
	versioned := r.normalizer.HasVersionMarker(title)

	var fallback []core.Candidate
	var fallbackKind fuzzy.QueryKind

	for _, variant := range r.normalizer.BuildQueries(artist, title) {
		if variant.Query == "" {
			continue
		}

		candidates, err := r.searcher.Search(ctx, variant.Query, r.config.SearchLimit)
		if err != nil {
			if !core.IsTrackRecoverable(err) || ctx.Err() != nil {
				return Result{}, err
			}
			r.metrics.RecordSearch(string(variant.Kind), "error")
			r.logger.Warn("Search failed, recording miss",
				zap.String("artist", artist),
				zap.String("title", title),
				zap.String("variant", string(variant.Kind)),
				zap.Error(err))
			return Result{Strategy: StrategyNone, Err: err}, nil
		}

		if len(candidates) == 0 {
			r.metrics.RecordSearch(string(variant.Kind), "empty")
			continue
		}
		r.metrics.RecordSearch(string(variant.Kind), "results")

		fallback = candidates
		fallbackKind = variant.Kind

		if best := r.pickExact(candidates, artistParts, normTitle, versioned); best != nil {
			r.logger.Debug("Resolved track",
				zap.String("artist", artist),
				zap.String("title", title),
				zap.String("uri", best.URI),
				zap.String("variant", string(variant.Kind)))
			return Result{Candidate: best, Strategy: StrategyExact, Variant: variant.Kind}, nil
		}
	}

	if len(fallback) > 0 {
		best := mostPopular(fallback)
		r.logger.Debug("Resolved track by popularity fallback",
			zap.String("artist", artist),
			zap.String("title", title),
			zap.String("uri", best.URI),
			zap.String("variant", string(fallbackKind)))
		return Result{Candidate: best, Strategy: StrategyFallback, Variant: fallbackKind}, nil
	}

	r.logger.Debug("No catalog match",
		zap.String("artist", artist),
		zap.String("title", title))
	return Result{Strategy: StrategyNone}, nil
}

type scoredCandidate struct {
	candidate *core.Candidate
	exact     bool
	nameLen   int
}

// pickExact filters candidates to those sharing an artist and an exact or near
// title, then orders them by popularity, exactness and name length.
func (r *Resolver) pickExact(candidates []core.Candidate, artistParts []string, normTitle string, versioned bool) *core.Candidate {
	var matches []scoredCandidate

	for i := range candidates {
		c := &candidates[i]
		if !r.artistMatches(c.Artists, artistParts) {
			continue
		}

		candTitle := r.normalizer.NormalizeTitle(c.Name)
		exact := candTitle == normTitle
		if !exact && !r.normalizer.IsNearMatch(normTitle, candTitle) {
			continue
		}

		matches = append(matches, scoredCandidate{
			candidate: c,
			exact:     exact,
			nameLen:   utf8.RuneCountInString(c.Name),
		})
	}

	if len(matches) == 0 {
		return nil
	}

	slices.SortStableFunc(matches, func(a, b scoredCandidate) int {
		if a.candidate.Popularity != b.candidate.Popularity {
			return b.candidate.Popularity - a.candidate.Popularity
		}
		if a.exact != b.exact {
			if a.exact {
				return -1
			}
			return 1
		}
		if !versioned {
			return a.nameLen - b.nameLen
		}
		return 0
	})

	best := *matches[0].candidate
	return &best
}

func (r *Resolver) artistMatches(candidateArtists []string, artistParts []string) bool {
	for _, name := range candidateArtists {
		for _, part := range r.normalizer.SplitArtists(name) {
			if slices.Contains(artistParts, part) {
				return true
			}
		}
	}
	return false
}

func mostPopular(candidates []core.Candidate) *core.Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Popularity > best.Popularity {
			best = c
		}
	}
	return &best
}

// ResolveBlock resolves every track of a block on a bounded worker pool and
// annotates the tracks in place. Manually assigned tracks are kept as they are.
// Misses are returned in track order.
func (r *Resolver) ResolveBlock(ctx context.Context, block *core.TrackBlock) ([]core.Miss, error) {
	results := make([]Result, len(block.Tracks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)

	for i := range block.Tracks {
		track := block.Tracks[i]
		if track.Manual && track.Resolved() {
			continue
		}

		g.Go(func() error {
			result, err := r.Resolve(gctx, track.Artist, track.Title)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to resolve block %q: %w", block.Title, err)
	}

	var misses []core.Miss
	for i := range block.Tracks {
		track := &block.Tracks[i]
		if track.Manual && track.Resolved() {
			continue
		}

		if results[i].Matched() {
			track.CatalogURI = results[i].Candidate.URI
			track.CatalogURL = results[i].Candidate.URL
			continue
		}

		track.CatalogURI = ""
		track.CatalogURL = ""
		track.Manual = false
		misses = append(misses, core.Miss{
			Block:  block.Title,
			Artist: track.Artist,
			Title:  track.Title,
		})
	}

	return misses, nil
}

// ResolveBlocks resolves blocks in order and returns the deduplicated misses of all of them.
func (r *Resolver) ResolveBlocks(ctx context.Context, blocks []core.TrackBlock) ([]core.Miss, error) {
	var misses []core.Miss
	seen := make(map[string]struct{})

	for i := range blocks {
		blockMisses, err := r.ResolveBlock(ctx, &blocks[i])
		if err != nil {
			return nil, err
		}

		for _, miss := range blockMisses {
			key := miss.Block + "\x00" + r.cache.Key(miss.Artist, miss.Title)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			misses = append(misses, miss)
		}
	}

	r.logger.Info("Resolved blocks",
		zap.Int("blocks", len(blocks)),
		zap.Int("misses", len(misses)),
		zap.Int("cached", r.cache.Len()))

	return misses, nil
}

// Candidates returns up to MaxManualCandidates unique candidates from the structured
// and free-text variants, for choosing a match by hand. Unlike Resolve, catalog
// errors are returned.
func (r *Resolver) Candidates(ctx context.Context, artist, title string) ([]core.Candidate, error) {
	if strings.TrimSpace(artist) == "" && strings.TrimSpace(title) == "" {
		return nil, errors.New("artist or title is required")
	}

	seen := make(map[string]struct{})
	var candidates []core.Candidate

	for _, variant := range r.normalizer.BuildQueries(artist, title) {
		if variant.Kind == fuzzy.QueryTitleOnly || variant.Query == "" {
			continue
		}

		results, err := r.searcher.Search(ctx, variant.Query, MaxManualCandidates)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}

		for _, c := range results {
			if _, ok := seen[c.URI]; ok {
				continue
			}
			seen[c.URI] = struct{}{}
			candidates = append(candidates, c)
			if len(candidates) >= MaxManualCandidates {
				return candidates, nil
			}
		}
	}

	return candidates, nil
}
