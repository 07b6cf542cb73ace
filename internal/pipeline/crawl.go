package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/internal/fetch"
	"github.com/smartschat/playlist-from-web/pkg/text"
)

type CrawlOptions struct {
	// Dev parses each link without resolving or writing playlists.
	Dev   bool
	Force bool
	// MaxLinks caps the number of links processed, 0 means all.
	MaxLinks   int
	SearchOnly bool
	Master     bool
	// Workers bounds concurrent link processing, 0 uses the configured default.
	Workers int
}

// Crawl discovers the track listing links of an index page and runs each of them
// through Dev or Import. A failing link is recorded on its entry and the others
// continue. The crawl artifact is written once every link is processed.
func (s *Service) Crawl(ctx context.Context, indexURL string, opts CrawlOptions) (*core.CrawlResult, string, error) {
	if s.fetcher == nil || s.extractor == nil {
		return nil, "", errors.New("fetcher and extractor are required to crawl")
	}
	if !opts.Dev && s.catalog == nil {
		return nil, "", ErrCatalogUnavailable
	}

	links, err := s.discoverLinks(ctx, indexURL)
	if err != nil {
		return nil, "", err
	}

	selected := links
	if opts.MaxLinks > 0 && len(selected) > opts.MaxLinks {
		selected = selected[:opts.MaxLinks]
	}

	s.logger.Info("Crawling index",
		zap.String("url", indexURL),
		zap.Int("discovered", len(links)),
		zap.Int("selected", len(selected)))

	workers := opts.Workers
	if workers <= 0 {
		workers = s.config.App.CrawlWorkers
	}
	if workers <= 0 {
		workers = core.DefaultCrawlWorkers
	}

	entries := make([]core.CrawlEntry, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, link := range selected {
		g.Go(func() error {
			entries[i] = s.processLink(gctx, link, opts)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	result := &core.CrawlResult{
		IndexURL:        indexURL,
		DiscoveredLinks: links,
		Processed:       entries,
		CrawledAt:       s.now().UTC(),
	}

	path, err := s.store.SaveCrawl(text.SlugifyURL(indexURL), result)
	if err != nil {
		return nil, "", err
	}

	counts := result.Counts()
	s.logger.Info("Crawl finished",
		zap.String("url", indexURL),
		zap.Int("success", counts[core.CrawlStatusSuccess]),
		zap.Int("skipped", counts[core.CrawlStatusSkipped]),
		zap.Int("failed", counts[core.CrawlStatusFailed]),
		zap.String("artifact", path))

	return result, path, nil
}

// discoverLinks fetches the index and asks the extractor which of its links lead to track listings.
func (s *Service) discoverLinks(ctx context.Context, indexURL string) ([]core.ExtractedLink, error) {
	page, err := s.fetcher.Fetch(ctx, indexURL)
	if err != nil {
		return nil, fmt.Errorf("fetch index %s: %w", indexURL, err)
	}
	if page.IsPDF {
		return nil, fmt.Errorf("index %s is a PDF", indexURL)
	}

	anchors := fetch.ExtractLinks(page.Body)
	if len(anchors) == 0 {
		s.logger.Warn("Index page has no links", zap.String("url", indexURL))
		return []core.ExtractedLink{}, nil
	}

	links, err := s.extractor.ExtractLinks(ctx, indexURL, fetch.FormatLinks(anchors))
	if err != nil {
		return nil, fmt.Errorf("extract links from %s: %w", indexURL, err)
	}
	if links == nil {
		links = []core.ExtractedLink{}
	}
	return links, nil
}

func (s *Service) processLink(ctx context.Context, link core.ExtractedLink, opts CrawlOptions) core.CrawlEntry {
	entry := core.CrawlEntry{
		URL:         link.URL,
		Description: link.Description,
	}

	var (
		result *RunResult
		err    error
	)
	if opts.Dev {
		entry.Mode = ModeDev
		result, err = s.Dev(ctx, link.URL, opts.Force)
	} else {
		entry.Mode = ModeImport
		result, err = s.Import(ctx, link.URL, ImportOptions{
			Force:      opts.Force,
			Master:     opts.Master,
			SearchOnly: opts.SearchOnly,
		})
	}

	applyRun(&entry, result, err)
	if err != nil {
		s.logger.Warn("Crawl link failed", zap.String("url", link.URL), zap.Error(err))
	}
	return entry
}

// applyRun copies the outcome of a run onto its crawl entry.
func applyRun(entry *core.CrawlEntry, result *RunResult, err error) {
	if err != nil {
		entry.Status = core.CrawlStatusFailed
		entry.Error = err.Error()
		return
	}

	entry.Error = ""
	if result.Status == StatusSkipped {
		entry.Status = core.CrawlStatusSkipped
	} else {
		entry.Status = core.CrawlStatusSuccess
	}
	entry.Artifact = result.SpotifyPath
	if entry.Mode == ModeDev {
		entry.Artifact = result.ParsedPath
	}
}

// Reprocess re-runs one entry of a saved crawl with force set and writes the
// updated entry back. A run error is recorded on the entry and also returned.
func (s *Service) Reprocess(ctx context.Context, crawlSlug string, index int, dev bool) (*core.CrawlEntry, error) {
	crawl, err := s.store.LoadCrawl(crawlSlug)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(crawl.Processed) {
		return nil, fmt.Errorf("%w: entry %d of %d", ErrInvalidIndex, index, len(crawl.Processed))
	}

	entry := &crawl.Processed[index]

	var (
		result *RunResult
		runErr error
	)
	if dev {
		entry.Mode = ModeDev
		result, runErr = s.Dev(ctx, entry.URL, true)
	} else {
		if s.catalog == nil {
			return nil, ErrCatalogUnavailable
		}
		entry.Mode = ModeImport
		result, runErr = s.Import(ctx, entry.URL, ImportOptions{Force: true, Master: s.config.App.MasterPlaylist})
	}
	applyRun(entry, result, runErr)

	if _, err := s.store.SaveCrawl(crawlSlug, crawl); err != nil {
		return nil, err
	}

	s.logger.Info("Reprocessed crawl entry",
		zap.String("crawl", crawlSlug),
		zap.Int("index", index),
		zap.String("status", string(entry.Status)))

	return entry, runErr
}
