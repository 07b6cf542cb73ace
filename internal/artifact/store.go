// Package artifact persists raw pages, parsed pages, catalog artifacts and crawl
// summaries as files under the data directory.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/core"
)

const (
	RawDir     = "raw"
	ParsedDir  = "parsed"
	SpotifyDir = "spotify"
	CrawlDir   = "crawl"

	jsonExt = ".json"
)

var ErrInvalidSlug = errors.New("invalid artifact slug")

// Store is a file-backed core.ArtifactStore rooted at a data directory.
type Store struct {
	root   string
	logger *zap.Logger
}

func NewStore(root string, logger *zap.Logger) *Store {
	return &Store{root: root, logger: logger}
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) LoadRaw(slug, ext string) ([]byte, error) {
	path, err := s.path(RawDir, slug, "."+ext)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, notFound(err, path)
	}
	return data, nil
}

func (s *Store) SaveRaw(slug, ext string, data []byte) (string, error) {
	path, err := s.path(RawDir, slug, "."+ext)
	if err != nil {
		return "", err
	}
	if err := writeFile(path, data); err != nil {
		return "", err
	}
	s.logger.Debug("Saved raw page", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// ParsedPath is where the parsed artifact of slug lives. Slugs that would leave the
// parsed directory are rejected with ErrInvalidSlug.
func (s *Store) ParsedPath(slug string) (string, error) {
	return s.path(ParsedDir, slug, jsonExt)
}

func (s *Store) LoadParsed(slug string) (*core.ParsedPage, error) {
	path, err := s.path(ParsedDir, slug, jsonExt)
	if err != nil {
		return nil, err
	}
	return s.LoadParsedFile(path)
}

// LoadParsedFile reads a parsed page from any path, for replaying artifacts outside the data directory.
func (s *Store) LoadParsedFile(path string) (*core.ParsedPage, error) {
	var page core.ParsedPage
	if err := readJSON(path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *Store) SaveParsed(slug string, page *core.ParsedPage) (string, error) {
	path, err := s.path(ParsedDir, slug, jsonExt)
	if err != nil {
		return "", err
	}
	return path, s.save(path, page)
}

func (s *Store) ListParsed() ([]string, error) {
	return s.list(ParsedDir)
}

// DeleteParsed removes the parsed artifact and, with alsoSpotify, the catalog
// artifact of the same slug. It returns core.ErrNotFound when nothing was deleted.
func (s *Store) DeleteParsed(slug string, alsoSpotify bool) error {
	dirs := []string{ParsedDir}
	if alsoSpotify {
		dirs = append(dirs, SpotifyDir)
	}

	deleted := false
	for _, dir := range dirs {
		path, err := s.path(dir, slug, jsonExt)
		if err != nil {
			return err
		}
		err = os.Remove(path)
		switch {
		case err == nil:
			deleted = true
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("delete %s: %w", path, err)
		}
	}

	if !deleted {
		return fmt.Errorf("artifact %s: %w", slug, core.ErrNotFound)
	}
	s.logger.Info("Deleted artifact", zap.String("slug", slug), zap.Bool("alsoSpotify", alsoSpotify))
	return nil
}

func (s *Store) SpotifyPath(slug string) string {
	return filepath.Join(s.root, SpotifyDir, slug+jsonExt)
}

func (s *Store) LoadSpotify(slug string) (*core.SpotifyArtifact, error) {
	path, err := s.path(SpotifyDir, slug, jsonExt)
	if err != nil {
		return nil, err
	}
	var artifact core.SpotifyArtifact
	if err := readJSON(path, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (s *Store) SaveSpotify(slug string, artifact *core.SpotifyArtifact) (string, error) {
	path, err := s.path(SpotifyDir, slug, jsonExt)
	if err != nil {
		return "", err
	}
	return path, s.save(path, artifact)
}

func (s *Store) CrawlPath(slug string) string {
	return filepath.Join(s.root, CrawlDir, slug+jsonExt)
}

func (s *Store) LoadCrawl(slug string) (*core.CrawlResult, error) {
	path, err := s.path(CrawlDir, slug, jsonExt)
	if err != nil {
		return nil, err
	}
	var result core.CrawlResult
	if err := readJSON(path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Store) SaveCrawl(slug string, result *core.CrawlResult) (string, error) {
	path, err := s.path(CrawlDir, slug, jsonExt)
	if err != nil {
		return "", err
	}
	return path, s.save(path, result)
}

func (s *Store) ListCrawls() ([]string, error) {
	return s.list(CrawlDir)
}

func (s *Store) path(dir, slug, ext string) (string, error) {
	if slug == "" || slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	return filepath.Join(s.root, dir, slug+ext), nil
}

func (s *Store) save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := writeFile(path, append(data, '\n')); err != nil {
		return err
	}
	s.logger.Debug("Saved artifact", zap.String("path", path))
	return nil
}

// list returns the slugs of the JSON files in dir, most recently modified first.
func (s *Store) list(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	type item struct {
		slug    string
		modTime time.Time
	}
	items := make([]item, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != jsonExt {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, item{slug: strings.TrimSuffix(entry.Name(), jsonExt), modTime: info.ModTime()})
	}

	slices.SortStableFunc(items, func(a, b item) int {
		if c := b.modTime.Compare(a.modTime); c != 0 {
			return c
		}
		return strings.Compare(a.slug, b.slug)
	})

	slugs := make([]string, len(items))
	for i := range items {
		slugs[i] = items[i].slug
	}
	return slugs, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return notFound(err, path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func notFound(err error, path string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, core.ErrNotFound)
	}
	return fmt.Errorf("read %s: %w", path, err)
}
