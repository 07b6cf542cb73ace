package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), zap.NewNop())
}

func TestStore_ParsedRoundTrip(t *testing.T) {
	store := newTestStore(t)

	page := &core.ParsedPage{
		SourceURL:  "https://example.com/show",
		SourceName: "hr2",
		FetchedAt:  time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		Blocks: []core.TrackBlock{{
			Title:  "Hörbar",
			Tracks: []core.Track{{Artist: "Café Tacvba", Title: "Eres"}},
		}},
	}

	path, err := store.SaveParsed("example-com-show", page)
	if err != nil {
		t.Fatalf("SaveParsed() error = %v", err)
	}
	if want, _ := store.ParsedPath("example-com-show"); path != want {
		t.Errorf("Unexpected path %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "\n  \"source_url\"") {
		t.Errorf("Expected indented JSON, got %s", data)
	}
	if !strings.Contains(string(data), "Café Tacvba") {
		t.Errorf("Expected unescaped unicode, got %s", data)
	}

	loaded, err := store.LoadParsed("example-com-show")
	if err != nil {
		t.Fatalf("LoadParsed() error = %v", err)
	}
	if loaded.SourceName != "hr2" || len(loaded.Blocks) != 1 || loaded.Blocks[0].Tracks[0].Artist != "Café Tacvba" {
		t.Errorf("Unexpected page %+v", loaded)
	}
	if !loaded.FetchedAt.Equal(page.FetchedAt) {
		t.Errorf("Unexpected fetched_at %v", loaded.FetchedAt)
	}
}

func TestStore_NotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.LoadParsed("missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("LoadParsed() expected ErrNotFound, got %v", err)
	}
	if _, err := store.LoadSpotify("missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("LoadSpotify() expected ErrNotFound, got %v", err)
	}
	if _, err := store.LoadCrawl("missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("LoadCrawl() expected ErrNotFound, got %v", err)
	}
	if _, err := store.LoadRaw("missing", "html"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("LoadRaw() expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteParsed("missing", true); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("DeleteParsed() expected ErrNotFound, got %v", err)
	}
}

func TestStore_InvalidSlug(t *testing.T) {
	store := newTestStore(t)

	for _, slug := range []string{"", "..", "../etc", `a\b`} {
		if _, err := store.LoadParsed(slug); !errors.Is(err, ErrInvalidSlug) {
			t.Errorf("LoadParsed(%q) expected ErrInvalidSlug, got %v", slug, err)
		}
		if _, err := store.ParsedPath(slug); !errors.Is(err, ErrInvalidSlug) {
			t.Errorf("ParsedPath(%q) expected ErrInvalidSlug, got %v", slug, err)
		}
	}
}

func TestStore_Raw(t *testing.T) {
	store := newTestStore(t)

	path, err := store.SaveRaw("page", "html", []byte("<html></html>"))
	if err != nil {
		t.Fatalf("SaveRaw() error = %v", err)
	}
	if filepath.Base(path) != "page.html" || filepath.Base(filepath.Dir(path)) != RawDir {
		t.Errorf("Unexpected raw path %q", path)
	}

	data, err := store.LoadRaw("page", "html")
	if err != nil || string(data) != "<html></html>" {
		t.Errorf("LoadRaw() = %q, %v", data, err)
	}
}

func TestStore_DeleteParsed(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.SaveParsed("a", &core.ParsedPage{}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SaveSpotify("a", &core.SpotifyArtifact{}); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteParsed("a", false); err != nil {
		t.Fatalf("DeleteParsed() error = %v", err)
	}
	if _, err := store.LoadSpotify("a"); err != nil {
		t.Errorf("Spotify artifact should survive, got %v", err)
	}

	if err := store.DeleteParsed("a", true); err != nil {
		t.Fatalf("DeleteParsed() with spotify error = %v", err)
	}
	if _, err := store.LoadSpotify("a"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Spotify artifact should be gone, got %v", err)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := newTestStore(t)

	empty, err := store.ListParsed()
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("ListParsed() on empty store = %v, %v", empty, err)
	}

	base := time.Now().Add(-time.Hour)
	for i, slug := range []string{"old", "middle", "new"} {
		path, err := store.SaveParsed(slug, &core.ParsedPage{})
		if err != nil {
			t.Fatal(err)
		}
		modTime := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(store.Root(), ParsedDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	slugs, err := store.ListParsed()
	if err != nil {
		t.Fatalf("ListParsed() error = %v", err)
	}
	if !slices.Equal(slugs, []string{"new", "middle", "old"}) {
		t.Errorf("ListParsed() = %v", slugs)
	}
}

func TestStore_Crawl(t *testing.T) {
	store := newTestStore(t)

	result := &core.CrawlResult{
		IndexURL:        "https://example.com/archive",
		DiscoveredLinks: []core.ExtractedLink{{URL: "https://example.com/a"}},
		Processed: []core.CrawlEntry{
			{URL: "https://example.com/a", Status: core.CrawlStatusSuccess, Mode: "import"},
		},
	}
	if _, err := store.SaveCrawl("archive", result); err != nil {
		t.Fatalf("SaveCrawl() error = %v", err)
	}

	loaded, err := store.LoadCrawl("archive")
	if err != nil {
		t.Fatalf("LoadCrawl() error = %v", err)
	}
	if loaded.Counts()[core.CrawlStatusSuccess] != 1 {
		t.Errorf("Unexpected crawl %+v", loaded)
	}

	slugs, err := store.ListCrawls()
	if err != nil || !slices.Equal(slugs, []string{"archive"}) {
		t.Errorf("ListCrawls() = %v, %v", slugs, err)
	}
}
