package resolve

import (
	"sync"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/pkg/fuzzy"
)

// Entry is a memoized resolution. A nil Candidate records a confirmed miss.
type Entry struct {
	Candidate *core.Candidate
	Strategy  Strategy
	Variant   fuzzy.QueryKind
}

// Cache memoizes resolutions for the lifetime of one run. It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	normalizer *fuzzy.Normalizer
}

func NewCache() *Cache {
	return &Cache{
		entries:    make(map[string]Entry),
		normalizer: fuzzy.NewNormalizer(),
	}
}

func (c *Cache) Key(artist, title string) string {
	return c.normalizer.TrackKey(artist, title)
}

func (c *Cache) Get(artist, title string) (Entry, bool) {
	key := c.Key(artist, title)

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	return entry, ok
}

func (c *Cache) Put(artist, title string, entry Entry) {
	key := c.Key(artist, title)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
