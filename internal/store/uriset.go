// Package store provides URI deduplication for playlist building and the run history database.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultURISetCapacity is the initial capacity when none is given
	DefaultURISetCapacity = 256
	// BloomFalsePositiveRate is the target false positive rate of the membership pre-check
	BloomFalsePositiveRate = 0.001
)

// URISet is an insertion-ordered set of catalog URIs. A Bloom filter answers
// most negative lookups; the LRU list is the authoritative, ordered store and
// grows instead of evicting.
type URISet struct {
	bloom    *bloom.BloomFilter
	lru      *lru.Cache[string, struct{}]
	mutex    sync.RWMutex
	capacity int
}

func NewURISet(capacity int) *URISet {
	if capacity <= 0 {
		capacity = DefaultURISetCapacity
	}

	lruCache, _ := lru.New[string, struct{}](capacity)

	return &URISet{
		bloom:    bloom.NewWithEstimates(uint(capacity), BloomFalsePositiveRate),
		lru:      lruCache,
		capacity: capacity,
	}
}

// NewURISetFrom returns a set holding uris in order.
func NewURISetFrom(uris []string) *URISet {
	s := NewURISet(len(uris))
	s.AddAll(uris)
	return s
}

// Has reports whether uri is in the set.
func (s *URISet) Has(uri string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.bloom.TestString(uri) {
		return false
	}

	return s.lru.Contains(uri)
}

// Add inserts uri and reports whether it was new. Empty URIs are ignored.
func (s *URISet) Add(uri string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.add(uri)
}

// AddAll inserts uris in order and returns how many were new.
func (s *URISet) AddAll(uris []string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	added := 0
	for _, uri := range uris {
		if s.add(uri) {
			added++
		}
	}
	return added
}

func (s *URISet) add(uri string) bool {
	if uri == "" {
		return false
	}
	if s.bloom.TestString(uri) && s.lru.Contains(uri) {
		return false
	}

	if s.lru.Len() >= s.capacity {
		s.grow()
	}

	s.bloom.AddString(uri)
	s.lru.Add(uri, struct{}{})
	return true
}

// grow doubles the capacity. The Bloom filter is rebuilt for the new size.
func (s *URISet) grow() {
	s.capacity *= 2
	s.lru.Resize(s.capacity)

	s.bloom = bloom.NewWithEstimates(uint(s.capacity), BloomFalsePositiveRate)
	for _, uri := range s.lru.Keys() {
		s.bloom.AddString(uri)
	}
}

// Remove deletes uri from the set. The Bloom filter keeps the bit, which only
// costs an extra exact lookup.
func (s *URISet) Remove(uri string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lru.Remove(uri)
}

// Load clears the set and inserts uris in order.
func (s *URISet) Load(uris []string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.clear()
	for _, uri := range uris {
		s.add(uri)
	}
}

// Size returns the number of URIs in the set.
func (s *URISet) Size() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lru.Len()
}

// URIs returns the members in insertion order.
func (s *URISet) URIs() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys := s.lru.Keys()
	if keys == nil {
		return []string{}
	}
	return keys
}

// Missing returns the URIs of desired not in the set, in desired order and
// without duplicates.
func (s *URISet) Missing(desired []string) []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	seen := make(map[string]struct{}, len(desired))
	missing := []string{}

	for _, uri := range desired {
		if uri == "" {
			continue
		}
		if _, ok := seen[uri]; ok {
			continue
		}
		seen[uri] = struct{}{}

		if s.bloom.TestString(uri) && s.lru.Contains(uri) {
			continue
		}
		missing = append(missing, uri)
	}

	return missing
}

// Clear removes all URIs from the set.
func (s *URISet) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clear()
}

func (s *URISet) clear() {
	s.bloom = bloom.NewWithEstimates(uint(s.capacity), BloomFalsePositiveRate)
	s.lru.Purge()
}
