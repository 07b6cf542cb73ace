// Package flood limits how often one API client may call mutating routes.
package flood

import (
	"sync"
	"time"
)

const (
	// windowDuration is the sliding window the limit applies to
	windowDuration = 60 * time.Second
	// cleanupInterval is how often idle clients are forgotten
	cleanupInterval = 10 * time.Minute
	// idleTimeout is how long a client may stay quiet before it is forgotten
	idleTimeout = 10 * time.Minute
)

// Floodgate is a per-client, per-route sliding window limiter.
type Floodgate struct {
	limitPerMinute int                     // Maximum requests per client and route per minute
	entries        map[string]*clientEntry // Key: "route|client"
	mutex          sync.RWMutex
	stopCleanup    chan struct{}
	stopOnce       sync.Once
	now            func() time.Time
}

type clientEntry struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// New creates a Floodgate allowing limitPerMinute requests per client and route. A
// limit of zero or less disables limiting.
func New(limitPerMinute int) *Floodgate {
	return newFloodgate(limitPerMinute, time.Now)
}

func newFloodgate(limitPerMinute int, now func() time.Time) *Floodgate {
	fg := &Floodgate{
		limitPerMinute: limitPerMinute,
		entries:        make(map[string]*clientEntry),
		stopCleanup:    make(chan struct{}),
		now:            now,
	}

	go fg.cleanup()

	return fg
}

// Stop ends the background cleanup. It is safe to call more than once.
func (fg *Floodgate) Stop() {
	fg.stopOnce.Do(func() { close(fg.stopCleanup) })
}

// Allow reports whether client may call route now, counting the call when it may.
func (fg *Floodgate) Allow(client, route string) bool {
	if fg.limitPerMinute <= 0 {
		return true
	}

	key := route + "|" + client
	now := fg.now()

	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	entry, exists := fg.entries[key]
	if !exists {
		entry = &clientEntry{
			timestamps: make([]time.Time, 0, fg.limitPerMinute+1),
		}
		fg.entries[key] = entry
	}
	entry.lastSeen = now

	windowStart := now.Add(-windowDuration)
	valid := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= fg.limitPerMinute {
		return false
	}

	entry.timestamps = append(entry.timestamps, now)
	return true
}

// RetryAfter returns how long client must wait before route admits another call.
func (fg *Floodgate) RetryAfter(client, route string) time.Duration {
	fg.mutex.RLock()
	defer fg.mutex.RUnlock()

	entry, exists := fg.entries[route+"|"+client]
	if !exists || len(entry.timestamps) < fg.limitPerMinute || fg.limitPerMinute <= 0 {
		return 0
	}

	wait := entry.timestamps[0].Add(windowDuration).Sub(fg.now())
	if wait < 0 {
		return 0
	}
	return wait
}

func (fg *Floodgate) cleanup() {
	fg.performCleanup()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fg.performCleanup()
		case <-fg.stopCleanup:
			return
		}
	}
}

func (fg *Floodgate) performCleanup() {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	cutoff := fg.now().Add(-idleTimeout)
	for key, entry := range fg.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(fg.entries, key)
		}
	}
}

// GetStats returns statistics about the floodgate for monitoring
func (fg *Floodgate) GetStats() Stats {
	fg.mutex.RLock()
	defer fg.mutex.RUnlock()

	return Stats{
		ActiveClients:  len(fg.entries),
		LimitPerMinute: fg.limitPerMinute,
		WindowSeconds:  int(windowDuration.Seconds()),
	}
}

type Stats struct {
	ActiveClients  int `json:"active_clients"`
	LimitPerMinute int `json:"limit_per_minute"`
	WindowSeconds  int `json:"window_seconds"`
}
