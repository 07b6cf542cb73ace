package flood

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestFloodgate(t *testing.T, limit int) (*Floodgate, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	fg := newFloodgate(limit, clock.Now)
	t.Cleanup(fg.Stop)
	return fg, clock
}

func TestFloodgate_Allow_BlocksOverLimit(t *testing.T) {
	fg, _ := newTestFloodgate(t, 3)

	for i := 0; i < 3; i++ {
		if !fg.Allow("10.0.0.1", "POST /api/import") {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	if fg.Allow("10.0.0.1", "POST /api/import") {
		t.Error("4th request should be blocked")
	}
}

func TestFloodgate_Allow_SlidingWindow(t *testing.T) {
	fg, clock := newTestFloodgate(t, 2)

	fg.Allow("client", "route")
	clock.Advance(30 * time.Second)
	fg.Allow("client", "route")

	if fg.Allow("client", "route") {
		t.Error("Third request within the window should be blocked")
	}

	if wait := fg.RetryAfter("client", "route"); wait != 30*time.Second {
		t.Errorf("Expected 30s retry-after, got %v", wait)
	}

	clock.Advance(31 * time.Second)
	if !fg.Allow("client", "route") {
		t.Error("Request after the first one left the window should be allowed")
	}
	if fg.Allow("client", "route") {
		t.Error("Second call within the window should still count")
	}
}

func TestFloodgate_Allow_PerClientPerRoute(t *testing.T) {
	fg, _ := newTestFloodgate(t, 1)

	tests := []struct {
		client string
		route  string
		want   bool
	}{
		{"a", "POST /api/import", true},
		{"a", "POST /api/import", false},
		{"a", "POST /api/crawl", true},
		{"b", "POST /api/import", true},
		{"", "", true},
		{"", "", false},
	}

	for _, tt := range tests {
		if got := fg.Allow(tt.client, tt.route); got != tt.want {
			t.Errorf("Allow(%q, %q) = %v, want %v", tt.client, tt.route, got, tt.want)
		}
	}
}

func TestFloodgate_DisabledLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		fg, _ := newTestFloodgate(t, limit)
		for i := 0; i < 100; i++ {
			if !fg.Allow("client", "route") {
				t.Fatalf("Limit %d: request %d should be allowed", limit, i+1)
			}
		}
		if wait := fg.RetryAfter("client", "route"); wait != 0 {
			t.Errorf("Limit %d: expected no retry-after, got %v", limit, wait)
		}
	}
}

func TestFloodgate_GetStats(t *testing.T) {
	fg, _ := newTestFloodgate(t, 5)

	stats := fg.GetStats()
	if stats.ActiveClients != 0 || stats.LimitPerMinute != 5 || stats.WindowSeconds != 60 {
		t.Errorf("Unexpected initial stats: %+v", stats)
	}

	fg.Allow("a", "r1")
	fg.Allow("b", "r1")
	fg.Allow("a", "r2")

	if stats = fg.GetStats(); stats.ActiveClients != 3 {
		t.Errorf("Expected 3 active clients, got %d", stats.ActiveClients)
	}
}

func TestFloodgate_Cleanup(t *testing.T) {
	fg, clock := newTestFloodgate(t, 1)

	fg.Allow("idle", "route")
	clock.Advance(5 * time.Minute)
	fg.Allow("active", "route")
	clock.Advance(6 * time.Minute)

	fg.performCleanup()

	if stats := fg.GetStats(); stats.ActiveClients != 1 {
		t.Errorf("Expected only the recent client to remain, got %d", stats.ActiveClients)
	}
	if !fg.Allow("idle", "route") {
		t.Error("Forgotten client should start over")
	}
}

func TestFloodgate_ConcurrentAccess(t *testing.T) {
	fg, _ := newTestFloodgate(t, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if fg.Allow("client", "route") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
				fg.GetStats()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("Expected exactly 10 allowed requests, got %d", allowed)
	}
}

func TestFloodgate_StopTwice(t *testing.T) {
	fg := New(1)
	fg.Stop()
	fg.Stop()
}
