package core

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.LLM.Provider != "openai" {
		t.Errorf("Expected default LLM provider to be openai, got %s", config.LLM.Provider)
	}

	if config.Spotify.SearchLimit != DefaultSearchLimit {
		t.Errorf("Expected default search limit %d, got %d", DefaultSearchLimit, config.Spotify.SearchLimit)
	}

	if config.Spotify.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("Expected default max attempts %d, got %d", DefaultMaxAttempts, config.Spotify.MaxAttempts)
	}

	if config.App.ResolveWorkers != DefaultResolveWorkers {
		t.Errorf("Expected default resolve workers %d, got %d", DefaultResolveWorkers, config.App.ResolveWorkers)
	}

	if config.App.MasterPlaylist {
		t.Error("Expected master playlist to be disabled by default")
	}

	if config.Log.Format != "json" {
		t.Errorf("Expected default log format json, got %s", config.Log.Format)
	}
}

func TestConfigConstants(t *testing.T) {
	if DefaultServerPort <= 0 || DefaultServerPort > 65535 {
		t.Error("DefaultServerPort should be a valid port number")
	}

	if DefaultMaxAttempts < 4 {
		t.Error("DefaultMaxAttempts should allow at least three retries")
	}

	if DefaultResolveWorkers <= 0 || DefaultCrawlWorkers <= 0 {
		t.Error("worker defaults should be positive")
	}
}
