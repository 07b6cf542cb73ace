package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/smartschat/playlist-from-web/internal/core"
)

func TestFlagToEnvVar(t *testing.T) {
	tests := []struct {
		flag string
		want string
	}{
		{"log-level", "PFW_LOG_LEVEL"},
		{"spotify-refresh-token", "PFW_SPOTIFY_REFRESH_TOKEN"},
		{"server-api-requests-per-minute", "PFW_SERVER_API_REQUESTS_PER_MINUTE"},
	}

	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			if got := flagToEnvVar(tt.flag); got != tt.want {
				t.Errorf("flagToEnvVar(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestBuildLogger(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := buildLogger(tt.level, "json")
			if !l.Core().Enabled(tt.want) {
				t.Errorf("level %s should be enabled", tt.want)
			}
			if tt.want > zapcore.DebugLevel && l.Core().Enabled(tt.want-1) {
				t.Errorf("level %s should be disabled", tt.want-1)
			}
		})
	}
}

func TestBuildConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	viper.Set("data-dir", dir)
	viper.Set("resolve-workers", 0)
	viper.Set("crawl-workers", 3)
	viper.Set("llm-provider", "Anthropic")
	viper.Set("spotify-search-limit", 10)
	viper.Set("master-playlist", true)
	viper.Set("spotify-request-timeout-secs", 5)

	cfg := buildConfig()

	if cfg.App.HistoryPath != filepath.Join(dir, historyFileName) {
		t.Errorf("HistoryPath = %q", cfg.App.HistoryPath)
	}
	if cfg.App.ResolveWorkers != core.DefaultResolveWorkers {
		t.Errorf("ResolveWorkers = %d, want default", cfg.App.ResolveWorkers)
	}
	if cfg.App.CrawlWorkers != 3 {
		t.Errorf("CrawlWorkers = %d, want 3", cfg.App.CrawlWorkers)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", cfg.LLM.Provider)
	}
	if cfg.Spotify.SearchLimit != 10 {
		t.Errorf("SearchLimit = %d, want 10", cfg.Spotify.SearchLimit)
	}
	if cfg.Spotify.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.Spotify.RequestTimeout)
	}
	if !cfg.App.MasterPlaylist {
		t.Error("MasterPlaylist should be set")
	}
	if cfg.Server.Host != defaultServerHost {
		t.Errorf("Host = %q", cfg.Server.Host)
	}

	viper.Set("history-path", noneProvider)
	if cfg := buildConfig(); cfg.App.HistoryPath != "" {
		t.Errorf("history should be disabled, got %q", cfg.App.HistoryPath)
	}
}

func TestValidateConfig(t *testing.T) {
	original := config
	t.Cleanup(func() { config = original })

	tests := []struct {
		name    string
		mutate  func(cfg *core.Config)
		opts    serviceOptions
		wantErr bool
	}{
		{
			name:   "parse only with openai key",
			mutate: func(cfg *core.Config) { cfg.LLM.APIKey = "key" },
			opts:   serviceOptions{extractor: true},
		},
		{
			name:    "missing llm key",
			mutate:  func(*core.Config) {},
			opts:    serviceOptions{extractor: true},
			wantErr: true,
		},
		{
			name:    "no provider",
			mutate:  func(cfg *core.Config) { cfg.LLM.Provider = noneProvider },
			opts:    serviceOptions{extractor: true},
			wantErr: true,
		},
		{
			name:   "ollama without key",
			mutate: func(cfg *core.Config) { cfg.LLM.Provider = "ollama" },
			opts:   serviceOptions{extractor: true},
		},
		{
			name: "catalog without refresh token",
			mutate: func(cfg *core.Config) {
				cfg.Spotify.ClientID = "id"
				cfg.Spotify.ClientSecret = "secret"
			},
			opts:    serviceOptions{catalog: catalogRequired},
			wantErr: true,
		},
		{
			name: "catalog configured",
			mutate: func(cfg *core.Config) {
				cfg.Spotify.ClientID = "id"
				cfg.Spotify.ClientSecret = "secret"
				cfg.Spotify.RefreshToken = "refresh"
			},
			opts: serviceOptions{catalog: catalogRequired},
		},
		{
			name:   "optional catalog is not validated",
			mutate: func(*core.Config) {},
			opts:   serviceOptions{catalog: catalogOptional},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config = core.DefaultConfig()
			tt.mutate(config)

			err := validateConfig(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateEnvExampleContent(t *testing.T) {
	content := generateEnvExampleContent(rootCmd)

	for _, want := range []string{
		"PFW_SPOTIFY_CLIENT_ID=your_spotify_client_id",
		"PFW_LLM_PROVIDER=openai",
		"PFW_SERVER_PORT=8080",
		"PFW_HISTORY_PATH=",
		"QUICK SETUP GUIDE",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("missing %q in generated content", want)
		}
	}

	for _, section := range envSections {
		for _, setting := range section.settings {
			if rootCmd.PersistentFlags().Lookup(setting.flag) == nil {
				t.Errorf("env setting %q has no flag", setting.flag)
			}
		}
	}
}
