// Package main provides the playlistfromweb CLI application entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/smartschat/playlist-from-web/internal/core"
)

const (
	envPrefix         = "PFW"
	defaultServerHost = "0.0.0.0"
	noneProvider      = "none"
	historyFileName   = "history.db"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "playlistfromweb",
	Short: "playlist-from-web - web track listings → Spotify playlists",
	Long: `playlistfromweb fetches web pages listing played tracks (radio shows, setlists, PDFs),
extracts track blocks with a language model, resolves every track against the Spotify catalog
and materializes one playlist per block, plus an optional aggregate playlist.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if viper.GetBool("generate-env-example") {
			return generateEnvExample(cmd)
		}
		return cmd.Help()
	},
}

func main() {
	defer func() {
		if logger != nil {
			_ = logger.Sync()
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, console)")
	flags.String("data-dir", "data", "directory for raw, parsed, spotify and crawl artifacts")
	flags.String("history-path", "", "run history database (default is <data-dir>/history.db, \"none\" disables)")
	flags.Bool("master-playlist", false, "also materialize the aggregate playlist of all blocks")
	flags.Int("resolve-workers", core.DefaultResolveWorkers, "concurrent track resolutions per block")
	flags.Int("crawl-workers", core.DefaultCrawlWorkers, "concurrent links processed while crawling")
	flags.Int("fetch-timeout-secs", 60, "page fetch timeout in seconds")
	flags.String("spotify-client-id", "", "Spotify client ID")
	flags.String("spotify-client-secret", "", "Spotify client secret")
	flags.String("spotify-refresh-token", "", "Spotify refresh token (obtain with the auth command)")
	flags.String("spotify-user-id", "", "Spotify user owning the playlists (default is the authenticated user)")
	flags.String("spotify-redirect-url", "", "OAuth redirect URL used by the auth command")
	flags.Int("spotify-search-limit", core.DefaultSearchLimit, "candidates requested per catalog search")
	flags.Int("spotify-max-attempts", core.DefaultMaxAttempts, "attempts per rate limited or failing catalog request")
	flags.Float64("spotify-requests-per-second", 0, "pace catalog requests (0 disables pacing)")
	flags.Int("spotify-request-timeout-secs", 20, "timeout of a single catalog request attempt in seconds")
	flags.String("llm-provider", "openai", "LLM provider (openai, anthropic, ollama, none)")
	flags.String("llm-model", "", "LLM model name (provider default when empty)")
	flags.String("llm-api-key", "", "LLM API key")
	flags.String("llm-base-url", "", "LLM API base URL override")
	flags.Int("llm-max-content-chars", core.DefaultMaxContentChars, "page text budget sent to the LLM")
	flags.Int("llm-timeout-secs", 120, "LLM request timeout in seconds")
	flags.String("server-host", defaultServerHost, "HTTP server host")
	flags.Int("server-port", core.DefaultServerPort, "HTTP server port")
	flags.Int("server-api-requests-per-minute", core.DefaultAPIRequestsPerMinute, "mutating API calls allowed per client and route per minute")
	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(
		newDevCmd(),
		newImportCmd(),
		newReplayCmd(),
		newCrawlCmd(),
		newReprocessCmd(),
		newRemapCmd(),
		newResolveCmd(),
		newSyncCmd(),
		newServeCmd(),
		newAuthCmd(),
	)
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureSpotify(cfg)
	configureLLM(cfg)
	configureServer(cfg)
	configureLog(cfg)
	configureApp(cfg)

	return cfg
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	cfg.Spotify.RefreshToken = viper.GetString("spotify-refresh-token")
	cfg.Spotify.UserID = viper.GetString("spotify-user-id")
	if redirect := viper.GetString("spotify-redirect-url"); redirect != "" {
		cfg.Spotify.RedirectURL = redirect
	}

	if limit := viper.GetInt("spotify-search-limit"); limit > 0 {
		cfg.Spotify.SearchLimit = limit
	}
	if attempts := viper.GetInt("spotify-max-attempts"); attempts > 0 {
		cfg.Spotify.MaxAttempts = attempts
	}
	cfg.Spotify.RequestsPerSecond = viper.GetFloat64("spotify-requests-per-second")
	if secs := viper.GetInt("spotify-request-timeout-secs"); secs > 0 {
		cfg.Spotify.RequestTimeout = time.Duration(secs) * time.Second
	}
}

func configureLLM(cfg *core.Config) {
	cfg.LLM.Provider = strings.ToLower(viper.GetString("llm-provider"))
	cfg.LLM.Model = viper.GetString("llm-model")
	cfg.LLM.APIKey = viper.GetString("llm-api-key")
	cfg.LLM.BaseURL = viper.GetString("llm-base-url")
	if chars := viper.GetInt("llm-max-content-chars"); chars > 0 {
		cfg.LLM.MaxContentChars = chars
	}
	if secs := viper.GetInt("llm-timeout-secs"); secs > 0 {
		cfg.LLM.Timeout = time.Duration(secs) * time.Second
	}
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Server.APIRequestsPerMinute = viper.GetInt("server-api-requests-per-minute")
}

func configureLog(cfg *core.Config) {
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func configureApp(cfg *core.Config) {
	cfg.App.DataDir = viper.GetString("data-dir")
	if cfg.App.DataDir == "" {
		cfg.App.DataDir = "data"
	}

	cfg.App.HistoryPath = viper.GetString("history-path")
	switch cfg.App.HistoryPath {
	case "":
		cfg.App.HistoryPath = filepath.Join(cfg.App.DataDir, historyFileName)
	case noneProvider:
		cfg.App.HistoryPath = ""
	}

	cfg.App.MasterPlaylist = viper.GetBool("master-playlist")

	cfg.App.ResolveWorkers = viper.GetInt("resolve-workers")
	if cfg.App.ResolveWorkers <= 0 {
		fmt.Fprintf(os.Stderr, "Warning: Invalid resolve workers (%d), using default (%d)\n",
			cfg.App.ResolveWorkers, core.DefaultResolveWorkers)
		cfg.App.ResolveWorkers = core.DefaultResolveWorkers
	}

	cfg.App.CrawlWorkers = viper.GetInt("crawl-workers")
	if cfg.App.CrawlWorkers <= 0 {
		fmt.Fprintf(os.Stderr, "Warning: Invalid crawl workers (%d), using default (%d)\n",
			cfg.App.CrawlWorkers, core.DefaultCrawlWorkers)
		cfg.App.CrawlWorkers = core.DefaultCrawlWorkers
	}

	if secs := viper.GetInt("fetch-timeout-secs"); secs > 0 {
		cfg.App.FetchTimeout = time.Duration(secs) * time.Second
	}
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.ToLower(format) == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func validateSpotifyConfig() error {
	if config.Spotify.ClientID == "" {
		return fmt.Errorf("spotify client ID is required")
	}

	if config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client secret is required")
	}

	return nil
}

func validateLLMConfig() error {
	switch config.LLM.Provider {
	case noneProvider, "":
		return fmt.Errorf("an LLM provider is required to extract track blocks")
	case "openai", "anthropic":
		if config.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required for provider: %s", config.LLM.Provider)
		}
	}
	return nil
}
