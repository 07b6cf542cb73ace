package core

import (
	"time"
)

const (
	// DefaultServerPort is the port the HTTP API listens on
	DefaultServerPort = 8080
	// DefaultSearchLimit is the number of candidates requested per catalog search
	DefaultSearchLimit = 20
	// DefaultResolveWorkers bounds concurrent track resolution within one block
	DefaultResolveWorkers = 4
	// DefaultCrawlWorkers bounds concurrent link processing in crawl mode
	DefaultCrawlWorkers = 1
	// DefaultMaxAttempts is the number of attempts for a rate limited or failing catalog request
	DefaultMaxAttempts = 5
	// DefaultAPIRequestsPerMinute limits mutating API calls per client
	DefaultAPIRequestsPerMinute = 30
	// DefaultMaxContentChars is the page text budget sent to the language model
	DefaultMaxContentChars = 12000
)

type Config struct {
	Spotify SpotifyConfig
	LLM     LLMConfig
	Server  ServerConfig
	Log     LogConfig
	App     AppConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	UserID       string
	RedirectURL  string
	// BaseURL overrides the Web API root, used by tests.
	BaseURL string
	// TokenURL overrides the accounts token endpoint, used by tests.
	TokenURL string

	SearchLimit       int
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	MaxRetryDelay     time.Duration
	RequestsPerSecond float64
	// RequestTimeout bounds a single attempt, response body included.
	RequestTimeout time.Duration
}

type LLMConfig struct {
	Provider        string
	Model           string
	APIKey          string
	BaseURL         string
	MaxContentChars int
	Timeout         time.Duration
}

type ServerConfig struct {
	Host                 string
	Port                 int
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	APIRequestsPerMinute int
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	DataDir        string
	HistoryPath    string
	MasterPlaylist bool
	ResolveWorkers int
	CrawlWorkers   int
	FetchTimeout   time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL:       "http://127.0.0.1:8080/callback",
			SearchLimit:       DefaultSearchLimit,
			MaxAttempts:       DefaultMaxAttempts,
			RetryBaseDelay:    500 * time.Millisecond,
			MaxRetryDelay:     30 * time.Second,
			RequestsPerSecond: 0,
			RequestTimeout:    20 * time.Second,
		},
		LLM: LLMConfig{
			Provider:        "openai",
			Model:           "",
			MaxContentChars: DefaultMaxContentChars,
			Timeout:         120 * time.Second,
		},
		Server: ServerConfig{
			Host:                 "0.0.0.0",
			Port:                 DefaultServerPort,
			ReadTimeout:          10 * time.Second,
			WriteTimeout:         5 * time.Minute,
			APIRequestsPerMinute: DefaultAPIRequestsPerMinute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			DataDir:        "data",
			ResolveWorkers: DefaultResolveWorkers,
			CrawlWorkers:   DefaultCrawlWorkers,
			FetchTimeout:   60 * time.Second,
		},
	}
}
