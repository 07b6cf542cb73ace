// Package musiclink turns links to tracks on other streaming services into artist
// and title pairs that can be searched in the catalog.
package musiclink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 1 << 20
	userAgent          = "playlist-from-web/1.0"
)

var (
	ErrUnsupportedLink = errors.New("unsupported music link")
	ErrNoTrackInfo     = errors.New("no track information found")
)

// TrackInfo holds what a provider knows about a linked track.
type TrackInfo struct {
	Artist   string `json:"artist"`
	Title    string `json:"title"`
	Provider string `json:"provider"`
}

// Resolver extracts track information from one provider's links.
type Resolver interface {
	Name() string
	CanResolve(u *url.URL) bool
	Resolve(ctx context.Context, u *url.URL) (*TrackInfo, error)
}

// Endpoints are the provider APIs queried for metadata. Tests point them at a local server.
type Endpoints struct {
	YouTubeOEmbed    string
	SoundCloudOEmbed string
	ITunesLookup     string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		YouTubeOEmbed:    "https://www.youtube.com/oembed",
		SoundCloudOEmbed: "https://soundcloud.com/oembed",
		ITunesLookup:     "https://itunes.apple.com/lookup",
	}
}

// Manager dispatches a link to the first resolver that accepts it.
type Manager struct {
	resolvers []Resolver
	logger    *zap.Logger
}

func NewManager(client *http.Client, endpoints Endpoints, logger *zap.Logger) *Manager {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	api := &apiClient{http: client}

	return &Manager{
		resolvers: []Resolver{
			newYouTubeResolver(api, endpoints.YouTubeOEmbed),
			newSoundCloudResolver(api, endpoints.SoundCloudOEmbed),
			newAppleMusicResolver(api, endpoints.ITunesLookup),
		},
		logger: logger,
	}
}

// Resolve returns the artist and title behind a music link.
func (m *Manager) Resolve(ctx context.Context, link string) (*TrackInfo, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Host == "" {
		return nil, ErrUnsupportedLink
	}

	for _, resolver := range m.resolvers {
		if !resolver.CanResolve(u) {
			continue
		}

		info, err := resolver.Resolve(ctx, u)
		if err != nil {
			m.logger.Debug("Music link lookup failed",
				zap.String("provider", resolver.Name()),
				zap.String("link", link),
				zap.Error(err))
			return nil, fmt.Errorf("%s: %w", resolver.Name(), err)
		}
		if info.Title == "" {
			return nil, ErrNoTrackInfo
		}

		info.Provider = resolver.Name()
		m.logger.Debug("Resolved music link",
			zap.String("provider", info.Provider),
			zap.String("artist", info.Artist),
			zap.String("title", info.Title))
		return info, nil
	}

	return nil, ErrUnsupportedLink
}

// CanResolve reports whether any resolver handles the link.
func (m *Manager) CanResolve(link string) bool {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return false
	}
	for _, resolver := range m.resolvers {
		if resolver.CanResolve(u) {
			return true
		}
	}
	return false
}

type apiClient struct {
	http *http.Client
}

// getJSON requests endpoint with query and decodes the JSON reply into dest.
func (c *apiClient) getJSON(ctx context.Context, endpoint string, query url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lookup returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode lookup response: %w", err)
	}
	return nil
}

func hostIn(u *url.URL, hosts ...string) bool {
	host := strings.ToLower(u.Hostname())
	for _, h := range hosts {
		if host == h {
			return true
		}
	}
	return false
}

// splitPair splits s at the first sep into its two trimmed halves.
func splitPair(s, sep string) (string, string, bool) {
	first, second, ok := strings.Cut(s, sep)
	if !ok {
		return "", "", false
	}
	first, second = strings.TrimSpace(first), strings.TrimSpace(second)
	if first == "" || second == "" {
		return "", "", false
	}
	return first, second, true
}
