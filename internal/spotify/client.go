// Package spotify provides the Spotify Web API catalog client used for track search and playlist writes.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/internal/transport"
)

const (
	// MaxTracksPerRequest is the Web API limit for playlist add, remove and replace calls
	MaxTracksPerRequest = 100
	// PlaylistPageSize is the page size used when reading playlist items
	PlaylistPageSize = 100
	// TrackURIPrefix prefixes every catalog track URI
	TrackURIPrefix = "spotify:track:"
)

type Client struct {
	config  *core.SpotifyConfig
	logger  *zap.Logger
	retry   http.RoundTripper
	client  *spotify.Client
	userID  string
	tokenRT http.RoundTripper
}

func NewClient(config *core.SpotifyConfig, logger *zap.Logger, metrics core.Metrics) *Client {
	retry := transport.NewRetry(http.DefaultTransport, transport.RetryConfig{
		MaxAttempts:       config.MaxAttempts,
		BaseDelay:         config.RetryBaseDelay,
		MaxDelay:          config.MaxRetryDelay,
		RequestsPerSecond: config.RequestsPerSecond,
		AttemptTimeout:    config.RequestTimeout,
	}, logger, metrics)

	return &Client{
		config:  config,
		logger:  logger,
		retry:   retry,
		tokenRT: http.DefaultTransport,
	}
}

func (c *Client) oauthConfig() *oauth2.Config {
	endpoint := oauth2.Endpoint{
		AuthURL:   spotifyauth.AuthURL,
		TokenURL:  spotifyauth.TokenURL,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
	if c.config.TokenURL != "" {
		endpoint.TokenURL = c.config.TokenURL
	}

	return &oauth2.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  c.config.RedirectURL,
	}
}

// Authenticate exchanges the stored refresh token for an access token and verifies it.
// A rejected refresh token is returned as *core.AuthError.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.config.RefreshToken == "" {
		return &core.AuthError{Err: errors.New("no refresh token configured, run the auth command first")}
	}

	// Refreshes outlive the caller's context; the token endpoint bypasses the retry middleware
	// so a rejected grant surfaces as *oauth2.RetrieveError.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, &http.Client{Transport: c.tokenRT})
	source := oauth2.ReuseTokenSource(nil,
		c.oauthConfig().TokenSource(tokenCtx, &oauth2.Token{RefreshToken: c.config.RefreshToken}))

	if _, err := source.Token(); err != nil {
		return &core.AuthError{Err: fmt.Errorf("failed to refresh access token: %w", err)}
	}

	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: source, Base: c.retry},
	}

	var opts []spotify.ClientOption
	if c.config.BaseURL != "" {
		opts = append(opts, spotify.WithBaseURL(ensureTrailingSlash(c.config.BaseURL)))
	}
	c.client = spotify.New(httpClient, opts...)

	user, err := c.client.CurrentUser(ctx)
	if err != nil {
		return &core.AuthError{Err: fmt.Errorf("failed to verify access token: %w", mapError(err))}
	}

	c.userID = c.config.UserID
	if c.userID == "" {
		c.userID = user.ID
	}

	c.logger.Info("Authenticated successfully",
		zap.String("user", user.DisplayName),
		zap.String("userID", c.userID))
	return nil
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]core.Candidate, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not authenticated")
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = core.DefaultSearchLimit
	}

	results, err := c.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", mapError(err))
	}

	if results.Tracks == nil {
		return nil, nil
	}

	candidates := make([]core.Candidate, 0, len(results.Tracks.Tracks))
	for i := range results.Tracks.Tracks {
		candidates = append(candidates, convertTrack(&results.Tracks.Tracks[i]))
	}

	c.logger.Debug("Search completed",
		zap.String("query", query),
		zap.Int("results", len(candidates)))

	return candidates, nil
}

func (c *Client) CreatePlaylist(ctx context.Context, name, description string) (*core.ResolvedPlaylist, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not authenticated")
	}

	playlist, err := c.client.CreatePlaylistForUser(ctx, c.userID, name, description, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist %q: %w", name, mapError(err))
	}

	c.logger.Info("Created playlist",
		zap.String("playlistID", string(playlist.ID)),
		zap.String("name", playlist.Name))

	return &core.ResolvedPlaylist{
		ID:          string(playlist.ID),
		Name:        playlist.Name,
		URL:         playlist.ExternalURLs["spotify"],
		Description: description,
		Tracks:      []string{},
	}, nil
}

// AddTracks appends uris in chunks of MaxTracksPerRequest. Every chunk is attempted;
// the URIs of failed chunks are reported in a *core.PartialAddError.
func (c *Client) AddTracks(ctx context.Context, playlistID string, uris []string) (int, error) {
	if c.client == nil {
		return 0, fmt.Errorf("client not authenticated")
	}

	added := 0
	var failed []string
	var lastErr error

	for _, chunk := range chunkURIs(uris) {
		if _, err := c.client.AddTracksToPlaylist(ctx, spotify.ID(playlistID), toIDs(chunk)...); err != nil {
			err = mapError(err)
			if ctx.Err() != nil || errors.Is(err, core.ErrAuth) {
				return added, err
			}
			c.logger.Warn("Failed to add track chunk",
				zap.String("playlistID", playlistID),
				zap.Int("chunkSize", len(chunk)),
				zap.Error(err))
			failed = append(failed, chunk...)
			lastErr = err
			continue
		}
		added += len(chunk)
	}

	if len(failed) > 0 {
		return added, &core.PartialAddError{Failed: failed, Err: lastErr}
	}
	return added, nil
}

// ReplaceTracks overwrites the playlist contents with uris in order.
func (c *Client) ReplaceTracks(ctx context.Context, playlistID string, uris []string) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}

	chunks := chunkURIs(uris)
	if len(chunks) == 0 {
		chunks = [][]string{nil}
	}

	if err := c.client.ReplacePlaylistTracks(ctx, spotify.ID(playlistID), toIDs(chunks[0])...); err != nil {
		return fmt.Errorf("failed to replace playlist tracks: %w", mapError(err))
	}

	if len(chunks) > 1 {
		var rest []string
		for _, chunk := range chunks[1:] {
			rest = append(rest, chunk...)
		}
		if _, err := c.AddTracks(ctx, playlistID, rest); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) RemoveTracks(ctx context.Context, playlistID string, uris []string) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}

	for _, chunk := range chunkURIs(uris) {
		if _, err := c.client.RemoveTracksFromPlaylist(ctx, spotify.ID(playlistID), toIDs(chunk)...); err != nil {
			return fmt.Errorf("failed to remove playlist tracks: %w", mapError(err))
		}
	}
	return nil
}

// UpdatePlaylistDetails changes the name and/or description. Nil fields are left alone.
func (c *Client) UpdatePlaylistDetails(ctx context.Context, playlistID string, name, description *string) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}

	if name != nil {
		if err := c.client.ChangePlaylistName(ctx, spotify.ID(playlistID), *name); err != nil {
			return fmt.Errorf("failed to rename playlist: %w", mapError(err))
		}
	}
	if description != nil {
		if err := c.client.ChangePlaylistDescription(ctx, spotify.ID(playlistID), *description); err != nil {
			return fmt.Errorf("failed to update playlist description: %w", mapError(err))
		}
	}
	return nil
}

func (c *Client) UnfollowPlaylist(ctx context.Context, playlistID string) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}

	if err := c.client.UnfollowPlaylist(ctx, spotify.ID(playlistID)); err != nil {
		return fmt.Errorf("failed to unfollow playlist: %w", mapError(err))
	}

	c.logger.Info("Unfollowed playlist", zap.String("playlistID", playlistID))
	return nil
}

// GetPlaylist returns the playlist metadata and every track URI in playlist order.
func (c *Client) GetPlaylist(ctx context.Context, playlistID string) (*core.ResolvedPlaylist, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not authenticated")
	}

	spotifyPlaylistID := spotify.ID(playlistID)

	playlist, err := c.client.GetPlaylist(ctx, spotifyPlaylistID)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist: %w", mapError(err))
	}

	uris := []string{}
	offset := 0

	for {
		items, err := c.client.GetPlaylistItems(ctx, spotifyPlaylistID,
			spotify.Limit(PlaylistPageSize), spotify.Offset(offset))
		if err != nil {
			return nil, fmt.Errorf("failed to get playlist items: %w", mapError(err))
		}

		for i := range items.Items {
			// Only tracks; episodes and removed items are skipped
			if track := items.Items[i].Track.Track; track != nil && track.URI != "" {
				uris = append(uris, string(track.URI))
			}
		}

		if len(items.Items) < PlaylistPageSize {
			break
		}

		offset += PlaylistPageSize
	}

	c.logger.Debug("Retrieved playlist",
		zap.String("playlistID", playlistID),
		zap.Int("count", len(uris)))

	return &core.ResolvedPlaylist{
		ID:          string(playlist.ID),
		Name:        playlist.Name,
		URL:         playlist.ExternalURLs["spotify"],
		Description: playlist.Description,
		Tracks:      uris,
	}, nil
}

func convertTrack(track *spotify.FullTrack) core.Candidate {
	artists := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		artists = append(artists, artist.Name)
	}

	return core.Candidate{
		URI:        string(track.URI),
		ID:         string(track.ID),
		Name:       track.Name,
		Artists:    artists,
		Album:      track.Album.Name,
		Popularity: int(track.Popularity),
		URL:        track.ExternalURLs["spotify"],
	}
}

func chunkURIs(uris []string) [][]string {
	var chunks [][]string
	for start := 0; start < len(uris); start += MaxTracksPerRequest {
		end := min(start+MaxTracksPerRequest, len(uris))
		chunks = append(chunks, uris[start:end])
	}
	return chunks
}

func toIDs(uris []string) []spotify.ID {
	ids := make([]spotify.ID, 0, len(uris))
	for _, uri := range uris {
		ids = append(ids, spotify.ID(strings.TrimPrefix(uri, TrackURIPrefix)))
	}
	return ids
}

// mapError converts library and token errors into the core taxonomy.
// mapError turns rejected tokens and 401 responses into *core.AuthError and other
// Web API errors into *core.CatalogRequestError.
func mapError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &core.AuthError{Err: err}
	}

	var reqErr *core.CatalogRequestError
	if errors.As(err, &reqErr) && reqErr.Status == http.StatusUnauthorized {
		return &core.AuthError{Err: err}
	}

	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		mapped := &core.CatalogRequestError{Status: apiErr.Status, Message: apiErr.Message}
		if apiErr.Status == http.StatusUnauthorized {
			return &core.AuthError{Err: mapped}
		}
		return mapped
	}

	return err
}

func ensureTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
