package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/smartschat/playlist-from-web/internal/core"
)

// Scopes are the permissions needed to create and edit the user's playlists.
var Scopes = []string{
	spotifyauth.ScopePlaylistModifyPublic,
	spotifyauth.ScopePlaylistModifyPrivate,
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopeUserReadPrivate,
}

const callbackReadHeaderTimeout = 10 * time.Second

// Authorizer runs the authorization-code flow once to obtain a long-lived refresh token.
type Authorizer struct {
	config *core.SpotifyConfig
	logger *zap.Logger
	auth   *spotifyauth.Authenticator
	state  string
}

func NewAuthorizer(config *core.SpotifyConfig, logger *zap.Logger) *Authorizer {
	return &Authorizer{
		config: config,
		logger: logger,
		auth: spotifyauth.New(
			spotifyauth.WithRedirectURL(config.RedirectURL),
			spotifyauth.WithScopes(Scopes...),
			spotifyauth.WithClientID(config.ClientID),
			spotifyauth.WithClientSecret(config.ClientSecret),
		),
		state: uuid.NewString(),
	}
}

// AuthURL is the consent page the user has to open.
func (a *Authorizer) AuthURL() string {
	return a.auth.AuthURL(a.state)
}

// Run serves the redirect URL locally, waits for the callback and returns the token.
// The consent URL is written to out.
func (a *Authorizer) Run(ctx context.Context, out io.Writer) (*oauth2.Token, error) {
	redirect, err := url.Parse(a.config.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL: %w", err)
	}

	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	tokens := make(chan *oauth2.Token, 1)
	failures := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		token, tokenErr := a.auth.Token(r.Context(), a.state, r)
		if tokenErr != nil {
			http.Error(w, "Authorization failed", http.StatusForbidden)
			select {
			case failures <- tokenErr:
			default:
			}
			return
		}
		fmt.Fprintln(w, "Authorization complete. You can close this window.")
		select {
		case tokens <- token:
		default:
		}
	})

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: callbackReadHeaderTimeout,
	}
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			a.logger.Error("Callback server failed", zap.Error(serveErr))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callbackReadHeaderTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(out, "Please visit the following URL to authorize the application:\n%s\n", a.AuthURL())

	select {
	case token := <-tokens:
		a.logger.Info("Authorization completed")
		return token, nil
	case err := <-failures:
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
