// Package http serves health checks, Prometheus metrics and the JSON API over the pipeline.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/internal/flood"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	config    *core.ServerConfig
	logger    *zap.Logger
	server    *http.Server
	metrics   *Metrics
	floodgate *flood.Floodgate
}

func NewServer(config *core.ServerConfig, service Pipeline, metrics *Metrics, logger *zap.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	floodgate := flood.New(config.APIRequestsPerMinute)

	api := newAPI(service, metrics, floodgate, logger)
	mux := setupRoutes(logger, metrics, api)

	return &Server{
		config:    config,
		logger:    logger,
		server:    createHTTPServer(config, mux),
		metrics:   metrics,
		floodgate: floodgate,
	}
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           handler,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
	}
}

func setupRoutes(logger *zap.Logger, metrics *Metrics, api *api) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", statusHandler(logger, `{"status":"ok","service":"playlistfromweb"}`))
	mux.HandleFunc("GET /readyz", statusHandler(logger, `{"status":"ready","service":"playlistfromweb"}`))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /{$}", homeHandler(logger))

	if api != nil {
		api.register(mux)
	}

	return mux
}

func statusHandler(logger *zap.Logger, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(body)); err != nil {
			logger.Debug("Failed to write status response", zap.Error(err))
		}
	}
}

func homeHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(homePage)); err != nil {
			logger.Debug("Failed to write home page", zap.Error(err))
		}
	}
}

const homePage = `<!DOCTYPE html>
<html>
<head>
    <title>playlist-from-web</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .endpoint { margin: 10px 0; font-family: monospace; }
    </style>
</head>
<body>
    <h1>playlist-from-web</h1>
    <p>Turns web track listings into Spotify playlists.</p>

    <h2>Service</h2>
    <div class="endpoint"><a href="/metrics">GET /metrics</a> - Prometheus metrics</div>
    <div class="endpoint"><a href="/healthz">GET /healthz</a> - Health check</div>
    <div class="endpoint"><a href="/readyz">GET /readyz</a> - Readiness check</div>

    <h2>API</h2>
    <div class="endpoint">POST /api/dev, /api/import, /api/replay, /api/crawl</div>
    <div class="endpoint">GET /api/parsed, /api/parsed/{slug}, /api/spotify/{slug}</div>
    <div class="endpoint">GET /api/crawls, /api/crawls/{slug}</div>
    <div class="endpoint">POST /api/resolve</div>
    <div class="endpoint"><a href="/api/runs">GET /api/runs</a> - Run history</div>
</body>
</html>`

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
		s.floodgate.Stop()
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}
