package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/artifact"
	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/internal/fetch"
	"github.com/smartschat/playlist-from-web/internal/flood"
	"github.com/smartschat/playlist-from-web/internal/pipeline"
	"github.com/smartschat/playlist-from-web/pkg/musiclink"
	"github.com/smartschat/playlist-from-web/pkg/text"
)

const (
	maxBodyBytes    = 1 << 20
	defaultRunLimit = 50
)

var errBadRequest = errors.New("bad request")

// Pipeline is the set of pipeline operations served by the API.
type Pipeline interface {
	Dev(ctx context.Context, url string, force bool) (*pipeline.RunResult, error)
	Import(ctx context.Context, url string, opts pipeline.ImportOptions) (*pipeline.RunResult, error)
	Replay(ctx context.Context, parsedPath string, opts pipeline.ImportOptions) (*pipeline.RunResult, error)
	ParsedPath(slug string) (string, error)
	Crawl(ctx context.Context, indexURL string, opts pipeline.CrawlOptions) (*core.CrawlResult, string, error)
	Reprocess(ctx context.Context, crawlSlug string, index int, dev bool) (*core.CrawlEntry, error)

	ResolveOne(ctx context.Context, artist, title string) ([]core.Candidate, error)
	ResolveLink(ctx context.Context, link string) (*musiclink.TrackInfo, []core.Candidate, error)
	AssignTrackURI(slug string, blockIndex, trackIndex int, uri, webURL string) (*core.Track, error)
	Remap(ctx context.Context, slug string) (*pipeline.RunResult, error)
	CreatePlaylists(ctx context.Context, slug string, master bool) (*pipeline.RunResult, error)
	SyncPlaylist(ctx context.Context, slug, playlistID string, full bool) (int, error)
	RenamePlaylist(ctx context.Context, slug, playlistID string, name, description *string) error
	DeletePlaylist(ctx context.Context, slug, playlistID string) error

	UpdateParsed(slug string, blocks []core.TrackBlock, sourceName string) (*core.ParsedPage, error)
	ListParsed() ([]pipeline.ParsedSummary, error)
	GetParsed(slug string) (*core.ParsedPage, error)
	GetSpotify(slug string) (*core.SpotifyArtifact, error)
	DeleteParsed(slug string, alsoSpotify bool) error
	ListCrawls() ([]pipeline.CrawlSummary, error)
	GetCrawl(slug string) (*core.CrawlResult, error)
	Runs(ctx context.Context, limit int) ([]core.RunRecord, error)
}

type api struct {
	service   Pipeline
	metrics   *Metrics
	floodgate *flood.Floodgate
	logger    *zap.Logger
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func newAPI(service Pipeline, metrics *Metrics, floodgate *flood.Floodgate, logger *zap.Logger) *api {
	return &api{
		service:   service,
		metrics:   metrics,
		floodgate: floodgate,
		logger:    logger,
	}
}

func (a *api) register(mux *http.ServeMux) {
	a.handle(mux, "POST /api/dev", a.dev)
	a.handle(mux, "POST /api/import", a.importPage)
	a.handle(mux, "POST /api/replay", a.replay)
	a.handle(mux, "POST /api/crawl", a.crawl)
	a.handle(mux, "POST /api/resolve", a.resolve)

	a.handle(mux, "GET /api/parsed", a.listParsed)
	a.handle(mux, "GET /api/parsed/{slug}", a.getParsed)
	a.handle(mux, "PUT /api/parsed/{slug}", a.updateParsed)
	a.handle(mux, "DELETE /api/parsed/{slug}", a.deleteParsed)

	a.handle(mux, "GET /api/spotify/{slug}", a.getSpotify)
	a.handle(mux, "POST /api/spotify/{slug}/remap", a.remap)
	a.handle(mux, "PUT /api/spotify/{slug}/blocks/{block}/tracks/{track}", a.assignTrack)
	a.handle(mux, "POST /api/spotify/{slug}/playlists", a.createPlaylists)
	a.handle(mux, "POST /api/spotify/{slug}/playlists/{id}/sync", a.syncPlaylist)
	a.handle(mux, "PATCH /api/spotify/{slug}/playlists/{id}", a.renamePlaylist)
	a.handle(mux, "DELETE /api/spotify/{slug}/playlists/{id}", a.deletePlaylist)

	a.handle(mux, "GET /api/crawls", a.listCrawls)
	a.handle(mux, "GET /api/crawls/{slug}", a.getCrawl)
	a.handle(mux, "POST /api/crawls/{slug}/entries/{index}/reprocess", a.reprocess)

	a.handle(mux, "GET /api/runs", a.runs)
}

// handle registers fn under pattern. Mutating routes pass the floodgate first.
func (a *api) handle(mux *http.ServeMux, pattern string, fn handlerFunc) {
	mutating := !strings.HasPrefix(pattern, http.MethodGet+" ")

	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if mutating && !a.floodgate.Allow(clientIP(r), pattern) {
			a.metrics.RateLimitedTotal.WithLabelValues(pattern).Inc()
			wait := a.floodgate.RetryAfter(clientIP(r), pattern)
			rec.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			writeJSON(rec, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
		} else if err := fn(rec, r); err != nil {
			a.writeError(rec, r, err)
		}

		a.metrics.HTTPRequestsTotal.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		a.logger.Debug("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type runRequest struct {
	URL        string `json:"url"`
	Slug       string `json:"slug"`
	Force      bool   `json:"force"`
	Master     bool   `json:"master"`
	SearchOnly bool   `json:"search_only"`
	FullResync bool   `json:"full_resync"`
	Dev        bool   `json:"dev"`
	MaxLinks   int    `json:"max_links"`
}

func (req *runRequest) importOptions() pipeline.ImportOptions {
	return pipeline.ImportOptions{
		Force:      req.Force,
		Master:     req.Master,
		SearchOnly: req.SearchOnly,
		FullResync: req.FullResync,
	}
}

func (a *api) dev(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeRunRequest(r, true)
	if err != nil {
		return err
	}
	result, err := a.service.Dev(r.Context(), req.URL, req.Force)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}

func (a *api) importPage(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeRunRequest(r, true)
	if err != nil {
		return err
	}
	result, err := a.service.Import(r.Context(), req.URL, req.importOptions())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}

func (a *api) replay(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeRunRequest(r, false)
	if err != nil {
		return err
	}
	if req.Slug == "" {
		return fmt.Errorf("%w: slug is required", errBadRequest)
	}
	parsedPath, err := a.service.ParsedPath(req.Slug)
	if err != nil {
		return err
	}
	result, err := a.service.Replay(r.Context(), parsedPath, req.importOptions())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}

func (a *api) crawl(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeRunRequest(r, true)
	if err != nil {
		return err
	}
	result, path, err := a.service.Crawl(r.Context(), req.URL, pipeline.CrawlOptions{
		Dev:        req.Dev,
		Force:      req.Force,
		MaxLinks:   req.MaxLinks,
		SearchOnly: req.SearchOnly,
		Master:     req.Master,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"artifact": path, "crawl": result})
}

func (a *api) reprocess(w http.ResponseWriter, r *http.Request) error {
	index, err := pathIndex(r, "index")
	if err != nil {
		return err
	}
	var req struct {
		Dev bool `json:"dev"`
	}
	if err := decodeOptional(r, &req); err != nil {
		return err
	}

	entry, err := a.service.Reprocess(r.Context(), r.PathValue("slug"), index, req.Dev)
	if entry != nil {
		// A failed run is part of the entry, not a request failure.
		return writeJSON(w, http.StatusOK, entry)
	}
	return err
}

func (a *api) resolve(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Artist string `json:"artist"`
		Title  string `json:"title"`
		Link   string `json:"link"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}

	if strings.TrimSpace(req.Link) != "" {
		track, candidates, err := a.service.ResolveLink(r.Context(), req.Link)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, map[string]any{"track": track, "candidates": candidates})
	}

	if strings.TrimSpace(req.Artist) == "" && strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: artist or title is required", errBadRequest)
	}

	candidates, err := a.service.ResolveOne(r.Context(), req.Artist, req.Title)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

func (a *api) listParsed(w http.ResponseWriter, _ *http.Request) error {
	summaries, err := a.service.ListParsed()
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"items": summaries})
}

func (a *api) getParsed(w http.ResponseWriter, r *http.Request) error {
	page, err := a.service.GetParsed(r.PathValue("slug"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, page)
}

func (a *api) updateParsed(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Blocks     []core.TrackBlock `json:"blocks"`
		SourceName string            `json:"source_name"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}

	page, err := a.service.UpdateParsed(r.PathValue("slug"), req.Blocks, req.SourceName)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, page)
}

func (a *api) deleteParsed(w http.ResponseWriter, r *http.Request) error {
	alsoSpotify, _ := strconv.ParseBool(r.URL.Query().Get("spotify"))
	if err := a.service.DeleteParsed(r.PathValue("slug"), alsoSpotify); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *api) getSpotify(w http.ResponseWriter, r *http.Request) error {
	artifact, err := a.service.GetSpotify(r.PathValue("slug"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, artifact)
}

func (a *api) remap(w http.ResponseWriter, r *http.Request) error {
	result, err := a.service.Remap(r.Context(), r.PathValue("slug"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}

func (a *api) assignTrack(w http.ResponseWriter, r *http.Request) error {
	blockIndex, err := pathIndex(r, "block")
	if err != nil {
		return err
	}
	trackIndex, err := pathIndex(r, "track")
	if err != nil {
		return err
	}
	var req struct {
		URI string `json:"uri"`
		URL string `json:"url"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}

	track, err := a.service.AssignTrackURI(r.PathValue("slug"), blockIndex, trackIndex, req.URI, req.URL)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, track)
}

func (a *api) createPlaylists(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Master bool `json:"master"`
	}
	if err := decodeOptional(r, &req); err != nil {
		return err
	}

	result, err := a.service.CreatePlaylists(r.Context(), r.PathValue("slug"), req.Master)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, result)
}

func (a *api) syncPlaylist(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Full bool `json:"full"`
	}
	if err := decodeOptional(r, &req); err != nil {
		return err
	}

	added, err := a.service.SyncPlaylist(r.Context(), r.PathValue("slug"), r.PathValue("id"), req.Full)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]int{"tracks_synced": added})
}

func (a *api) renamePlaylist(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}

	if err := a.service.RenamePlaylist(r.Context(), r.PathValue("slug"), r.PathValue("id"), req.Name, req.Description); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *api) deletePlaylist(w http.ResponseWriter, r *http.Request) error {
	if err := a.service.DeletePlaylist(r.Context(), r.PathValue("slug"), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *api) listCrawls(w http.ResponseWriter, _ *http.Request) error {
	summaries, err := a.service.ListCrawls()
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"items": summaries})
}

func (a *api) getCrawl(w http.ResponseWriter, r *http.Request) error {
	crawl, err := a.service.GetCrawl(r.PathValue("slug"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, crawl)
}

func (a *api) runs(w http.ResponseWriter, r *http.Request) error {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: invalid limit %q", errBadRequest, raw)
		}
		limit = n
	}

	runs, err := a.service.Runs(r.Context(), limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"items": runs})
}

type errorBody struct {
	Error string `json:"error"`
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.metrics.RecordError("http", strconv.Itoa(status))
		a.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	_ = writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, pipeline.ErrInvalidIndex),
		errors.Is(err, pipeline.ErrNothingToUpdate),
		errors.Is(err, text.ErrInvalidTrackReference),
		errors.Is(err, artifact.ErrInvalidSlug),
		errors.Is(err, musiclink.ErrUnsupportedLink):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrPlaylistsExist):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotFound), errors.Is(err, musiclink.ErrNoTrackInfo):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, fetch.ErrPageFetch):
		var pageErr *fetch.PageError
		if errors.As(err, &pageErr) && pageErr.Status == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case errors.Is(err, core.ErrAuth),
		errors.Is(err, core.ErrCatalogRequest),
		errors.Is(err, core.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	return unmarshal(body, v)
}

// decodeOptional is decode for routes whose body may be empty.
func decodeOptional(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return err
	}
	return unmarshal(body, v)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return body, nil
}

func unmarshal(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func decodeRunRequest(r *http.Request, requireURL bool) (*runRequest, error) {
	var req runRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if requireURL {
		req.URL = strings.TrimSpace(req.URL)
		if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
			return nil, fmt.Errorf("%w: an http(s) url is required", errBadRequest)
		}
	}
	return &req, nil
}

func pathIndex(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s index %q", pipeline.ErrInvalidIndex, name, r.PathValue(name))
	}
	return n, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}
