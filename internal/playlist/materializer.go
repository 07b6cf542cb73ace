package playlist

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/internal/store"
)

type Options struct {
	// Master also materializes the aggregate playlist.
	Master bool
	// FullResync replaces existing playlist contents instead of appending what is missing.
	FullResync bool
}

// Result is the outcome of one materialization pass.
type Result struct {
	Playlists      []core.ResolvedPlaylist
	MasterPlaylist *core.ResolvedPlaylist
	FailedTracks   []string
	FailedBlocks   []core.BlockFailure
	Created        int
	TracksAdded    int
}

type Materializer struct {
	client  core.CatalogClient
	logger  *zap.Logger
	metrics core.Metrics
}

func NewMaterializer(client core.CatalogClient, logger *zap.Logger, metrics core.Metrics) *Materializer {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &Materializer{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}
}

// Materialize creates or syncs one playlist per block with resolved tracks, in
// block order, plus the aggregate playlist when enabled. Playlists recorded in
// prior are reused: a second pass over unchanged blocks adds nothing. A failing
// block is recorded and the remaining blocks continue; only authentication
// failures and cancellation abort.
func (m *Materializer) Materialize(
	ctx context.Context, page *core.ParsedPage, prior *core.SpotifyArtifact, opts Options,
) (*Result, error) {
	result := &Result{
		Playlists:    []core.ResolvedPlaylist{},
		FailedTracks: []string{},
	}

	var existing []core.ResolvedPlaylist
	var existingMaster *core.ResolvedPlaylist
	if prior != nil {
		existing = prior.Playlists
		existingMaster = prior.MasterPlaylist
	}

	used := make(map[string]struct{})
	aggregate := store.NewURISet(page.TrackCount())

	for _, target := range Plan(page) {
		block := &page.Blocks[target.BlockIndex]
		uris := store.NewURISetFrom(block.URIs()).URIs()
		if len(uris) == 0 {
			m.logger.Debug("Skipping block without resolved tracks", zap.String("block", block.Title))
			continue
		}
		aggregate.AddAll(uris)

		current := findPlaylist(existing, target, used)
		if current != nil {
			used[current.ID] = struct{}{}
		}

		playlist, added, failed, err := m.Sync(ctx, target, current, uris, opts.FullResync)
		if fatal(ctx, err) {
			return nil, err
		}
		result.record(playlist, current, added, failed)
		if err != nil {
			m.logger.Warn("Failed to materialize block",
				zap.String("block", block.Title),
				zap.String("playlist", target.Name),
				zap.Error(err))
			result.FailedBlocks = append(result.FailedBlocks, core.BlockFailure{Block: block.Title, Error: err.Error()})
			if playlist == nil && current != nil {
				result.Playlists = append(result.Playlists, *current)
			}
		}
	}

	// Keep records of playlists whose block disappeared so they can still be managed
	for i := range existing {
		if _, ok := used[existing[i].ID]; !ok {
			result.Playlists = append(result.Playlists, existing[i])
		}
	}

	result.MasterPlaylist = existingMaster
	if opts.Master && aggregate.Size() > 0 {
		target := MasterTarget(page)
		playlist, added, failed, err := m.Sync(ctx, target, existingMaster, aggregate.URIs(), opts.FullResync)
		if fatal(ctx, err) {
			return nil, err
		}
		if playlist != nil {
			result.MasterPlaylist = playlist
			if existingMaster == nil || existingMaster.ID != playlist.ID {
				result.Created++
			}
		}
		result.TracksAdded += added
		result.FailedTracks = append(result.FailedTracks, failed...)
		if err != nil {
			m.logger.Warn("Failed to materialize aggregate playlist", zap.Error(err))
			result.FailedBlocks = append(result.FailedBlocks, core.BlockFailure{Block: MasterLabel, Error: err.Error()})
		}
	}

	m.logger.Info("Materialized playlists",
		zap.String("source", page.SourceURL),
		zap.Int("playlists", len(result.Playlists)),
		zap.Int("created", result.Created),
		zap.Int("tracksAdded", result.TracksAdded),
		zap.Int("failedBlocks", len(result.FailedBlocks)),
		zap.Int("failedTracks", len(result.FailedTracks)))

	return result, nil
}

func (r *Result) record(playlist, previous *core.ResolvedPlaylist, added int, failed []string) {
	r.TracksAdded += added
	r.FailedTracks = append(r.FailedTracks, failed...)
	if playlist == nil {
		return
	}
	if previous == nil || previous.ID != playlist.ID {
		r.Created++
	}
	r.Playlists = append(r.Playlists, *playlist)
}

// Sync brings one playlist to the desired URIs. With current nil, or when the
// recorded playlist no longer exists, it creates a new one. Otherwise it adds
// the URIs the remote playlist lacks, or replaces everything when full is set.
// It returns the updated record, the number of tracks added, and the URIs that
// could not be added. The record is returned even alongside an error when the
// playlist exists remotely.
func (m *Materializer) Sync(
	ctx context.Context, target Target, current *core.ResolvedPlaylist, uris []string, full bool,
) (playlist *core.ResolvedPlaylist, added int, failed []string, err error) {
	if current != nil {
		remote, getErr := m.client.GetPlaylist(ctx, current.ID)
		switch {
		case getErr == nil:
			return m.update(ctx, target, current, remote, uris, full)
		case core.IsNotFound(getErr):
			m.logger.Info("Recorded playlist no longer exists, recreating",
				zap.String("playlistID", current.ID),
				zap.String("name", current.Name))
		default:
			m.metrics.RecordPlaylistWrite("sync", "error")
			return nil, 0, nil, fmt.Errorf("failed to read playlist %s: %w", current.ID, getErr)
		}
	}

	return m.create(ctx, target, uris)
}

func (m *Materializer) create(ctx context.Context, target Target, uris []string) (*core.ResolvedPlaylist, int, []string, error) {
	created, err := m.client.CreatePlaylist(ctx, target.Name, target.Description)
	if err != nil {
		m.metrics.RecordPlaylistWrite("create", "error")
		return nil, 0, nil, err
	}
	m.metrics.RecordPlaylistWrite("create", "success")

	created.Key = target.Key
	created.Description = target.Description

	added, failed, err := m.add(ctx, created.ID, uris)
	created.Tracks = without(uris, failed)
	created.TracksAdded = added

	return created, added, failed, err
}

func (m *Materializer) update(
	ctx context.Context, target Target, current, remote *core.ResolvedPlaylist, uris []string, full bool,
) (*core.ResolvedPlaylist, int, []string, error) {
	updated := *current
	updated.Key = target.Key
	updated.Name = remote.Name
	updated.Description = remote.Description
	if remote.URL != "" {
		updated.URL = remote.URL
	}

	missing := store.NewURISetFrom(remote.Tracks).Missing(uris)

	if full {
		if slices.Equal(remote.Tracks, uris) {
			updated.Tracks = slices.Clone(uris)
			return &updated, 0, nil, nil
		}
		if err := m.client.ReplaceTracks(ctx, current.ID, uris); err != nil {
			m.metrics.RecordPlaylistWrite("replace", "error")
			return &updated, 0, nil, err
		}
		m.metrics.RecordPlaylistWrite("replace", "success")
		m.metrics.RecordTracksAdded(len(missing))

		updated.Tracks = slices.Clone(uris)
		updated.TracksAdded = len(uris)
		return &updated, len(missing), nil, nil
	}

	if len(missing) == 0 {
		updated.Tracks = slices.Clone(uris)
		return &updated, 0, nil, nil
	}

	added, failed, err := m.add(ctx, current.ID, missing)
	updated.Tracks = without(uris, failed)
	updated.TracksAdded = current.TracksAdded + added

	m.logger.Debug("Synced playlist",
		zap.String("playlistID", current.ID),
		zap.Int("added", added),
		zap.Int("failed", len(failed)))

	return &updated, added, failed, err
}

// add appends uris. Chunk failures are reported as failed URIs, not as an error.
func (m *Materializer) add(ctx context.Context, playlistID string, uris []string) (int, []string, error) {
	if len(uris) == 0 {
		return 0, nil, nil
	}

	added, err := m.client.AddTracks(ctx, playlistID, uris)
	m.metrics.RecordTracksAdded(added)

	var partial *core.PartialAddError
	if errors.As(err, &partial) {
		m.metrics.RecordPlaylistWrite("add", "partial")
		return added, partial.Failed, nil
	}
	if err != nil {
		m.metrics.RecordPlaylistWrite("add", "error")
		return added, nil, err
	}

	m.metrics.RecordPlaylistWrite("add", "success")
	return added, nil, nil
}

// findPlaylist looks a target up by key first, then by name, skipping playlists already claimed.
func findPlaylist(existing []core.ResolvedPlaylist, target Target, used map[string]struct{}) *core.ResolvedPlaylist {
	for i := range existing {
		if _, ok := used[existing[i].ID]; ok {
			continue
		}
		if existing[i].Key != "" && existing[i].Key == target.Key {
			return &existing[i]
		}
	}
	for i := range existing {
		if _, ok := used[existing[i].ID]; ok {
			continue
		}
		if existing[i].Name == target.Name {
			return &existing[i]
		}
	}
	return nil
}

func fatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return ctx.Err() != nil || errors.Is(err, core.ErrAuth)
}

func without(uris, drop []string) []string {
	if len(drop) == 0 {
		return slices.Clone(uris)
	}
	dropped := store.NewURISetFrom(drop)
	kept := make([]string, 0, len(uris))
	for _, uri := range uris {
		if !dropped.Has(uri) {
			kept = append(kept, uri)
		}
	}
	return kept
}
