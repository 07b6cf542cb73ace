package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/core"
)

//go:embed schema.sql
var schema string

// DefaultHistoryLimit is the number of runs listed when no limit is given
const DefaultHistoryLimit = 50

// History records pipeline runs in SQLite.
type History struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistory opens (or creates) the database at dbPath and applies the schema.
func NewHistory(dbPath string, logger *zap.Logger) (*History, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &History{db: db, logger: logger}, nil
}

func (h *History) Close() error {
	return h.db.Close()
}

// Record inserts run, assigning an ID when it has none.
func (h *History) Record(ctx context.Context, run *core.RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO runs (id, mode, url, status, playlists, tracks_added, misses, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.URL, run.Status, run.Playlists, run.TracksAdded, run.Misses, run.Error,
		run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	h.logger.Debug("Recorded run",
		zap.String("id", run.ID),
		zap.String("mode", run.Mode),
		zap.String("status", run.Status))
	return nil
}

// List returns the most recent runs first.
func (h *History) List(ctx context.Context, limit int) ([]core.RunRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, mode, url, status, playlists, tracks_added, misses, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []core.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	return runs, nil
}

// Get returns one run by ID, or core.ErrNotFound.
func (h *History) Get(ctx context.Context, id string) (*core.RunRecord, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT id, mode, url, status, playlists, tracks_added, misses, error, started_at, finished_at
		 FROM runs WHERE id = ?`,
		id,
	)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, core.ErrNotFound)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*core.RunRecord, error) {
	var run core.RunRecord
	err := s.Scan(&run.ID, &run.Mode, &run.URL, &run.Status, &run.Playlists, &run.TracksAdded,
		&run.Misses, &run.Error, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &run, nil
}
