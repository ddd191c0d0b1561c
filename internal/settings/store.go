// Package settings persists user-facing toggles such as auto-download.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const keyAutoDownload = "auto_download"

// Store keeps settings in SQLite and caches them in memory.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu           sync.RWMutex
	autoDownload bool

	subMu  sync.RWMutex
	subs   map[uint64]func(bool)
	subSeq uint64
}

// Open opens (or creates) the settings database at path. On first start the
// auto-download flag is seeded to true.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create settings directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings table: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES (?, 'true', ?)`,
		keyAutoDownload, time.Now().UTC())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("seed settings: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		subs:   make(map[uint64]func(bool)),
	}

	if err := s.load(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("settings loaded", "path", path, "auto_download", s.AutoDownload())
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, keyAutoDownload).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		raw = "true"
	} else if err != nil {
		return fmt.Errorf("read auto_download: %w", err)
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		// Anything but an explicit false keeps auto-download on.
		v = true
	}

	s.mu.Lock()
	s.autoDownload = v
	s.mu.Unlock()
	return nil
}

// AutoDownload returns the cached auto-download flag.
func (s *Store) AutoDownload() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoDownload
}

// SetAutoDownload persists the flag and notifies subscribers if it changed.
// The write and the cache update happen under one lock so the cache always
// holds the last value written.
func (s *Store) SetAutoDownload(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, keyAutoDownload, strconv.FormatBool(enabled), time.Now().UTC())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("write auto_download: %w", err)
	}
	changed := s.autoDownload != enabled
	s.autoDownload = enabled
	s.mu.Unlock()

	if changed {
		s.logger.Info("auto-download changed", "enabled", enabled)
		s.notify(enabled)
	}
	return nil
}

// Subscribe registers fn to be called after each change of the
// auto-download flag. The returned function removes the subscription.
func (s *Store) Subscribe(fn func(enabled bool)) func() {
	s.subMu.Lock()
	s.subSeq++
	id := s.subSeq
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(enabled bool) {
	s.subMu.RLock()
	fns := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(enabled)
	}
}

// Ping checks that the settings database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the settings database.
func (s *Store) Close() error {
	return s.db.Close()
}
