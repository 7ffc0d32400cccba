// Package settings persists user-configurable knobs in the agent database.
// The core components read current values at the moment they need them and
// never cache them, so a change takes effect at the next tick or re-arm.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Setting keys.
const (
	keySampleIntervalSeconds = "collection_interval_seconds"
	keyAutoSyncEnabled       = "auto_sync_enabled"
	keySyncIntervalMinutes   = "sync_interval_minutes"
	keyThemePreference       = "theme_preference"
)

// Defaults applied when a key has never been written.
const (
	DefaultSampleInterval = 15 * time.Second
	DefaultAutoSync       = true
	DefaultSyncInterval   = 60 * time.Minute
	DefaultTheme          = "System"
)

// Store reads and writes settings in the shared SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore wraps the given database handle. The settings table is created
// by the storage package's schema.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SampleInterval returns the telemetry collection cadence.
func (s *Store) SampleInterval(ctx context.Context) time.Duration {
	seconds, ok := s.intValue(ctx, keySampleIntervalSeconds)
	if !ok || seconds <= 0 {
		return DefaultSampleInterval
	}
	return time.Duration(seconds) * time.Second
}

// SetSampleInterval stores the telemetry collection cadence in seconds.
func (s *Store) SetSampleInterval(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("sample interval must be positive, got %v", d)
	}
	return s.set(ctx, keySampleIntervalSeconds, strconv.Itoa(int(d/time.Second)))
}

// AutoSyncEnabled reports whether the periodic sync cycle should run.
func (s *Store) AutoSyncEnabled(ctx context.Context) bool {
	v, err := s.get(ctx, keyAutoSyncEnabled)
	if err != nil {
		return DefaultAutoSync
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return DefaultAutoSync
	}
	return enabled
}

// SetAutoSyncEnabled toggles the periodic sync cycle.
func (s *Store) SetAutoSyncEnabled(ctx context.Context, enabled bool) error {
	return s.set(ctx, keyAutoSyncEnabled, strconv.FormatBool(enabled))
}

// SyncInterval returns the sync cycle cadence.
func (s *Store) SyncInterval(ctx context.Context) time.Duration {
	minutes, ok := s.intValue(ctx, keySyncIntervalMinutes)
	if !ok || minutes <= 0 {
		return DefaultSyncInterval
	}
	return time.Duration(minutes) * time.Minute
}

// SetSyncInterval stores the sync cycle cadence in whole minutes.
func (s *Store) SetSyncInterval(ctx context.Context, d time.Duration) error {
	if d < time.Minute {
		return fmt.Errorf("sync interval must be at least one minute, got %v", d)
	}
	return s.set(ctx, keySyncIntervalMinutes, strconv.Itoa(int(d/time.Minute)))
}

// ThemePreference is surfaced to UI consumers only; the core never reads it.
func (s *Store) ThemePreference(ctx context.Context) string {
	v, err := s.get(ctx, keyThemePreference)
	if err != nil || v == "" {
		return DefaultTheme
	}
	return v
}

// SetThemePreference stores the UI theme choice.
func (s *Store) SetThemePreference(ctx context.Context, theme string) error {
	return s.set(ctx, keyThemePreference, theme)
}

func (s *Store) intValue(ctx context.Context, key string) (int, bool) {
	v, err := s.get(ctx, key)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}
