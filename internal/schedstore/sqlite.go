package schedstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "govrun/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schedules (
	id          TEXT PRIMARY KEY,
	cron        TEXT NOT NULL,
	timezone    TEXT NOT NULL DEFAULT '',
	entrypoint  TEXT NOT NULL,
	input       TEXT NOT NULL DEFAULT '{}',
	config_hash TEXT NOT NULL,
	paused      INTEGER NOT NULL DEFAULT 0,
	updated_at  TEXT NOT NULL
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite schedule store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schedule store schema: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Describe(ctx context.Context, id string) (Remote, error) {
	var hash string
	var paused int
	err := s.db.QueryRowContext(ctx,
		`SELECT config_hash, paused FROM schedules WHERE id = ?`, id,
	).Scan(&hash, &paused)
	if errors.Is(err, sql.ErrNoRows) {
		return Remote{ID: id}, nil
	}
	if err != nil {
		return Remote{}, err
	}
	return Remote{ID: id, ConfigHash: hash, Paused: paused != 0, Exists: true}, nil
}

func (s *sqliteStore) Create(ctx context.Context, spec Spec) error {
	input, err := encodeInput(spec.Input)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, cron, timezone, entrypoint, input, config_hash, paused, updated_at)
		 VALUES(?,?,?,?,?,?,0,?)`,
		spec.ID, spec.Cron, spec.TimeZone, spec.Entrypoint, input, spec.ConfigHash,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil && isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *sqliteStore) Update(ctx context.Context, spec Spec) error {
	input, err := encodeInput(spec.Input)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules
		 SET cron = ?, timezone = ?, entrypoint = ?, input = ?, config_hash = ?, updated_at = ?
		 WHERE id = ?`,
		spec.Cron, spec.TimeZone, spec.Entrypoint, input, spec.ConfigHash,
		time.Now().UTC().Format(time.RFC3339Nano), spec.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Pause(ctx context.Context, id string) error {
	return s.setPaused(ctx, id, 1)
}

func (s *sqliteStore) Resume(ctx context.Context, id string) error {
	return s.setPaused(ctx, id, 0)
}

func (s *sqliteStore) setPaused(ctx context.Context, id string, paused int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET paused = ?, updated_at = ? WHERE id = ?`,
		paused, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeInput(input map[string]any) (string, error) {
	if len(input) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode schedule input: %w", err)
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text;
	// there is no portable sentinel across drivers.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
