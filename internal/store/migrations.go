package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the DDL of the results database. Every statement is
// idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL DEFAULT '',
		started_at      TEXT NOT NULL,
		duration_ns     INTEGER NOT NULL,
		tti_ns          INTEGER NOT NULL,
		seed            INTEGER NOT NULL,
		ttis            INTEGER NOT NULL DEFAULT 0,
		rounds          INTEGER NOT NULL DEFAULT 0,
		granted_bytes   INTEGER NOT NULL DEFAULT 0,
		sent            INTEGER NOT NULL DEFAULT 0,
		received        INTEGER NOT NULL DEFAULT 0,
		deadline_misses INTEGER NOT NULL DEFAULT 0,
		scenario        TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS flow_stats (
		run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		cid             INTEGER NOT NULL,
		five_qi         INTEGER NOT NULL,
		sent            INTEGER NOT NULL,
		received        INTEGER NOT NULL,
		bytes_received  INTEGER NOT NULL,
		mean_delay_ns   INTEGER NOT NULL,
		max_delay_ns    INTEGER NOT NULL,
		jitter_ns       INTEGER NOT NULL,
		deadline_checks INTEGER NOT NULL,
		deadline_misses INTEGER NOT NULL,
		PRIMARY KEY (run_id, cid)
	)`,

	`CREATE TABLE IF NOT EXISTS class_stats (
		run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		five_qi         INTEGER NOT NULL,
		resource_type   TEXT NOT NULL,
		flows           INTEGER NOT NULL,
		sent            INTEGER NOT NULL,
		received        INTEGER NOT NULL,
		mean_delay_ns   INTEGER NOT NULL,
		max_delay_ns    INTEGER NOT NULL,
		deadline_misses INTEGER NOT NULL,
		PRIMARY KEY (run_id, five_qi)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
