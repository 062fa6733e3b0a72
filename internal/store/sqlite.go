// Package store persists simulation run summaries in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/nredf-scheduler/internal/logging"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Run is the stored summary of one simulation run.
type Run struct {
	ID        string
	Name      string
	StartedAt time.Time
	Duration  time.Duration
	TTI       time.Duration
	Seed      uint64

	TTIs           uint64
	Rounds         uint64
	GrantedBytes   uint64
	Sent           uint64
	Received       uint64
	DeadlineMisses uint64

	// Scenario is the YAML the run was started from.
	Scenario string

	Flows   []FlowStats
	Classes []ClassStats
}

// FlowStats is the stored measurement of one connection.
type FlowStats struct {
	CID            uint32
	FiveQI         int
	Sent           uint64
	Received       uint64
	BytesReceived  uint64
	MeanDelay      time.Duration
	MaxDelay       time.Duration
	Jitter         time.Duration
	DeadlineChecks uint64
	DeadlineMisses uint64
}

// ClassStats is the stored aggregate of one 5QI.
type ClassStats struct {
	FiveQI         int
	ResourceType   string
	Flows          int
	Sent           uint64
	Received       uint64
	MeanDelay      time.Duration
	MaxDelay       time.Duration
	DeadlineMisses uint64
}

// SQLiteStore keeps run results in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log logging.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath. Use ":memory:"
// for a throwaway database.
func NewSQLiteStore(dbPath string, log logging.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logging.Noop()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		log: log.With(logging.String("component", "store")),
	}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates the tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.log.Debug(ctx, "sql", logging.String("op", "migrate"))
	return migrate(ctx, s.db)
}

// SaveRun stores run with its flow and class rows in one transaction. An
// empty ID is filled with a new UUID; the stored id is returned.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	s.log.Debug(ctx, "sql", logging.String("op", "insert"), logging.String("table", "runs"), logging.String("id", run.ID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, name, started_at, duration_ns, tti_ns, seed, ttis, rounds, granted_bytes, sent, received, deadline_misses, scenario)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.StartedAt.UTC().Format(time.RFC3339Nano),
		int64(run.Duration), int64(run.TTI), int64(run.Seed),
		int64(run.TTIs), int64(run.Rounds), int64(run.GrantedBytes),
		int64(run.Sent), int64(run.Received), int64(run.DeadlineMisses),
		run.Scenario,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, f := range run.Flows {
		_, err := tx.ExecContext(ctx, `INSERT INTO flow_stats
			(run_id, cid, five_qi, sent, received, bytes_received, mean_delay_ns, max_delay_ns, jitter_ns, deadline_checks, deadline_misses)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, int64(f.CID), f.FiveQI, int64(f.Sent), int64(f.Received), int64(f.BytesReceived),
			int64(f.MeanDelay), int64(f.MaxDelay), int64(f.Jitter),
			int64(f.DeadlineChecks), int64(f.DeadlineMisses),
		)
		if err != nil {
			return "", fmt.Errorf("insert flow %d: %w", f.CID, err)
		}
	}
	for _, c := range run.Classes {
		_, err := tx.ExecContext(ctx, `INSERT INTO class_stats
			(run_id, five_qi, resource_type, flows, sent, received, mean_delay_ns, max_delay_ns, deadline_misses)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, c.FiveQI, c.ResourceType, c.Flows, int64(c.Sent), int64(c.Received),
			int64(c.MeanDelay), int64(c.MaxDelay), int64(c.DeadlineMisses),
		)
		if err != nil {
			return "", fmt.Errorf("insert class %d: %w", c.FiveQI, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return run.ID, nil
}

// ListRuns returns the most recent runs first, without flow or class rows.
// limit <= 0 returns all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	s.log.Debug(ctx, "sql", logging.String("op", "select"), logging.String("table", "runs"))

	query := `SELECT id, name, started_at, duration_ns, tti_ns, seed, ttis, rounds, granted_bytes, sent, received, deadline_misses, scenario
		FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its flow and class rows.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.log.Debug(ctx, "sql", logging.String("op", "select"), logging.String("table", "runs"), logging.String("id", id))

	row := s.db.QueryRowContext(ctx, `SELECT id, name, started_at, duration_ns, tti_ns, seed, ttis, rounds, granted_bytes, sent, received, deadline_misses, scenario
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if run.Flows, err = s.flowStats(ctx, id); err != nil {
		return nil, err
	}
	if run.Classes, err = s.classStats(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

// DeleteRun removes a run and its rows.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	s.log.Debug(ctx, "sql", logging.String("op", "delete"), logging.String("table", "runs"), logging.String("id", id))
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) flowStats(ctx context.Context, id string) ([]FlowStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cid, five_qi, sent, received, bytes_received, mean_delay_ns, max_delay_ns, jitter_ns, deadline_checks, deadline_misses
		FROM flow_stats WHERE run_id = ? ORDER BY cid`, id)
	if err != nil {
		return nil, fmt.Errorf("query flow stats: %w", err)
	}
	defer rows.Close()

	var out []FlowStats
	for rows.Next() {
		var (
			f                                    FlowStats
			cid, sent, recv, bytes, checks, miss int64
			mean, max, jitter                    int64
		)
		if err := rows.Scan(&cid, &f.FiveQI, &sent, &recv, &bytes, &mean, &max, &jitter, &checks, &miss); err != nil {
			return nil, fmt.Errorf("scan flow stats: %w", err)
		}
		f.CID = uint32(cid)
		f.Sent, f.Received, f.BytesReceived = uint64(sent), uint64(recv), uint64(bytes)
		f.MeanDelay, f.MaxDelay, f.Jitter = time.Duration(mean), time.Duration(max), time.Duration(jitter)
		f.DeadlineChecks, f.DeadlineMisses = uint64(checks), uint64(miss)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) classStats(ctx context.Context, id string) ([]ClassStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT five_qi, resource_type, flows, sent, received, mean_delay_ns, max_delay_ns, deadline_misses
		FROM class_stats WHERE run_id = ? ORDER BY five_qi`, id)
	if err != nil {
		return nil, fmt.Errorf("query class stats: %w", err)
	}
	defer rows.Close()

	var out []ClassStats
	for rows.Next() {
		var (
			c                     ClassStats
			sent, recv, mean, max int64
			miss                  int64
		)
		if err := rows.Scan(&c.FiveQI, &c.ResourceType, &c.Flows, &sent, &recv, &mean, &max, &miss); err != nil {
			return nil, fmt.Errorf("scan class stats: %w", err)
		}
		c.Sent, c.Received = uint64(sent), uint64(recv)
		c.MeanDelay, c.MaxDelay = time.Duration(mean), time.Duration(max)
		c.DeadlineMisses = uint64(miss)
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run                                             Run
		started                                         string
		dur, tti, seed, ttis, rounds, granted, sent, rx int64
		miss                                            int64
	)
	err := sc.Scan(&run.ID, &run.Name, &started, &dur, &tti, &seed, &ttis, &rounds, &granted, &sent, &rx, &miss, &run.Scenario)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parse started_at %q: %w", started, err)
	}
	run.Duration, run.TTI, run.Seed = time.Duration(dur), time.Duration(tti), uint64(seed)
	run.TTIs, run.Rounds, run.GrantedBytes = uint64(ttis), uint64(rounds), uint64(granted)
	run.Sent, run.Received, run.DeadlineMisses = uint64(sent), uint64(rx), uint64(miss)
	return &run, nil
}
