// Package history keeps a SQLite record of every finished city-year
// workflow so past runs can be listed after the process restarts.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"munireports/internal/operations"
)

// ErrNotFound is returned when a run has no recorded workflows
var ErrNotFound = errors.New("not found")

// Entry is one recorded workflow outcome
type Entry struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	City       string    `json:"city"`
	Display    string    `json:"display_name"`
	Year       int       `json:"year"`
	State      string    `json:"state"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempted  int       `json:"submissions_attempted"`
	Submitted  int       `json:"submissions_succeeded"`
	Downloaded int       `json:"files_downloaded"`
	Converted  int       `json:"files_converted"`
	Expected   int       `json:"expected"`
	Errors     int       `json:"errors"`
	Warnings   int       `json:"warnings"`
	ReportPath string    `json:"report_path,omitempty"`
	Workspace  string    `json:"workspace"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is how long the workflow ran
func (e Entry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// RunSummary aggregates the workflows of one run
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Pairs      int       `json:"pairs"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	RunID string
	City  string
	Year  int
	Limit int
}

// Store is the run history database
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the history database at path and
// applies pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// one writer at a time; workers finish concurrently
	db.SetMaxOpenConns(1)

	version, err := migrate(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	s := &Store{db: db, logger: logger.With(slog.String("component", "history"))}
	s.logger.Debug("History database ready",
		slog.String("path", path),
		slog.Int("schema_version", version))
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record stores one finished workflow. Outcomes without a state (pairs
// still running) are ignored.
func (s *Store) Record(ctx context.Context, out operations.Outcome) error {
	if out.State == "" {
		return nil
	}
	return insert(ctx, s.db, out)
}

// RecordAll stores every finished outcome of a run in one transaction
func (s *Store) RecordAll(ctx context.Context, outcomes []operations.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	n := 0
	for _, out := range outcomes {
		if out.State == "" {
			continue
		}
		if err := insert(ctx, tx, out); err != nil {
			return err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info("Run recorded", slog.Int("workflows", n))
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, out operations.Outcome) error {
	_, err := db.ExecContext(ctx, `INSERT INTO workflows(
		run_id,city,display_name,year,state,status,error_kind,error,
		attempted,submitted,downloaded,converted,expected,errors,warnings,
		report_path,workspace,started_at,finished_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		out.RunID, out.City, out.Display, out.Year, string(out.State), string(out.Status), out.ErrorKind, out.Error,
		out.Counters.SubmissionsAttempted, out.Counters.SubmissionsSucceeded,
		out.Counters.FilesDownloaded, out.Counters.FilesConverted, out.Expected,
		out.Counters.Errors, out.Counters.Warnings,
		out.ReportPath, out.Workspace, toMillis(out.StartedAt), toMillis(out.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to record %s/%d: %w", out.City, out.Year, err)
	}
	return nil
}

const entryColumns = `id,run_id,city,display_name,year,state,status,error_kind,error,
	attempted,submitted,downloaded,converted,expected,errors,warnings,
	report_path,workspace,started_at,finished_at`

// List returns recorded workflows, newest first
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.RunID != "" {
		where = append(where, "run_id=?")
		args = append(args, f.RunID)
	}
	if f.City != "" {
		where = append(where, "city=?")
		args = append(args, f.City)
	}
	if f.Year != 0 {
		where = append(where, "year=?")
		args = append(args, f.Year)
	}

	query := `SELECT ` + entryColumns + ` FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY finished_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Run returns the summary of one run
func (s *Store) Run(ctx context.Context, runID string) (RunSummary, error) {
	entries, err := s.List(ctx, Filter{RunID: runID})
	if err != nil {
		return RunSummary{}, err
	}
	if len(entries) == 0 {
		return RunSummary{}, ErrNotFound
	}
	return summarize(runID, entries), nil
}

// Runs returns the most recent runs, newest first
func (s *Store) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT run_id FROM workflows GROUP BY run_id ORDER BY MAX(finished_at) DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res := make([]RunSummary, 0, len(ids))
	for _, id := range ids {
		sum, err := s.Run(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, sum)
	}
	return res, nil
}

func summarize(runID string, entries []Entry) RunSummary {
	sum := RunSummary{RunID: runID, Pairs: len(entries)}
	statuses := make([]operations.Status, 0, len(entries))
	for i, e := range entries {
		statuses = append(statuses, operations.Status(e.Status))
		if i == 0 || e.StartedAt.Before(sum.StartedAt) {
			sum.StartedAt = e.StartedAt
		}
		if e.FinishedAt.After(sum.FinishedAt) {
			sum.FinishedAt = e.FinishedAt
		}
	}
	sum.Status = string(operations.AggregateStatus(statuses...))
	return sum
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                 Entry
		started, finished int64
	)
	err := row.Scan(&e.ID, &e.RunID, &e.City, &e.Display, &e.Year, &e.State, &e.Status, &e.ErrorKind, &e.Error,
		&e.Attempted, &e.Submitted, &e.Downloaded, &e.Converted, &e.Expected, &e.Errors, &e.Warnings,
		&e.ReportPath, &e.Workspace, &started, &finished)
	if err != nil {
		return e, err
	}
	e.StartedAt = fromMillis(started)
	e.FinishedAt = fromMillis(finished)
	return e, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
