// Package history keeps an audit trail of harness runs in SQLite.
//
// The history is write-only from the harness's point of view: it is never
// consulted to skip or short-circuit a run.
package history

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

	"github.com/harrison/plugintest/internal/executor"
	_ "github.com/mattn/go-sqlite3"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is a single recorded harness run.
type Run struct {
	ID             string
	StartedAt      time.Time
	Duration       time.Duration
	Host           string
	FixtureDir     string
	WorkDir        string
	PluginDir      string
	Action         string
	TextPatterns   []string
	BinaryPatterns []string
	Passed         bool
	DryRun         bool
	FailedPhase    string // empty on a pass
	ErrorKind      string // empty on a pass
	ErrorMessage   string
	ExitCode       *int // nil when the host never ran
	Files          []FileRecord
}

// FileRecord is the verification result of one file in a run.
type FileRecord struct {
	Name         string
	Mode         string
	Passed       bool
	ErrorMessage string
}

// FromResult converts a pipeline result into a history record.
func FromResult(result *executor.RunResult) *Run {
	req := result.Request
	run := &Run{
		ID:             result.ID,
		StartedAt:      result.StartedAt.UTC(),
		Duration:       result.Duration,
		Host:           req.HostExecutable,
		FixtureDir:     req.FixtureDir,
		WorkDir:        req.WorkDir,
		PluginDir:      req.PluginBuildDir,
		Action:         req.Action,
		TextPatterns:   req.TextPatterns,
		BinaryPatterns: req.BinaryPatterns,
		Passed:         result.Passed(),
		DryRun:         result.DryRun,
	}

	if result.Err != nil {
		run.FailedPhase = result.FailedPhase.String()
		run.ErrorKind = result.Kind().String()
		run.ErrorMessage = result.Err.Error()
	}

	if result.Outcome != nil {
		code := result.Outcome.ExitCode
		run.ExitCode = &code
	}

	for _, f := range result.Files {
		rec := FileRecord{Name: f.Name, Mode: string(f.Mode), Passed: f.Passed()}
		if f.Err != nil {
			rec.ErrorMessage = f.Err.Error()
		}
		run.Files = append(run.Files, rec)
	}

	return run
}

// Filter narrows ListRuns.
type Filter struct {
	Limit      int    // 0 = no limit
	FailedOnly bool   // only runs that did not pass
	Action     string // exact action name
	FixtureDir string // exact fixture directory
}

// Store manages the SQLite run history database
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new Store instance and initializes the database.
// dbPath may be ":memory:".
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Connection parameters apply to every pooled connection
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun stores a run and its file results.
func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}

	textJSON, err := json.Marshal(nonNil(run.TextPatterns))
	if err != nil {
		return fmt.Errorf("marshal text patterns: %w", err)
	}
	binaryJSON, err := json.Marshal(nonNil(run.BinaryPatterns))
	if err != nil {
		return fmt.Errorf("marshal binary patterns: %w", err)
	}

	var exitCode sql.NullInt64
	if run.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*run.ExitCode), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, started_at, duration_ms, host, fixture_dir, work_dir, plugin_dir, action, text_patterns, binary_patterns, passed, dry_run, failed_phase, error_kind, error_message, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC(),
		run.Duration.Milliseconds(),
		run.Host,
		run.FixtureDir,
		run.WorkDir,
		run.PluginDir,
		run.Action,
		string(textJSON),
		string(binaryJSON),
		run.Passed,
		run.DryRun,
		nullString(run.FailedPhase),
		nullString(run.ErrorKind),
		nullString(run.ErrorMessage),
		exitCode,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, f := range run.Files {
		_, err := tx.ExecContext(ctx, `INSERT INTO run_files (run_id, name, mode, passed, error_message) VALUES (?, ?, ?, ?, ?)`,
			run.ID, f.Name, f.Mode, f.Passed, nullString(f.ErrorMessage))
		if err != nil {
			return fmt.Errorf("insert file result %s: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

const runColumns = `id, started_at, duration_ms, host, fixture_dir, work_dir, plugin_dir, action, text_patterns, binary_patterns, passed, dry_run, failed_phase, error_kind, error_message, exit_code`

// ListRuns returns runs matching filter, most recent first. File results
// are not loaded.
func (s *Store) ListRuns(ctx context.Context, filter Filter) ([]*Run, error) {
	var where []string
	var args []interface{}

	if filter.FailedOnly {
		where = append(where, "passed = 0")
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.FixtureDir != "" {
		where = append(where, "fixture_dir = ?")
		args = append(args, filter.FixtureDir)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// GetRun returns a run with its file results. A unique ID prefix is
// accepted in place of the full ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty ID", ErrRunNotFound)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE substr(id, 1, ?) = ? LIMIT 2`, len(id), id)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	var matches []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		matches = append(matches, run)
	}
	iterErr := rows.Err()
	rows.Close()
	if iterErr != nil {
		return nil, fmt.Errorf("iterate runs: %w", iterErr)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
	default:
		return nil, fmt.Errorf("run ID prefix %q is ambiguous", id)
	}

	run := matches[0]
	files, err := s.runFiles(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.Files = files
	return run, nil
}

// CountRuns returns the number of recorded runs.
func (s *Store) CountRuns(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes runs started before cutoff and returns how many
// were deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) runFiles(ctx context.Context, runID string) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, mode, passed, error_message FROM run_files WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query file results: %w", err)
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		var f FileRecord
		var msg sql.NullString
		if err := rows.Scan(&f.Name, &f.Mode, &f.Passed, &msg); err != nil {
			return nil, fmt.Errorf("scan file result: %w", err)
		}
		f.ErrorMessage = msg.String
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file results: %w", err)
	}
	return files, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var durationMS int64
	var textJSON, binaryJSON string
	var failedPhase, errorKind, errorMessage sql.NullString
	var exitCode sql.NullInt64

	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&durationMS,
		&run.Host,
		&run.FixtureDir,
		&run.WorkDir,
		&run.PluginDir,
		&run.Action,
		&textJSON,
		&binaryJSON,
		&run.Passed,
		&run.DryRun,
		&failedPhase,
		&errorKind,
		&errorMessage,
		&exitCode,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Duration = time.Duration(durationMS) * time.Millisecond
	run.FailedPhase = failedPhase.String
	run.ErrorKind = errorKind.String
	run.ErrorMessage = errorMessage.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}

	if err := json.Unmarshal([]byte(textJSON), &run.TextPatterns); err != nil {
		return nil, fmt.Errorf("unmarshal text patterns: %w", err)
	}
	if err := json.Unmarshal([]byte(binaryJSON), &run.BinaryPatterns); err != nil {
		return nil, fmt.Errorf("unmarshal binary patterns: %w", err)
	}

	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
