// Package store keeps a history of allocation runs in SQLite so a later run
// over the same input and target can be checked against the last layout.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/blendsdk/blend65-sub013/pkg/layout"
	"github.com/blendsdk/blend65-sub013/pkg/pipeline"
	"github.com/blendsdk/blend65-sub013/pkg/report"
)

//go:embed schema.sql
var schemaSQL string

// ErrNoRun is returned when no run matches a lookup
var ErrNoRun = errors.New("no previous run")

// Store is the run-history database
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Run is one stored allocation run
type Run struct {
	Seq         int64
	ID          string
	InputHash   string
	Target      string
	OK          bool
	Fingerprint string // empty for failed runs
	Stats       pipeline.Stats
	CreatedAt   time.Time
}

// Open creates or opens the database at path and applies the schema.
// The connection pool holds a single connection since SQLite has one writer.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("execute %q: %w", p, err)
		}
	}
	return nil
}

// SaveRun stores res with its records and diagnostics in one transaction
func (s *Store) SaveRun(ctx context.Context, inputHash string, res *pipeline.Result) (*Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	run := &Run{
		ID:        id.String(),
		InputHash: inputHash,
		Target:    res.Platform.Name,
		OK:        res.OK(),
		Stats:     res.Stats,
		CreatedAt: s.now().UTC(),
	}
	if run.OK {
		if run.Fingerprint, err = report.Fingerprint(res.Records); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
	}
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, input_hash, target, ok, fingerprint, stats, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.InputHash, run.Target, run.OK, run.Fingerprint, string(stats), run.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	if run.Seq, err = r.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	for i, rec := range res.Records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records
			(run_id, idx, function, slot, role, type, size, location, address, frame_offset, reg, group_id, reentrant)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, rec.Function, rec.Slot, rec.Role, rec.Type, rec.Size, rec.Location.String(),
			int(rec.Address), rec.Offset, rec.Register, rec.Group, rec.Reentrant)
		if err != nil {
			return nil, fmt.Errorf("insert record %s.%s: %w", rec.Function, rec.Slot, err)
		}
	}

	for i, d := range res.Diagnostics.All() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO diagnostics (run_id, idx, severity, code, function, slot, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, d.Severity.String(), string(d.Code), d.Function, d.Slot, d.Message)
		if err != nil {
			return nil, fmt.Errorf("insert diagnostic %s: %w", d.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	return run, nil
}

// LastRun returns the most recent run for an input and target
func (s *Store) LastRun(ctx context.Context, inputHash, target string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, input_hash, target, ok, fingerprint, stats, created_at
		FROM runs
		WHERE input_hash = ? AND target = ?
		ORDER BY seq DESC
		LIMIT 1
	`, inputHash, target)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRun
	}
	return run, err
}

// Runs returns every stored run, oldest first
func (s *Store) Runs(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, input_hash, target, ok, fingerprint, stats, created_at
		FROM runs
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
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

// Records returns the stored layout of a run in its original order
func (s *Store) Records(ctx context.Context, runID string) (layout.Records, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT function, slot, role, type, size, location, address, frame_offset, reg, group_id, reentrant
		FROM records
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	recs := layout.Records{}
	for rows.Next() {
		var rec layout.Record
		var loc string
		var addr int
		if err := rows.Scan(&rec.Function, &rec.Slot, &rec.Role, &rec.Type, &rec.Size, &loc,
			&addr, &rec.Offset, &rec.Register, &rec.Group, &rec.Reentrant); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := rec.Location.UnmarshalText([]byte(loc)); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Address = uint16(addr)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return recs, nil
}

// DiagnosticCodes returns the codes a run reported, in emission order
func (s *Store) DiagnosticCodes(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code FROM diagnostics WHERE run_id = ? ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics: %w", err)
	}
	return codes, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var stats, created string
	if err := row.Scan(&run.Seq, &run.ID, &run.InputHash, &run.Target, &run.OK,
		&run.Fingerprint, &stats, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &run.Stats); err != nil {
		return nil, fmt.Errorf("scan run %s: stats: %w", run.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("scan run %s: created_at: %w", run.ID, err)
	}
	run.CreatedAt = t
	return &run, nil
}

// Changed reports whether two successful runs produced different layouts
func Changed(prev, cur *Run) bool {
	if prev == nil || cur == nil || !prev.OK || !cur.OK {
		return false
	}
	return prev.Fingerprint != cur.Fingerprint
}
