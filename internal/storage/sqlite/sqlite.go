// Package sqlite stores records in a single-file SQLite database. The
// driver is pure Go, so this backend works anywhere the binary runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"neurolab/internal/dataset"
	"neurolab/internal/pipeline"
	"neurolab/internal/schema"
	"neurolab/internal/storage"
)

// Kind is the registry name of this backend. The DSN is the database
// file path (":memory:" works for throwaway stores).
const Kind = "sqlite"

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return Open(ctx, cfg.DSN)
	})
}

// Indexed metadata lives in columns; the full record is the JSON
// document beside it. Timestamps are stored as UTC text with a fixed
// nine-digit fraction so lexicographic order is chronological order.
const ddl = `
CREATE TABLE IF NOT EXISTS runs (
	run_id         TEXT PRIMARY KEY,
	dataset_name   TEXT NOT NULL DEFAULT '',
	schema_name    TEXT NOT NULL DEFAULT '',
	overall_status TEXT NOT NULL DEFAULT '',
	started_at     TEXT NOT NULL,
	finished_at    TEXT NOT NULL,
	document       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS schemas (
	name     TEXT PRIMARY KEY,
	version  TEXT NOT NULL DEFAULT '',
	document TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS datasets (
	name        TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL DEFAULT '',
	row_count   INTEGER NOT NULL DEFAULT 0,
	document    TEXT NOT NULL
);
`

type Store struct {
	db *sql.DB
}

var (
	_ storage.Repository  = (*Store)(nil)
	_ pipeline.Repository = (*Store)(nil)
)

// Open opens (creating if absent) the database at dsn and ensures the
// table layout exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("sqlite: empty dsn")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &storage.PersistenceError{Op: "open database", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &storage.PersistenceError{Op: "ping database", Err: err}
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, &storage.PersistenceError{Op: "create tables", Err: err}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveRun(ctx context.Context, run *pipeline.Run) error {
	if run == nil || run.RunID == "" {
		return errors.New("sqlite: run without id")
	}
	doc, err := storage.EncodeRun(run)
	if err != nil {
		return &storage.PersistenceError{Op: "encode run", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, dataset_name, schema_name, overall_status, started_at, finished_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.DatasetName, run.SchemaName, string(run.OverallStatus),
		stamp(run.StartedAt), stamp(run.FinishedAt), string(doc))
	if err != nil {
		return &storage.PersistenceError{Op: "save run", Err: err}
	}
	return nil
}

func (s *Store) LoadRun(ctx context.Context, id string) (*pipeline.Run, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM runs WHERE run_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %q", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, &storage.PersistenceError{Op: "load run", Err: err}
	}
	return storage.DecodeRun([]byte(doc))
}

func (s *Store) ListRuns(ctx context.Context) ([]storage.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, dataset_name, schema_name, overall_status, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, run_id ASC`)
	if err != nil {
		return nil, &storage.PersistenceError{Op: "list runs", Err: err}
	}
	defer rows.Close()

	var out []storage.RunSummary
	for rows.Next() {
		var sum storage.RunSummary
		var started, finished string
		if err := rows.Scan(&sum.RunID, &sum.DatasetName, &sum.SchemaName, &sum.OverallStatus, &started, &finished); err != nil {
			return nil, &storage.PersistenceError{Op: "list runs", Err: err}
		}
		if sum.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, &storage.PersistenceError{Op: "list runs", Err: err}
		}
		if sum.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, &storage.PersistenceError{Op: "list runs", Err: err}
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.PersistenceError{Op: "list runs", Err: err}
	}
	return out, nil
}

func (s *Store) SaveSchema(ctx context.Context, sc *schema.Schema) error {
	if sc == nil || sc.Name == "" {
		return errors.New("sqlite: schema without name")
	}
	doc, err := storage.EncodeSchema(sc)
	if err != nil {
		return &storage.PersistenceError{Op: "encode schema", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO schemas (name, version, document) VALUES (?, ?, ?)`,
		sc.Name, sc.Version, string(doc))
	if err != nil {
		return &storage.PersistenceError{Op: "save schema", Err: err}
	}
	return nil
}

func (s *Store) LoadSchema(ctx context.Context, name string) (*schema.Schema, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM schemas WHERE name = ?`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: schema %q", storage.ErrNotFound, name)
	}
	if err != nil {
		return nil, &storage.PersistenceError{Op: "load schema", Err: err}
	}
	return storage.DecodeSchema([]byte(doc))
}

func (s *Store) SaveDataset(ctx context.Context, name string, ds *dataset.Dataset) error {
	if name == "" {
		return errors.New("sqlite: dataset without name")
	}
	if ds == nil {
		return errors.New("sqlite: nil dataset")
	}
	doc, err := storage.EncodeDataset(ds)
	if err != nil {
		return &storage.PersistenceError{Op: "encode dataset", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO datasets (name, fingerprint, row_count, document) VALUES (?, ?, ?, ?)`,
		name, ds.Fingerprint(), ds.NumRows(), string(doc))
	if err != nil {
		return &storage.PersistenceError{Op: "save dataset", Err: err}
	}
	return nil
}

func (s *Store) LoadDataset(ctx context.Context, name string) (*dataset.Dataset, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM datasets WHERE name = ?`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: dataset %q", storage.ErrNotFound, name)
	}
	if err != nil {
		return nil, &storage.PersistenceError{Op: "load dataset", Err: err}
	}
	return storage.DecodeDataset([]byte(doc))
}

// stampLayout keeps the fraction at full width; RFC3339Nano would trim
// trailing zeros and break text ordering.
const stampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func stamp(t time.Time) string {
	return t.UTC().Format(stampLayout)
}
