// Package mssql stores records in SQL Server. The driver is not
// imported here; callers register github.com/microsoft/go-mssqldb
// themselves (importing neurolab/internal/storage/all does it), which
// keeps alternative driver builds possible.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"neurolab/internal/dataset"
	"neurolab/internal/pipeline"
	"neurolab/internal/schema"
	"neurolab/internal/storage"
)

// Kind is the registry name of this backend. The DSN is a sqlserver://
// connection string.
const Kind = "mssql"

// DriverName is the database/sql driver this backend opens.
const DriverName = "sqlserver"

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return Open(ctx, cfg.DSN)
	})
}

// T-SQL has no multi-statement IF NOT EXISTS batch; each table is its
// own statement.
var ddl = []string{
	`IF OBJECT_ID(N'neurolab_runs', N'U') IS NULL
CREATE TABLE neurolab_runs (
	run_id         NVARCHAR(64)   NOT NULL PRIMARY KEY,
	dataset_name   NVARCHAR(256)  NOT NULL DEFAULT '',
	schema_name    NVARCHAR(256)  NOT NULL DEFAULT '',
	overall_status NVARCHAR(32)   NOT NULL DEFAULT '',
	started_at     DATETIMEOFFSET NOT NULL,
	finished_at    DATETIMEOFFSET NOT NULL,
	document       NVARCHAR(MAX)  NOT NULL
)`,
	`IF OBJECT_ID(N'neurolab_schemas', N'U') IS NULL
CREATE TABLE neurolab_schemas (
	name     NVARCHAR(256) NOT NULL PRIMARY KEY,
	version  NVARCHAR(64)  NOT NULL DEFAULT '',
	document NVARCHAR(MAX) NOT NULL
)`,
	`IF OBJECT_ID(N'neurolab_datasets', N'U') IS NULL
CREATE TABLE neurolab_datasets (
	name        NVARCHAR(256) NOT NULL PRIMARY KEY,
	fingerprint NVARCHAR(64)  NOT NULL DEFAULT '',
	row_count   BIGINT        NOT NULL DEFAULT 0,
	document    NVARCHAR(MAX) NOT NULL
)`,
}

// Upserts run as delete+insert inside a transaction; SQL Server MERGE
// buys nothing at this volume and is easy to get wrong.
const (
	deleteRunStmt = `DELETE FROM neurolab_runs WHERE run_id = @p1`
	insertRunStmt = `INSERT INTO neurolab_runs ` +
		`(run_id, dataset_name, schema_name, overall_status, started_at, finished_at, document) ` +
		`VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7)`

	deleteSchemaStmt = `DELETE FROM neurolab_schemas WHERE name = @p1`
	insertSchemaStmt = `INSERT INTO neurolab_schemas (name, version, document) VALUES (@p1, @p2, @p3)`

	deleteDatasetStmt = `DELETE FROM neurolab_datasets WHERE name = @p1`
	insertDatasetStmt = `INSERT INTO neurolab_datasets (name, fingerprint, row_count, document) ` +
		`VALUES (@p1, @p2, @p3, @p4)`
)

type Store struct {
	db dbConn
}

var (
	_ storage.Repository  = (*Store)(nil)
	_ pipeline.Repository = (*Store)(nil)
)

// Open connects to the server at dsn and ensures the table layout
// exists. It fails with "unknown driver" when no sqlserver driver is
// registered in the binary.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("mssql: empty dsn")
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, &storage.PersistenceError{Op: "open database", Err: err}
	}
	db.SetMaxOpenConns(64)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &storage.PersistenceError{Op: "ping database", Err: err}
	}
	s := &Store{db: &sqlDB{db: db}}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.db.Close()
			return nil, &storage.PersistenceError{Op: "create tables", Err: err}
		}
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveRun(ctx context.Context, run *pipeline.Run) error {
	if run == nil || run.RunID == "" {
		return errors.New("mssql: run without id")
	}
	doc, err := storage.EncodeRun(run)
	if err != nil {
		return &storage.PersistenceError{Op: "encode run", Err: err}
	}
	return s.replace(ctx, "save run", deleteRunStmt, []any{run.RunID},
		insertRunStmt, []any{
			run.RunID, run.DatasetName, run.SchemaName, string(run.OverallStatus),
			run.StartedAt.UTC(), run.FinishedAt.UTC(), string(doc),
		})
}

func (s *Store) LoadRun(ctx context.Context, id string) (*pipeline.Run, error) {
	doc, err := s.loadDocument(ctx, "load run",
		`SELECT document FROM neurolab_runs WHERE run_id = @p1`, id,
		fmt.Sprintf("run %q", id))
	if err != nil {
		return nil, err
	}
	return storage.DecodeRun(doc)
}

func (s *Store) ListRuns(ctx context.Context) ([]storage.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, dataset_name, schema_name, overall_status, started_at, finished_at
		FROM neurolab_runs
		ORDER BY started_at DESC, run_id ASC`)
	if err != nil {
		return nil, &storage.PersistenceError{Op: "list runs", Err: err}
	}
	defer rows.Close()

	var out []storage.RunSummary
	for rows.Next() {
		var sum storage.RunSummary
		if err := rows.Scan(&sum.RunID, &sum.DatasetName, &sum.SchemaName, &sum.OverallStatus, &sum.StartedAt, &sum.FinishedAt); err != nil {
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
		return errors.New("mssql: schema without name")
	}
	doc, err := storage.EncodeSchema(sc)
	if err != nil {
		return &storage.PersistenceError{Op: "encode schema", Err: err}
	}
	return s.replace(ctx, "save schema", deleteSchemaStmt, []any{sc.Name},
		insertSchemaStmt, []any{sc.Name, sc.Version, string(doc)})
}

func (s *Store) LoadSchema(ctx context.Context, name string) (*schema.Schema, error) {
	doc, err := s.loadDocument(ctx, "load schema",
		`SELECT document FROM neurolab_schemas WHERE name = @p1`, name,
		fmt.Sprintf("schema %q", name))
	if err != nil {
		return nil, err
	}
	return storage.DecodeSchema(doc)
}

func (s *Store) SaveDataset(ctx context.Context, name string, ds *dataset.Dataset) error {
	if name == "" {
		return errors.New("mssql: dataset without name")
	}
	if ds == nil {
		return errors.New("mssql: nil dataset")
	}
	doc, err := storage.EncodeDataset(ds)
	if err != nil {
		return &storage.PersistenceError{Op: "encode dataset", Err: err}
	}
	return s.replace(ctx, "save dataset", deleteDatasetStmt, []any{name},
		insertDatasetStmt, []any{name, ds.Fingerprint(), ds.NumRows(), string(doc)})
}

func (s *Store) LoadDataset(ctx context.Context, name string) (*dataset.Dataset, error) {
	doc, err := s.loadDocument(ctx, "load dataset",
		`SELECT document FROM neurolab_datasets WHERE name = @p1`, name,
		fmt.Sprintf("dataset %q", name))
	if err != nil {
		return nil, err
	}
	return storage.DecodeDataset(doc)
}

// replace deletes the old row and inserts the new one atomically.
func (s *Store) replace(ctx context.Context, op, delStmt string, delArgs []any, insStmt string, insArgs []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &storage.PersistenceError{Op: op, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, delStmt, delArgs...); err != nil {
		return &storage.PersistenceError{Op: op, Err: err}
	}
	if _, err := tx.ExecContext(ctx, insStmt, insArgs...); err != nil {
		return &storage.PersistenceError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &storage.PersistenceError{Op: op, Err: err}
	}
	return nil
}

// loadDocument fetches a single document column, mapping an empty
// result to storage.ErrNotFound.
func (s *Store) loadDocument(ctx context.Context, op, query, key, what string) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, &storage.PersistenceError{Op: op, Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, &storage.PersistenceError{Op: op, Err: err}
		}
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, what)
	}
	var doc string
	if err := rows.Scan(&doc); err != nil {
		return nil, &storage.PersistenceError{Op: op, Err: err}
	}
	return []byte(doc), nil
}

// dbConn is a small interface over *sql.DB used for testability.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
