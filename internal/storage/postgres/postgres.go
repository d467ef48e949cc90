// Package postgres stores records in PostgreSQL via pgx. It suits
// shared deployments where several workers write runs to one database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"neurolab/internal/dataset"
	"neurolab/internal/pipeline"
	"neurolab/internal/schema"
	"neurolab/internal/storage"
)

// Kind is the registry name of this backend. The DSN is a pgx
// connection string or URL.
const Kind = "postgres"

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return Open(ctx, cfg.DSN)
	})
}

const ddl = `
CREATE TABLE IF NOT EXISTS neurolab_runs (
	run_id         TEXT PRIMARY KEY,
	dataset_name   TEXT NOT NULL DEFAULT '',
	schema_name    TEXT NOT NULL DEFAULT '',
	overall_status TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ NOT NULL,
	document       JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS neurolab_schemas (
	name     TEXT PRIMARY KEY,
	version  TEXT NOT NULL DEFAULT '',
	document JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS neurolab_datasets (
	name        TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL DEFAULT '',
	row_count   BIGINT NOT NULL DEFAULT 0,
	document    JSONB NOT NULL
);
`

// The statements are built once; upsertSQL is pure so the generated SQL
// is unit-testable without a server.
var (
	upsertRun = upsertSQL("neurolab_runs", []string{
		"run_id", "dataset_name", "schema_name", "overall_status", "started_at", "finished_at", "document",
	})
	upsertSchema  = upsertSQL("neurolab_schemas", []string{"name", "version", "document"})
	upsertDataset = upsertSQL("neurolab_datasets", []string{"name", "fingerprint", "row_count", "document"})
)

type Store struct {
	pool *pgxpool.Pool
}

var (
	_ storage.Repository  = (*Store)(nil)
	_ pipeline.Repository = (*Store)(nil)
)

// Open connects to the database at dsn and ensures the table layout
// exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty dsn")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &storage.PersistenceError{Op: "open pool", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &storage.PersistenceError{Op: "ping database", Err: err}
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, &storage.PersistenceError{Op: "create tables", Err: err}
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) SaveRun(ctx context.Context, run *pipeline.Run) error {
	if run == nil || run.RunID == "" {
		return errors.New("postgres: run without id")
	}
	doc, err := storage.EncodeRun(run)
	if err != nil {
		return &storage.PersistenceError{Op: "encode run", Err: err}
	}
	_, err = s.pool.Exec(ctx, upsertRun,
		run.RunID, run.DatasetName, run.SchemaName, string(run.OverallStatus),
		run.StartedAt.UTC(), run.FinishedAt.UTC(), doc)
	if err != nil {
		return &storage.PersistenceError{Op: "save run", Err: err}
	}
	return nil
}

func (s *Store) LoadRun(ctx context.Context, id string) (*pipeline.Run, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM neurolab_runs WHERE run_id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %q", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, &storage.PersistenceError{Op: "load run", Err: err}
	}
	return storage.DecodeRun(doc)
}

func (s *Store) ListRuns(ctx context.Context) ([]storage.RunSummary, error) {
	rows, err := s.pool.Query(ctx, `
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
		return errors.New("postgres: schema without name")
	}
	doc, err := storage.EncodeSchema(sc)
	if err != nil {
		return &storage.PersistenceError{Op: "encode schema", Err: err}
	}
	if _, err := s.pool.Exec(ctx, upsertSchema, sc.Name, sc.Version, doc); err != nil {
		return &storage.PersistenceError{Op: "save schema", Err: err}
	}
	return nil
}

func (s *Store) LoadSchema(ctx context.Context, name string) (*schema.Schema, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM neurolab_schemas WHERE name = $1`, name).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: schema %q", storage.ErrNotFound, name)
	}
	if err != nil {
		return nil, &storage.PersistenceError{Op: "load schema", Err: err}
	}
	return storage.DecodeSchema(doc)
}

func (s *Store) SaveDataset(ctx context.Context, name string, ds *dataset.Dataset) error {
	if name == "" {
		return errors.New("postgres: dataset without name")
	}
	if ds == nil {
		return errors.New("postgres: nil dataset")
	}
	doc, err := storage.EncodeDataset(ds)
	if err != nil {
		return &storage.PersistenceError{Op: "encode dataset", Err: err}
	}
	if _, err := s.pool.Exec(ctx, upsertDataset, name, ds.Fingerprint(), ds.NumRows(), doc); err != nil {
		return &storage.PersistenceError{Op: "save dataset", Err: err}
	}
	return nil
}

func (s *Store) LoadDataset(ctx context.Context, name string) (*dataset.Dataset, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM neurolab_datasets WHERE name = $1`, name).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: dataset %q", storage.ErrNotFound, name)
	}
	if err != nil {
		return nil, &storage.PersistenceError{Op: "load dataset", Err: err}
	}
	return storage.DecodeDataset(doc)
}

// upsertSQL builds the INSERT ... ON CONFLICT DO UPDATE statement for a
// table whose first column is the primary key.
func upsertSQL(table string, cols []string) string {
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgIdent(c)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", pgIdent(c), pgIdent(c)))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		pgIdent(table),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "),
		pgIdent(cols[0]),
		strings.Join(sets, ", "),
	)
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
