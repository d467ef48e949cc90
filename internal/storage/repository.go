// Package storage persists run records, schemas and datasets behind a
// pluggable Repository interface. Backends register themselves by kind
// from init; programs import the backends they want (or storage/all for
// all of them) and open one with New.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"neurolab/internal/dataset"
	"neurolab/internal/pipeline"
	"neurolab/internal/schema"
)

// ErrNotFound reports a lookup for a run, schema or dataset the backend
// has no record of. Backends wrap it so errors.Is works through
// PersistenceError.
var ErrNotFound = errors.New("storage: not found")

// PersistenceError tags a backend failure with the operation that hit
// it. Unwrap exposes the backend error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// RunSummary is one row of a run listing, newest first.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	DatasetName   string    `json:"dataset_name,omitempty"`
	SchemaName    string    `json:"schema_name,omitempty"`
	OverallStatus string    `json:"overall_status"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Repository is the full persistence surface. It is a superset of the
// orchestrator's pipeline.Repository; every backend satisfies both.
type Repository interface {
	SaveRun(ctx context.Context, run *pipeline.Run) error
	LoadRun(ctx context.Context, id string) (*pipeline.Run, error)
	ListRuns(ctx context.Context) ([]RunSummary, error)

	SaveSchema(ctx context.Context, sc *schema.Schema) error
	LoadSchema(ctx context.Context, name string) (*schema.Schema, error)

	SaveDataset(ctx context.Context, name string, ds *dataset.Dataset) error
	LoadDataset(ctx context.Context, name string) (*dataset.Dataset, error)

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Kind names a registered backend, e.g. "file", "sqlite",
	// "postgres", "mssql".
	Kind string `json:"kind" yaml:"kind"`
	// DSN is backend-specific: a directory for file, a database path
	// for sqlite, a connection string for the server databases.
	DSN string `json:"dsn" yaml:"dsn"`
}

// Factory opens a repository for a config whose Kind already matched.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register ties a backend kind to its factory. Backends call it from
// init, so a bad registration is a programming error and panics.
func Register(kind string, f Factory) {
	if kind == "" {
		panic("storage: Register with empty kind")
	}
	if f == nil {
		panic(fmt.Sprintf("storage: Register(%q) with nil factory", kind))
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("storage: Register(%q) called twice", kind))
	}
	factories[kind] = f
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens the repository cfg describes.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: no backend kind configured (known: %s)", strings.Join(Kinds(), ", "))
	}
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown backend %q (known: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}
