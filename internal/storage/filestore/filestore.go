// Package filestore is the plain-directory storage backend: one JSON
// document per record under a root directory. It suits single-machine
// use and tests; the SQL backends serve everything else.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"neurolab/internal/dataset"
	"neurolab/internal/pipeline"
	"neurolab/internal/schema"
	"neurolab/internal/storage"
)

// Kind is the registry name of this backend. The DSN is the root
// directory.
const Kind = "file"

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return Open(cfg.DSN)
	})
}

// Store lays records out as <root>/{runs,schemas,datasets}/<name>.json.
type Store struct {
	root string
}

var (
	_ storage.Repository  = (*Store)(nil)
	_ pipeline.Repository = (*Store)(nil)
)

// Open creates the directory layout under root if needed.
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("filestore: empty root directory")
	}
	for _, sub := range []string{"runs", "schemas", "datasets", "manifests"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, &storage.PersistenceError{Op: "open store", Err: err}
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) SaveRun(ctx context.Context, run *pipeline.Run) error {
	if run == nil || run.RunID == "" {
		return errors.New("filestore: run without id")
	}
	if err := validName(run.RunID); err != nil {
		return err
	}
	data, err := storage.EncodeRun(run)
	if err != nil {
		return &storage.PersistenceError{Op: "encode run", Err: err}
	}
	return s.write(filepath.Join(s.root, "runs", run.RunID+".json"), data, "save run")
}

func (s *Store) LoadRun(ctx context.Context, id string) (*pipeline.Run, error) {
	if err := validName(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, "runs", id+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: run %q", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, &storage.PersistenceError{Op: "load run", Err: err}
	}
	return storage.DecodeRun(data)
}

// ListRuns reads every stored run and summarizes it, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]storage.RunSummary, error) {
	dir := filepath.Join(s.root, "runs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &storage.PersistenceError{Op: "list runs", Err: err}
	}
	var out []storage.RunSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, &storage.PersistenceError{Op: "list runs", Err: err}
		}
		run, err := storage.DecodeRun(data)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.Summarize(run))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

func (s *Store) SaveSchema(ctx context.Context, sc *schema.Schema) error {
	if sc == nil {
		return errors.New("filestore: nil schema")
	}
	if err := validName(sc.Name); err != nil {
		return err
	}
	data, err := storage.EncodeSchema(sc)
	if err != nil {
		return &storage.PersistenceError{Op: "encode schema", Err: err}
	}
	return s.write(filepath.Join(s.root, "schemas", sc.Name+".json"), data, "save schema")
}

func (s *Store) LoadSchema(ctx context.Context, name string) (*schema.Schema, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, "schemas", name+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: schema %q", storage.ErrNotFound, name)
	}
	if err != nil {
		return nil, &storage.PersistenceError{Op: "load schema", Err: err}
	}
	return storage.DecodeSchema(data)
}

func (s *Store) SaveDataset(ctx context.Context, name string, ds *dataset.Dataset) error {
	if ds == nil {
		return errors.New("filestore: nil dataset")
	}
	if err := validName(name); err != nil {
		return err
	}
	data, err := storage.EncodeDataset(ds)
	if err != nil {
		return &storage.PersistenceError{Op: "encode dataset", Err: err}
	}
	return s.write(filepath.Join(s.root, "datasets", name+".json"), data, "save dataset")
}

func (s *Store) LoadDataset(ctx context.Context, name string) (*dataset.Dataset, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, "datasets", name+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: dataset %q", storage.ErrNotFound, name)
	}
	if err != nil {
		return nil, &storage.PersistenceError{Op: "load dataset", Err: err}
	}
	return storage.DecodeDataset(data)
}

// write lands data at path via a temp file and rename, so readers never
// see a half-written document.
func (s *Store) write(path string, data []byte, op string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return &storage.PersistenceError{Op: op, Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &storage.PersistenceError{Op: op, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &storage.PersistenceError{Op: op, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return &storage.PersistenceError{Op: op, Err: err}
	}
	return nil
}

// validName keeps record names inside the store's directories.
func validName(name string) error {
	if name == "" {
		return errors.New("filestore: empty record name")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("filestore: invalid record name %q", name)
	}
	return nil
}
