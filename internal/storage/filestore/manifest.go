package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"neurolab/internal/collect"
	"neurolab/internal/storage"
)

// Manifest persistence is specific to the file store: a collection
// manifest describes files on a machine, so it lives next to them rather
// than in a shared database. It is therefore not part of the Repository
// interface.

func (s *Store) SaveManifest(ctx context.Context, m *collect.Manifest) error {
	if m == nil || m.ManifestID == "" {
		return errors.New("filestore: manifest without id")
	}
	if err := validName(m.ManifestID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &storage.PersistenceError{Op: "encode manifest", Err: err}
	}
	return s.write(filepath.Join(s.root, "manifests", m.ManifestID+".json"), data, "save manifest")
}

func (s *Store) LoadManifest(ctx context.Context, id string) (*collect.Manifest, error) {
	if err := validName(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, "manifests", id+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: manifest %q", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, &storage.PersistenceError{Op: "load manifest", Err: err}
	}
	var m collect.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &storage.PersistenceError{Op: "decode manifest", Err: err}
	}
	return &m, nil
}
