// Package collect walks a data-source directory and produces a Manifest:
// a content-hashed inventory of the artifacts a study's raw data consists
// of. Manifests identify what went into a pipeline run without copying
// the data anywhere.
package collect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger is the minimal logging seam. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Artifact is one collected file.
type Artifact struct {
	// Path is relative to the collection root, slash-separated. For a
	// single-file root it is the file's base name.
	Path      string `json:"path"`
	MediaType string `json:"media_type"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
}

// Manifest is the immutable record of one collection pass.
type Manifest struct {
	ManifestID string     `json:"manifest_id"`
	SourceID   string     `json:"source_id,omitempty"`
	RootPath   string     `json:"root_path"`
	CreatedAt  time.Time  `json:"created_at"`
	Artifacts  []Artifact `json:"artifacts"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// mediaByExt maps common data-file extensions to media types. Unknown
// extensions fall back to application/octet-stream; callers needing more
// can set explicit metadata downstream.
var mediaByExt = map[string]string{
	".csv":     "text/csv",
	".tsv":     "text/tab-separated-values",
	".json":    "application/json",
	".jsonl":   "application/x-ndjson",
	".ndjson":  "application/x-ndjson",
	".parquet": "application/parquet",
	".txt":     "text/plain",
	".md":      "text/markdown",
	".html":    "text/html",
	".yaml":    "application/x-yaml",
	".yml":     "application/x-yaml",
	".xlsx":    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".sqlite":  "application/x-sqlite3",
	".db":      "application/x-sqlite3",
}

// MediaType infers the media type of a file from its extension.
func MediaType(name string) string {
	if mt, ok := mediaByExt[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// Collector walks a root and hashes what it finds. The zero value
// collects everything.
type Collector struct {
	// Include holds glob patterns; a file is collected when it matches
	// any of them (against both its base name and its slash path).
	// Empty means collect everything.
	Include []string
	// Exclude holds glob patterns; a match on any drops the file and
	// wins over Include.
	Exclude []string
	// SourceID labels the manifest with the logical data source.
	SourceID string

	Logger Logger

	// seams for tests
	now   func() time.Time
	newID func() string
}

// Collect walks root and returns the manifest. A root that does not
// exist is an error; unreadable files under an existing root become
// warnings so one bad file never loses the rest of the inventory.
func (c *Collector) Collect(root string) (*Manifest, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	m := &Manifest{
		ManifestID: c.id(),
		SourceID:   c.SourceID,
		RootPath:   root,
		CreatedAt:  c.time().UTC(),
	}

	if !info.IsDir() {
		if c.selected(filepath.Base(root), filepath.Base(root)) {
			c.add(m, root, filepath.Base(root), info.Size())
		}
		return c.done(m), nil
	}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			m.Warnings = append(m.Warnings, fmt.Sprintf("walk %s: %v", p, walkErr))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			m.Warnings = append(m.Warnings, fmt.Sprintf("relativize %s: %v", p, err))
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !c.selected(d.Name(), rel) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			m.Warnings = append(m.Warnings, fmt.Sprintf("stat %s: %v", p, err))
			return nil
		}
		c.add(m, p, rel, fi.Size())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect: walk %s: %w", root, err)
	}
	return c.done(m), nil
}

// add hashes one file and appends its artifact, downgrading read
// failures to warnings.
func (c *Collector) add(m *Manifest, abs, rel string, size int64) {
	sum, err := hashFile(abs)
	if err != nil {
		m.Warnings = append(m.Warnings, fmt.Sprintf("hash %s: %v", abs, err))
		return
	}
	m.Artifacts = append(m.Artifacts, Artifact{
		Path:      rel,
		MediaType: MediaType(rel),
		SizeBytes: size,
		SHA256:    sum,
	})
}

func (c *Collector) done(m *Manifest) *Manifest {
	sort.Slice(m.Artifacts, func(i, j int) bool { return m.Artifacts[i].Path < m.Artifacts[j].Path })
	if c.Logger != nil {
		c.Logger.Printf("stage=collect manifest=%s root=%s artifacts=%d warnings=%d",
			m.ManifestID, m.RootPath, len(m.Artifacts), len(m.Warnings))
	}
	return m
}

// selected applies exclude-then-include glob rules.
func (c *Collector) selected(base, rel string) bool {
	if matchAny(c.Exclude, base, rel) {
		return false
	}
	if len(c.Include) == 0 {
		return true
	}
	return matchAny(c.Include, base, rel)
}

func matchAny(patterns []string, base, rel string) bool {
	for _, pat := range patterns {
		if ok, err := path.Match(pat, base); err == nil && ok {
			return true
		}
		if ok, err := path.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// hashFile streams the file through sha256 so large artifacts never load
// into memory whole.
func hashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Collector) time() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Collector) id() string {
	if c.newID != nil {
		return c.newID()
	}
	return uuid.NewString()
}
