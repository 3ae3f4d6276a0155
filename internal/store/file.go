package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/norns-io/norns/internal/ruleengine"
)

// Compile-time check to verify that FilePersistence implements Persistence.
var _ Persistence = (*FilePersistence)(nil)

// FilePersistence stores each specification as one JSON document under a
// directory, named {appId}-{version}.json. Suited to single-node deployments
// and local development; multi-node deployments use Postgres.
type FilePersistence struct {
	dir string
}

// NewFilePersistence creates the directory if needed and returns the backend.
func NewFilePersistence(dir string) (*FilePersistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create persistence dir: %w", err)
	}
	return &FilePersistence{dir: dir}, nil
}

// path builds the document path. Path separators and parent references in
// identifiers are flattened so a crafted appId cannot escape the directory.
func (f *FilePersistence) path(appID, version string) string {
	sanitize := func(s string) string {
		s = strings.ReplaceAll(s, "/", "_")
		s = strings.ReplaceAll(s, "\\", "_")
		s = strings.ReplaceAll(s, "..", "_")
		return s
	}
	return filepath.Join(f.dir, sanitize(appID)+"-"+sanitize(version)+".json")
}

// LoadAll reads every .json document in the directory. Files that fail to
// decode are reported, not skipped: a corrupt store should be noticed at
// startup rather than silently dropped.
func (f *FilePersistence) LoadAll(ctx context.Context) ([]*ruleengine.Specification, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("store: read persistence dir: %w", err)
	}

	var specs []*ruleengine.Specification
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("store: read %s: %w", entry.Name(), err)
		}
		var spec ruleengine.Specification
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", entry.Name(), err)
		}
		specs = append(specs, &spec)
	}
	return specs, nil
}

// Save writes the document atomically: temp file in the same directory, then
// rename over the target.
func (f *FilePersistence) Save(ctx context.Context, spec *ruleengine.Specification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s@%s: %w", spec.AppID, spec.Version, err)
	}

	target := f.path(spec.AppID, spec.Version)
	tmp, err := os.CreateTemp(f.dir, ".spec-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("store: rename into %s: %w", target, err)
	}
	return nil
}

// Delete removes the document; a missing file is fine.
func (f *FilePersistence) Delete(ctx context.Context, appID, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(f.path(appID, version)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete %s@%s: %w", appID, version, err)
	}
	return nil
}
