package store

import (
	"context"

	"github.com/norns-io/norns/internal/ruleengine"
)

// Compile-time check to verify that NoopPersistence implements Persistence.
var _ Persistence = (*NoopPersistence)(nil)

// Persistence records specification writes durably and seeds the in-memory
// registry at startup. Implementations must tolerate concurrent calls; the
// registry itself stays the single source of truth while the process runs.
type Persistence interface {
	// LoadAll returns every persisted specification.
	LoadAll(ctx context.Context) ([]*ruleengine.Specification, error)

	// Save writes one specification, replacing any previous document for
	// the same (appId, version).
	Save(ctx context.Context, spec *ruleengine.Specification) error

	// Delete removes the document for one (appId, version). Deleting a
	// missing document is not an error.
	Delete(ctx context.Context, appID, version string) error
}

// NoopPersistence is the default backend: nothing survives a restart.
type NoopPersistence struct{}

func (NoopPersistence) LoadAll(context.Context) ([]*ruleengine.Specification, error) {
	return nil, nil
}

func (NoopPersistence) Save(context.Context, *ruleengine.Specification) error {
	return nil
}

func (NoopPersistence) Delete(context.Context, string, string) error {
	return nil
}

// Seed loads every persisted specification into the registry. Called once at
// startup before the servers accept traffic.
func Seed(ctx context.Context, registry *MemoryStore, backend Persistence) (int, error) {
	specs, err := backend.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, spec := range specs {
		if err := registry.Restore(spec); err != nil {
			return 0, err
		}
	}
	return len(specs), nil
}
