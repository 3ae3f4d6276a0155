// Package store provides the specification registry: an in-memory map that
// serves every read on the hot path, plus optional persistence backends that
// seed it at startup and record writes.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/norns-io/norns/internal/ruleengine"
)

// Compile-time check to verify that MemoryStore satisfies the resolver's
// view of the registry.
var _ ruleengine.SpecSource = (*MemoryStore)(nil)

// Key builds the registry key for one (appId, version) pair.
func Key(appID, version string) string {
	return appID + "@" + version
}

// Summary is the listing projection of a stored specification.
type Summary struct {
	ID          string    `json:"id"`
	AppID       string    `json:"appId"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
	RuleCount   int       `json:"ruleCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// MemoryStore holds every specification in memory behind a RWMutex. Reads
// vastly outnumber writes, so a single lock is enough; resolution clones
// whatever it mutates, which lets Get hand out the stored pointer directly.
// Callers must treat returned specifications as read-only.
type MemoryStore struct {
	mu    sync.RWMutex
	specs map[string]*ruleengine.Specification
}

// NewMemoryStore creates an empty registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{specs: make(map[string]*ruleengine.Specification)}
}

// Get returns the specification for one (appId, version) pair.
func (s *MemoryStore) Get(appID, version string) (*ruleengine.Specification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[Key(appID, version)]
	return spec, ok
}

// List returns summaries of every stored specification, ordered by appId
// then version for stable output.
func (s *MemoryStore) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.specs))
	for _, spec := range s.specs {
		out = append(out, Summary{
			ID:          spec.ID,
			AppID:       spec.AppID,
			Version:     spec.Version,
			Environment: spec.Environment,
			RuleCount:   len(spec.Rules),
			UpdatedAt:   spec.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppID != out[j].AppID {
			return out[i].AppID < out[j].AppID
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Save stores a specification under its (appId, version) pair, replacing any
// previous one. Timestamps are stamped here so every replacement is
// observable (the loader keys its cache on UpdatedAt).
func (s *MemoryStore) Save(spec *ruleengine.Specification) error {
	if spec.AppID == "" || spec.Version == "" {
		return fmt.Errorf("store: specification needs both appId and version")
	}

	now := time.Now().UTC()
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = now
	}
	spec.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[Key(spec.AppID, spec.Version)] = spec
	return nil
}

// Restore stores a specification without touching its timestamps. Used when
// seeding from persistence, where the stored document already carries them.
func (s *MemoryStore) Restore(spec *ruleengine.Specification) error {
	if spec.AppID == "" || spec.Version == "" {
		return fmt.Errorf("store: specification needs both appId and version")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[Key(spec.AppID, spec.Version)] = spec
	return nil
}

// Delete removes the specification for one (appId, version) pair and reports
// whether it existed.
func (s *MemoryStore) Delete(appID, version string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(appID, version)
	_, ok := s.specs[key]
	delete(s.specs, key)
	return ok
}

// Len returns the number of stored specifications.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.specs)
}
