package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norns-io/norns/internal/configdoc"
	"github.com/norns-io/norns/internal/ruleengine"
)

func sampleSpec(appID, version string) *ruleengine.Specification {
	return &ruleengine.Specification{
		ID:            "spec-" + appID + "-" + version,
		AppID:         appID,
		Version:       version,
		DefaultConfig: configdoc.Document{"theme": "light"},
		Rules:         []ruleengine.Rule{{ID: "r1"}},
		Environment:   ruleengine.EnvDevelopment,
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	t.Run("Should save and get a specification", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryStore()
		require.NoError(t, s.Save(sampleSpec("my-app", "1.0.0")))

		got, ok := s.Get("my-app", "1.0.0")
		require.True(t, ok)
		assert.Equal(t, "my-app", got.AppID)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("Should miss on unknown appId or version", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryStore()
		require.NoError(t, s.Save(sampleSpec("my-app", "1.0.0")))

		_, ok := s.Get("my-app", "2.0.0")
		assert.False(t, ok)
		_, ok = s.Get("other-app", "1.0.0")
		assert.False(t, ok)
	})

	t.Run("Should stamp timestamps on save and bump UpdatedAt on replace", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryStore()
		first := sampleSpec("my-app", "1.0.0")
		require.NoError(t, s.Save(first))
		assert.False(t, first.CreatedAt.IsZero())
		assert.False(t, first.UpdatedAt.IsZero())

		replacement := sampleSpec("my-app", "1.0.0")
		replacement.CreatedAt = first.CreatedAt
		time.Sleep(time.Millisecond)
		require.NoError(t, s.Save(replacement))

		assert.Equal(t, first.CreatedAt, replacement.CreatedAt)
		assert.True(t, replacement.UpdatedAt.After(first.UpdatedAt))
	})

	t.Run("Should keep restored timestamps untouched", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryStore()
		spec := sampleSpec("my-app", "1.0.0")
		spec.CreatedAt = time.Unix(1_600_000_000, 0)
		spec.UpdatedAt = time.Unix(1_600_000_100, 0)
		require.NoError(t, s.Restore(spec))

		got, ok := s.Get("my-app", "1.0.0")
		require.True(t, ok)
		assert.Equal(t, time.Unix(1_600_000_100, 0), got.UpdatedAt)
	})

	t.Run("Should reject a specification without appId or version", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryStore()

		assert.Error(t, s.Save(&ruleengine.Specification{Version: "1.0.0"}))
		assert.Error(t, s.Save(&ruleengine.Specification{AppID: "my-app"}))
		assert.Error(t, s.Restore(&ruleengine.Specification{}))
	})

	t.Run("Should list summaries ordered by appId then version", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryStore()
		require.NoError(t, s.Save(sampleSpec("zeta", "1.0.0")))
		require.NoError(t, s.Save(sampleSpec("alpha", "2.0.0")))
		require.NoError(t, s.Save(sampleSpec("alpha", "1.0.0")))

		list := s.List()
		require.Len(t, list, 3)
		assert.Equal(t, "alpha", list[0].AppID)
		assert.Equal(t, "1.0.0", list[0].Version)
		assert.Equal(t, "alpha", list[1].AppID)
		assert.Equal(t, "2.0.0", list[1].Version)
		assert.Equal(t, "zeta", list[2].AppID)
		assert.Equal(t, 1, list[0].RuleCount)
	})

	t.Run("Should delete and report existence", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryStore()
		require.NoError(t, s.Save(sampleSpec("my-app", "1.0.0")))

		assert.True(t, s.Delete("my-app", "1.0.0"))
		assert.False(t, s.Delete("my-app", "1.0.0"))
		assert.Equal(t, 0, s.Len())
	})
}
