package syncer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norns-io/norns/internal/config"
	"github.com/norns-io/norns/internal/configdoc"
	"github.com/norns-io/norns/internal/ruleengine"
	"github.com/norns-io/norns/internal/store"
	"github.com/norns-io/norns/internal/testsupport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService builds a service around a client that never dials; handle
// does not touch Redis.
func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()

	loader, err := ruleengine.NewLoader(128, time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(loader.Close)

	registry := store.NewMemoryStore()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	svc := New(testLogger(), config.SyncerConfig{Channel: "norns:spec-events"}, client, registry, loader, "node-self")
	return svc, registry
}

func eventSpec(appID, version string) *ruleengine.Specification {
	return &ruleengine.Specification{
		ID:            "spec-" + appID,
		AppID:         appID,
		Version:       version,
		DefaultConfig: configdoc.Document{"theme": "light"},
		Environment:   ruleengine.EnvDevelopment,
		UpdatedAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func marshalEvent(t *testing.T, e Event) []byte {
	t.Helper()
	payload, err := json.Marshal(e)
	require.NoError(t, err)
	return payload
}

func eventsCount(t *testing.T, status string) float64 {
	t.Helper()
	return testsupport.MetricValue(t, "norns_syncer_events_total", map[string]string{"status": status})
}

func TestService_Handle(t *testing.T) {
	t.Run("Should apply a saved event from a peer", func(t *testing.T) {
		// Arrange
		svc, registry := newTestService(t)
		spec := eventSpec("my-app", "2.0.0")
		before := eventsCount(t, "applied")

		// Act
		svc.handle(marshalEvent(t, Event{
			Op:      OpSaved,
			AppID:   spec.AppID,
			Version: spec.Version,
			Origin:  "node-peer",
			Spec:    spec,
		}))

		// Assert
		got, ok := registry.Get("my-app", "2.0.0")
		require.True(t, ok)
		assert.Equal(t, "spec-my-app", got.ID)
		assert.Equal(t, spec.UpdatedAt, got.UpdatedAt, "timestamps travel with the event")
		assert.Equal(t, before+1, eventsCount(t, "applied"))
	})

	t.Run("Should replace an existing specification on saved", func(t *testing.T) {
		// Arrange
		svc, registry := newTestService(t)
		require.NoError(t, registry.Save(eventSpec("my-app", "2.0.0")))

		updated := eventSpec("my-app", "2.0.0")
		updated.DefaultConfig = configdoc.Document{"theme": "dark"}

		// Act
		svc.handle(marshalEvent(t, Event{Op: OpSaved, AppID: "my-app", Version: "2.0.0", Origin: "node-peer", Spec: updated}))

		// Assert
		got, ok := registry.Get("my-app", "2.0.0")
		require.True(t, ok)
		assert.Equal(t, "dark", got.DefaultConfig["theme"])
	})

	t.Run("Should skip events from this node's own origin", func(t *testing.T) {
		// Arrange
		svc, registry := newTestService(t)
		before := eventsCount(t, "skipped")

		// Act
		svc.handle(marshalEvent(t, Event{
			Op:      OpSaved,
			AppID:   "my-app",
			Version: "2.0.0",
			Origin:  "node-self",
			Spec:    eventSpec("my-app", "2.0.0"),
		}))

		// Assert
		_, ok := registry.Get("my-app", "2.0.0")
		assert.False(t, ok, "the control plane already applied its own writes")
		assert.Equal(t, before+1, eventsCount(t, "skipped"))
	})

	t.Run("Should apply a deleted event", func(t *testing.T) {
		// Arrange
		svc, registry := newTestService(t)
		require.NoError(t, registry.Save(eventSpec("my-app", "2.0.0")))
		before := eventsCount(t, "applied")

		// Act
		svc.handle(marshalEvent(t, Event{Op: OpDeleted, AppID: "my-app", Version: "2.0.0", Origin: "node-peer"}))

		// Assert
		_, ok := registry.Get("my-app", "2.0.0")
		assert.False(t, ok)
		assert.Equal(t, before+1, eventsCount(t, "applied"))
	})

	t.Run("Should skip deleting a specification it never had", func(t *testing.T) {
		// Arrange
		svc, _ := newTestService(t)
		before := eventsCount(t, "skipped")

		// Act
		svc.handle(marshalEvent(t, Event{Op: OpDeleted, AppID: "ghost", Version: "1.0.0", Origin: "node-peer"}))

		// Assert
		assert.Equal(t, before+1, eventsCount(t, "skipped"))
	})

	t.Run("Should drop a malformed payload", func(t *testing.T) {
		// Arrange
		svc, _ := newTestService(t)
		before := eventsCount(t, "fail")

		// Act
		svc.handle([]byte("{not json"))

		// Assert
		assert.Equal(t, before+1, eventsCount(t, "fail"))
	})

	t.Run("Should drop a saved event without a document", func(t *testing.T) {
		// Arrange
		svc, registry := newTestService(t)
		before := eventsCount(t, "fail")

		// Act
		svc.handle(marshalEvent(t, Event{Op: OpSaved, AppID: "my-app", Version: "2.0.0", Origin: "node-peer"}))

		// Assert
		_, ok := registry.Get("my-app", "2.0.0")
		assert.False(t, ok)
		assert.Equal(t, before+1, eventsCount(t, "fail"))
	})

	t.Run("Should drop an event with an unknown op", func(t *testing.T) {
		// Arrange
		svc, _ := newTestService(t)
		before := eventsCount(t, "fail")

		// Act
		svc.handle(marshalEvent(t, Event{Op: "truncated", AppID: "my-app", Version: "2.0.0", Origin: "node-peer"}))

		// Assert
		assert.Equal(t, before+1, eventsCount(t, "fail"))
	})
}

func TestNoopPublisher(t *testing.T) {
	t.Parallel()

	t.Run("Should accept every event", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, NoopPublisher{}.Publish(context.Background(), Event{Op: OpSaved}))
	})
}
