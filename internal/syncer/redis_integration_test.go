//go:build integration

package syncer_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norns-io/norns/internal/config"
	"github.com/norns-io/norns/internal/configdoc"
	"github.com/norns-io/norns/internal/ruleengine"
	"github.com/norns-io/norns/internal/store"
	"github.com/norns-io/norns/internal/syncer"
	"github.com/norns-io/norns/internal/testsupport"
)

// TestSyncer_Integration verifies that a saved event published by one node
// reaches a subscribing peer and lands in its registry.
func TestSyncer_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	loader, err := ruleengine.NewLoader(128, time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(loader.Close)

	registry := store.NewMemoryStore()
	cfg := config.SyncerConfig{Channel: "norns:spec-events"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := syncer.New(logger, cfg, container.Client, registry, loader, "node-subscriber")

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- svc.Run(runCtx) }()

	// Give the subscription a moment to establish before publishing.
	time.Sleep(500 * time.Millisecond)

	publisher := syncer.NewRedisPublisher(container.Client, cfg.Channel, "node-publisher")

	spec := &ruleengine.Specification{
		ID:            "spec-1",
		AppID:         "my-app",
		Version:       "2.0.0",
		DefaultConfig: configdoc.Document{"theme": "light"},
		Environment:   ruleengine.EnvDevelopment,
		UpdatedAt:     time.Now().UTC(),
	}

	require.NoError(t, publisher.Publish(ctx, syncer.Event{
		Op:      syncer.OpSaved,
		AppID:   spec.AppID,
		Version: spec.Version,
		Spec:    spec,
	}))

	require.Eventually(t, func() bool {
		_, ok := registry.Get("my-app", "2.0.0")
		return ok
	}, 10*time.Second, 50*time.Millisecond, "saved event should reach the peer registry")

	require.NoError(t, publisher.Publish(ctx, syncer.Event{
		Op:      syncer.OpDeleted,
		AppID:   spec.AppID,
		Version: spec.Version,
	}))

	require.Eventually(t, func() bool {
		_, ok := registry.Get("my-app", "2.0.0")
		return !ok
	}, 10*time.Second, 50*time.Millisecond, "deleted event should reach the peer registry")

	stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("syncer did not stop after context cancellation")
	}
}
