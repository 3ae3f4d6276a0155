// Package syncer propagates specification changes between nodes over a Redis
// pub/sub channel. Every node publishes an event after a control-plane write
// and applies the events published by its peers, so each in-memory registry
// converges without sharing a database.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/norns-io/norns/internal/config"
	"github.com/norns-io/norns/internal/observability"
	"github.com/norns-io/norns/internal/ruleengine"
	"github.com/norns-io/norns/internal/store"
	"github.com/norns-io/norns/internal/validation"
)

// Event operations carried on the channel.
const (
	OpSaved   = "saved"
	OpDeleted = "deleted"
)

// Event describes one specification change. Saved events carry the full
// document so peers can apply them without a shared persistence backend.
type Event struct {
	Op      string                    `json:"op"`
	AppID   string                    `json:"appId"`
	Version string                    `json:"version"`
	Origin  string                    `json:"origin,omitempty"`
	Spec    *ruleengine.Specification `json:"spec,omitempty"`
}

// Publisher pushes specification change events to the other nodes.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Compile-time checks to verify the Publisher implementations.
var (
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = (*NoopPublisher)(nil)
)

// NoopPublisher is used when the syncer is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error {
	return nil
}

// RedisPublisher publishes events on the configured channel, stamping each
// one with this node's origin id so the local subscriber can skip it.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	origin  string
}

// NewRedisPublisher creates a publisher bound to one channel and origin.
func NewRedisPublisher(client *redis.Client, channel, origin string) *RedisPublisher {
	validation.AssertNotNil(client, "redis client")
	return &RedisPublisher{client: client, channel: channel, origin: origin}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	event.Origin = p.origin

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling spec event: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing spec event: %w", err)
	}
	return nil
}

// Service subscribes to the spec event channel and applies peer changes to
// the local registry.
type Service struct {
	logger   *slog.Logger
	cfg      config.SyncerConfig
	client   *redis.Client
	registry *store.MemoryStore
	loader   *ruleengine.Loader
	origin   string
}

// New creates the syncer service. The origin must match the one given to
// this node's publisher.
func New(logger *slog.Logger, cfg config.SyncerConfig, client *redis.Client, registry *store.MemoryStore, loader *ruleengine.Loader, origin string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertNotNil(client, "redis client")
	validation.AssertNotNil(registry, "registry")
	validation.AssertNotNil(loader, "loader")

	return &Service{
		logger:   logger,
		cfg:      cfg,
		client:   client,
		registry: registry,
		loader:   loader,
		origin:   origin,
	}
}

// Run subscribes to the event channel and blocks until the context is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.cfg.Channel)
	defer sub.Close()

	// Confirm the subscription before reporting the service as running, so
	// events published right after startup are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.cfg.Channel, err)
	}

	s.logger.Info("syncer service running",
		slog.String("channel", s.cfg.Channel),
		slog.String("origin", s.origin),
	)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping...")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle([]byte(msg.Payload))
		}
	}
}

// handle applies one raw event payload to the local registry. Malformed
// events are counted and dropped; the subscription keeps running.
func (s *Service) handle(payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn("dropping malformed spec event", slog.String("error", err.Error()))
		observability.SyncerEventsTotal.WithLabelValues("fail").Inc()
		return
	}

	// Our own events: the control plane already applied the change to the
	// local registry before publishing.
	if event.Origin != "" && event.Origin == s.origin {
		observability.SyncerEventsTotal.WithLabelValues("skipped").Inc()
		return
	}

	switch event.Op {
	case OpSaved:
		if event.Spec == nil {
			s.logger.Warn("dropping saved event without document",
				slog.String("app_id", event.AppID),
				slog.String("version", event.Version),
			)
			observability.SyncerEventsTotal.WithLabelValues("fail").Inc()
			return
		}
		if err := s.registry.Restore(event.Spec); err != nil {
			s.logger.Warn("failed to apply saved event",
				slog.String("app_id", event.AppID),
				slog.String("version", event.Version),
				slog.String("error", err.Error()),
			)
			observability.SyncerEventsTotal.WithLabelValues("fail").Inc()
			return
		}
		s.loader.Invalidate()
		observability.SyncerEventsTotal.WithLabelValues("applied").Inc()
		s.logger.Info("applied spec saved event",
			slog.String("app_id", event.Spec.AppID),
			slog.String("version", event.Spec.Version),
			slog.String("origin", event.Origin),
		)

	case OpDeleted:
		if !s.registry.Delete(event.AppID, event.Version) {
			observability.SyncerEventsTotal.WithLabelValues("skipped").Inc()
			return
		}
		s.loader.Invalidate()
		observability.SyncerEventsTotal.WithLabelValues("applied").Inc()
		s.logger.Info("applied spec deleted event",
			slog.String("app_id", event.AppID),
			slog.String("version", event.Version),
			slog.String("origin", event.Origin),
		)

	default:
		s.logger.Warn("dropping spec event with unknown op", slog.String("op", event.Op))
		observability.SyncerEventsTotal.WithLabelValues("fail").Inc()
	}

	observability.SpecificationsStored.Set(float64(s.registry.Len()))
}
