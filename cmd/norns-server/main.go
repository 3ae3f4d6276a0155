// Package main initializes and runs the norns configuration service.
//
// It is the composition root: configuration, logging, persistence, the rule
// engine, both HTTP planes, the observability server, and the optional redis
// syncer are wired here and nowhere else.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/norns-io/norns/internal/config"
	"github.com/norns-io/norns/internal/controlapi"
	"github.com/norns-io/norns/internal/dataapi"
	"github.com/norns-io/norns/internal/geoip"
	"github.com/norns-io/norns/internal/logger"
	"github.com/norns-io/norns/internal/observability"
	"github.com/norns-io/norns/internal/ruleengine"
	"github.com/norns-io/norns/internal/store"
	"github.com/norns-io/norns/internal/syncer"
	"github.com/norns-io/norns/internal/uaparser"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logg := logger.New(&cfg.App)
	slog.SetDefault(logg)
	cfg.LogConfig(logg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, logg)

	// -------------------------------------------------------------------------
	// 2. Persistence
	// -------------------------------------------------------------------------
	var (
		persistence store.Persistence
		checkers    []observability.Checker
	)

	switch cfg.Storage.Backend {
	case "file":
		fp, err := store.NewFilePersistence(cfg.Storage.Dir)
		if err != nil {
			return fmt.Errorf("initializing file persistence: %w", err)
		}
		persistence = fp

	case "postgres":
		pool, err := store.NewPostgresPool(ctx, cfg.Storage.ConnectionString())
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()

		pg := store.NewPostgresPersistence(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensuring postgres schema: %w", err)
		}
		persistence = pg
		checkers = append(checkers, store.NewPostgresChecker(pool))

	default:
		persistence = store.NoopPersistence{}
	}

	// -------------------------------------------------------------------------
	// 3. Registry & Rule Engine
	// -------------------------------------------------------------------------
	registry := store.NewMemoryStore()

	seeded, err := store.Seed(ctx, registry, persistence)
	if err != nil {
		return fmt.Errorf("seeding the registry: %w", err)
	}
	observability.SpecificationsStored.Set(float64(seeded))
	logg.Info("registry seeded", slog.Int("specifications", seeded))

	loader, err := ruleengine.NewLoader(cfg.Engine.LoaderCacheCapacity, cfg.Engine.LoaderCacheTTL, logg)
	if err != nil {
		return fmt.Errorf("initializing the rule loader: %w", err)
	}
	defer loader.Close()
	loader.OnCacheResult(func(hit bool) {
		if hit {
			observability.LoaderCacheHits.Inc()
		} else {
			observability.LoaderCacheMisses.Inc()
		}
	})

	resolver := ruleengine.NewResolver(registry, loader, logg)

	// -------------------------------------------------------------------------
	// 4. Cross-node Syncer (optional)
	// -------------------------------------------------------------------------
	var publisher syncer.Publisher = syncer.NoopPublisher{}

	if cfg.Syncer.Enabled {
		client, err := syncer.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer client.Close()

		// The origin id lets this node skip its own events on the channel.
		origin := uuid.NewString()
		publisher = syncer.NewRedisPublisher(client, cfg.Syncer.Channel, origin)

		service := syncer.New(logg, cfg.Syncer, client, registry, loader, origin)
		go func() {
			if err := service.Run(ctx); err != nil {
				logg.Error("syncer stopped", slog.String("error", err.Error()))
			}
		}()

		checkers = append(checkers, syncer.NewRedisChecker(client))
	}

	// -------------------------------------------------------------------------
	// 5. HTTP Planes & Observability
	// -------------------------------------------------------------------------
	obsServer := observability.NewServer(logg, &cfg.Observability, checkers...)
	obsServer.Start()

	controlAPI := controlapi.NewAPI(logg, registry, persistence, publisher, loader, &cfg.Server.Control, cfg.Syncer)
	dataAPI := dataapi.NewAPI(logg, resolver, uaparser.Default(), geoip.NoopResolver{})

	controlServer := &http.Server{
		Addr:              cfg.Server.Control.Host + ":" + cfg.Server.Control.Port,
		Handler:           controlAPI.Router,
		ReadTimeout:       cfg.Server.Control.ReadTimeout,
		WriteTimeout:      cfg.Server.Control.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.Control.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.Control.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.Control.MaxHeaderBytes,
	}
	dataServer := &http.Server{
		Addr:              cfg.Server.Data.Host + ":" + cfg.Server.Data.Port,
		Handler:           dataAPI.Router,
		ReadTimeout:       cfg.Server.Data.ReadTimeout,
		WriteTimeout:      cfg.Server.Data.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.Data.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.Data.IdleTimeout,
	}

	errChan := make(chan error, 2)

	go func() {
		logg.Info("control plane listening", slog.String("addr", controlServer.Addr))
		var err error
		if cfg.Server.Control.TLSEnabled {
			err = controlServer.ListenAndServeTLS(cfg.Server.Control.TLSCert, cfg.Server.Control.TLSKey)
		} else {
			err = controlServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("control plane server: %w", err)
		}
	}()

	go func() {
		logg.Info("data plane listening", slog.String("addr", dataServer.Addr))
		if err := dataServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("data plane server: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 6. Graceful Shutdown
	// -------------------------------------------------------------------------
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logg.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := dataServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("data plane shutdown: %w", err))
	}
	if err := controlServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("control plane shutdown: %w", err))
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("observability shutdown: %w", err))
	}

	logg.Info("service exited")
	return shutdownErr
}
