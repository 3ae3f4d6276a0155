// Package controlapi implements the REST API of the administrative plane:
// specification CRUD plus the rule composition and diagnostics endpoints.
package controlapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/norns-io/norns/internal/config"
	"github.com/norns-io/norns/internal/ruleengine"
	"github.com/norns-io/norns/internal/store"
	"github.com/norns-io/norns/internal/syncer"
)

// API holds the control-plane dependencies and router. Dependencies are
// injected so tests can swap the publisher and persistence backend.
type API struct {
	// Router is the chi multiplexer handling control-plane requests.
	Router *chi.Mux

	logger       *slog.Logger
	registry     *store.MemoryStore
	persistence  store.Persistence
	publisher    syncer.Publisher
	loader       *ruleengine.Loader
	maxBodyBytes int64
	syncCfg      config.SyncerConfig
}

// NewAPI creates the control-plane API. A nil publisher falls back to the
// noop publisher; registry, persistence and loader are mandatory. The loader
// is shared with the resolver so diagnostics evaluate load conditions with
// the same code path the data plane uses.
func NewAPI(logger *slog.Logger, registry *store.MemoryStore, persistence store.Persistence, publisher syncer.Publisher, loader *ruleengine.Loader, cfg *config.ControlPlaneConfig, syncCfg config.SyncerConfig) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		panic("controlapi: registry cannot be nil")
	}
	if persistence == nil {
		panic("controlapi: persistence cannot be nil")
	}
	if loader == nil {
		panic("controlapi: loader cannot be nil")
	}
	if publisher == nil {
		publisher = syncer.NoopPublisher{}
	}

	api := &API{
		Router:       chi.NewRouter(),
		logger:       logger,
		registry:     registry,
		persistence:  persistence,
		publisher:    publisher,
		loader:       loader,
		maxBodyBytes: cfg.MaxBodyBytes,
		syncCfg:      syncCfg,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(a.requestLogger)
	a.Router.Use(metricsRecorder)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(limitBody(a.maxBodyBytes))

		r.Route("/config", func(r chi.Router) {
			r.Get("/", a.handleListSpecs)
			r.Post("/", a.handleCreateSpec)

			r.Route("/{appId}/{version}", func(r chi.Router) {
				r.Get("/", a.handleGetSpec)
				r.Put("/", a.handleReplaceSpec)
				r.Delete("/", a.handleDeleteSpec)
			})
		})

		r.Route("/rules", func(r chi.Router) {
			r.Post("/compose", a.handleComposeRules)
			r.Post("/from-template", a.handleRuleFromTemplate)
			r.Post("/test-conditions", a.handleTestConditions)
		})
	})
}

func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
