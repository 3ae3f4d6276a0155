// Package dataapi implements the client-facing resolution endpoint. It is
// deliberately small: one read-only route, request-context assembly from
// query parameters and headers, and the wire contract of the response.
package dataapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/norns-io/norns/internal/geoip"
	"github.com/norns-io/norns/internal/logger"
	"github.com/norns-io/norns/internal/ruleengine"
	"github.com/norns-io/norns/internal/uaparser"
)

// API holds the data-plane dependencies and router.
type API struct {
	// Router is the chi multiplexer handling data-plane requests.
	Router *chi.Mux

	logger   *slog.Logger
	resolver *ruleengine.Resolver
	ua       uaparser.Parser
	geo      geoip.Resolver
}

// NewAPI creates the data-plane API. The parser and geo resolver default to
// the regexp parser and the noop resolver when nil.
func NewAPI(log *slog.Logger, resolver *ruleengine.Resolver, ua uaparser.Parser, geo geoip.Resolver) *API {
	if log == nil {
		log = slog.Default()
	}
	if resolver == nil {
		panic("dataapi: resolver cannot be nil")
	}
	if ua == nil {
		ua = uaparser.Default()
	}
	if geo == nil {
		geo = geoip.NoopResolver{}
	}

	api := &API{
		Router:   chi.NewRouter(),
		logger:   log,
		resolver: resolver,
		ua:       ua,
		geo:      geo,
	}

	api.configureRoutes()
	return api
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(a.requestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)
	a.Router.Get("/config/{appId}/{version}", a.handleResolve)
}

func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// requestLogger attaches a request-scoped logger to the context and logs
// each completed request. The resolve path runs hot, so the completion log
// stays at Debug for successes.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := middleware.GetReqID(r.Context())
		log := a.logger.With(slog.String("request_id", reqID))
		ctx := logger.WithContext(r.Context(), log)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		level := slog.LevelDebug
		status := ww.Status()
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		log.Log(ctx, level, "resolve request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("duration", time.Since(start).String()),
		)
	})
}
