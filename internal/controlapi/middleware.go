package controlapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/norns-io/norns/internal/logger"
	"github.com/norns-io/norns/internal/observability"
)

// requestLogger attaches a request-scoped logger (carrying the request id)
// to the context and logs each completed request. Info for success, Warn for
// 4xx, Error for 5xx.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := middleware.GetReqID(r.Context())
		log := a.logger.With(slog.String("request_id", reqID))
		ctx := logger.WithContext(r.Context(), log)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		level := slog.LevelInfo
		status := ww.Status()
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		log.Log(ctx, level, "HTTP request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("duration", time.Since(start).String()),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

// metricsRecorder observes latency and outcome per route pattern. Raw paths
// never reach the labels: a request that matched no route collapses into
// "not_found" so path scanning cannot explode metric cardinality.
func metricsRecorder(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "not_found"
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		observability.ControlPlaneReqDuration.
			WithLabelValues(r.Method, route).
			Observe(time.Since(start).Seconds())
		observability.ControlPlaneReqTotal.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Inc()
	})
}

// limitBody rejects oversized payloads with 413 before any decoding work.
// Requests without a Content-Length header still get a MaxBytesReader cap.
func limitBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				render.Status(r, http.StatusRequestEntityTooLarge)
				render.JSON(w, r, ErrorResponse{
					Code:    "ERR_BODY_TOO_LARGE",
					Message: "Request body exceeds the configured limit",
				})
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
