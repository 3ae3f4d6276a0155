package controlapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/norns-io/norns/internal/logger"
	"github.com/norns-io/norns/internal/observability"
	"github.com/norns-io/norns/internal/ruleengine"
	"github.com/norns-io/norns/internal/syncer"
)

// handleListSpecs processes GET /api/v1/config.
func (a *API) handleListSpecs(w http.ResponseWriter, r *http.Request) {
	summaries := a.registry.List()

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ListSpecsResponse{
		Data:  summaries,
		Count: len(summaries),
	})
}

// handleCreateSpec processes POST /api/v1/config.
//
// The payload is decoded, sanitized, and validated; the default
// configuration must satisfy the declared schema. On success the server
// assigns the id and timestamps, persists the document, and notifies the
// peer nodes asynchronously.
func (a *API) handleCreateSpec(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	req, ok := a.decodeSaveRequest(w, r, "", "")
	if !ok {
		return
	}

	if _, exists := a.registry.Get(req.AppID, req.Version); exists {
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_CONFLICT",
			Message: "A specification for this appId and version already exists",
		})
		return
	}

	spec := req.ToSpecification()
	spec.ID = uuid.NewString()

	if !a.saveSpec(w, r, spec) {
		return
	}

	log.Info("specification created",
		slog.String("app_id", spec.AppID),
		slog.String("version", spec.Version),
		slog.String("spec_id", spec.ID),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, spec)
}

// handleGetSpec processes GET /api/v1/config/{appId}/{version}.
func (a *API) handleGetSpec(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appId")
	version := chi.URLParam(r, "version")

	spec, ok := a.registry.Get(appID, version)
	if !ok {
		a.renderNotFound(w, r)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, spec)
}

// handleReplaceSpec processes PUT /api/v1/config/{appId}/{version}.
//
// Replacement is full: the stored document becomes the request payload with
// the identity fields (appId, version, id, createdAt) preserved from the
// existing specification. 404 when nothing exists to replace.
func (a *API) handleReplaceSpec(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	appID := chi.URLParam(r, "appId")
	version := chi.URLParam(r, "version")

	existing, ok := a.registry.Get(appID, version)
	if !ok {
		a.renderNotFound(w, r)
		return
	}

	req, decoded := a.decodeSaveRequest(w, r, existing.AppID, existing.Version)
	if !decoded {
		return
	}

	spec := req.ToSpecification()
	spec.AppID = existing.AppID
	spec.Version = existing.Version
	spec.ID = existing.ID
	spec.CreatedAt = existing.CreatedAt

	if !a.saveSpec(w, r, spec) {
		return
	}

	log.Info("specification replaced",
		slog.String("app_id", spec.AppID),
		slog.String("version", spec.Version),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, spec)
}

// handleDeleteSpec processes DELETE /api/v1/config/{appId}/{version}.
func (a *API) handleDeleteSpec(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	appID := chi.URLParam(r, "appId")
	version := chi.URLParam(r, "version")

	if !a.registry.Delete(appID, version) {
		a.renderNotFound(w, r)
		return
	}
	observability.SpecificationsStored.Set(float64(a.registry.Len()))

	if err := a.persistence.Delete(r.Context(), appID, version); err != nil {
		// The registry is the live source of truth; a persistence miss is
		// logged and surfaced, the in-memory delete stands.
		log.Error("failed to delete specification from persistence",
			slog.String("app_id", appID),
			slog.String("version", version),
			slog.String("error", err.Error()),
		)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to delete the specification from the persistence backend",
		})
		return
	}

	a.notifyPeersAsync(log, syncer.Event{
		Op:      syncer.OpDeleted,
		AppID:   appID,
		Version: version,
	})

	log.Info("specification deleted",
		slog.String("app_id", appID),
		slog.String("version", version),
	)
	w.WriteHeader(http.StatusNoContent)
}

// --- Private Helpers ---

// decodeSaveRequest decodes, sanitizes, and validates a save payload,
// including the schema check on defaultConfig. It writes the error response
// itself and reports success through the bool. The defaults fill in appId
// and version when the body omits them (PUT takes them from the path).
func (a *API) decodeSaveRequest(w http.ResponseWriter, r *http.Request, defaultAppID, defaultVersion string) (*SaveSpecRequest, bool) {
	log := logger.FromContext(r.Context())

	var req SaveSpecRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return nil, false
	}

	req.Sanitize()
	if req.AppID == "" {
		req.AppID = defaultAppID
	}
	if req.Version == "" {
		req.Version = defaultVersion
	}

	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return nil, false
	}

	if result := ruleengine.ValidateDocument(req.DefaultConfig, req.Schema); !result.Valid {
		details := make([]ErrorDetail, len(result.Errors))
		for i, issue := range result.Errors {
			details[i] = ErrorDetail{Field: "defaultConfig", Issue: issue}
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_SCHEMA_VALIDATION",
			Message: "Default configuration does not satisfy the schema",
			Details: details,
		})
		return nil, false
	}

	return &req, true
}

// saveSpec stores the specification in the registry and the persistence
// backend, then notifies the peer nodes. A persistence failure rolls the
// registry back so both views stay consistent.
func (a *API) saveSpec(w http.ResponseWriter, r *http.Request, spec *ruleengine.Specification) bool {
	log := logger.FromContext(r.Context())

	if err := a.registry.Save(spec); err != nil {
		log.Error("failed to store specification", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to store the specification",
		})
		return false
	}
	observability.SpecificationsStored.Set(float64(a.registry.Len()))

	if err := a.persistence.Save(r.Context(), spec); err != nil {
		a.registry.Delete(spec.AppID, spec.Version)
		observability.SpecificationsStored.Set(float64(a.registry.Len()))

		log.Error("failed to persist specification",
			slog.String("app_id", spec.AppID),
			slog.String("version", spec.Version),
			slog.String("error", err.Error()),
		)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to persist the specification",
		})
		return false
	}

	a.notifyPeersAsync(log, syncer.Event{
		Op:      syncer.OpSaved,
		AppID:   spec.AppID,
		Version: spec.Version,
		Spec:    spec,
	})
	return true
}

func (a *API) renderNotFound(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_NOT_FOUND",
		Message: "No specification for this appId and version",
	})
}

// notifyPeersAsync publishes a spec event on a context disconnected from the
// HTTP request, retrying with exponential backoff. Exhausted retries are
// counted and logged; the write itself has already succeeded.
func (a *API) notifyPeersAsync(log *slog.Logger, event syncer.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		maxRetries := a.syncCfg.MaxRetries
		baseDelay := a.syncCfg.BaseRetryDelay

		for i := 0; i <= maxRetries; i++ {
			err := a.publisher.Publish(ctx, event)
			if err == nil {
				return
			}

			if i == maxRetries {
				observability.SyncerPublishFailures.Inc()
				log.Error("failed to publish spec event after retries",
					slog.String("op", event.Op),
					slog.String("app_id", event.AppID),
					slog.String("version", event.Version),
					slog.String("error", err.Error()),
				)
				return
			}

			log.Warn("failed to publish spec event, retrying...",
				slog.String("op", event.Op),
				slog.Int("attempt", i+1),
				slog.String("error", err.Error()),
			)

			time.Sleep(baseDelay * time.Duration(1<<i))
		}
	}()
}
