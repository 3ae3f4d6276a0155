package dataapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/norns-io/norns/internal/configdoc"
	"github.com/norns-io/norns/internal/logger"
	"github.com/norns-io/norns/internal/observability"
	"github.com/norns-io/norns/internal/ruleengine"
)

// ResolveResponse is the wire contract of GET /config/{appId}/{version}.
type ResolveResponse struct {
	AppID        string                      `json:"appId"`
	Version      string                      `json:"version"`
	Config       configdoc.Document          `json:"config"`
	MatchedRules []ruleengine.MatchedRule    `json:"matchedRules"`
	Validation   ruleengine.ValidationResult `json:"validation"`
	Context      ContextEcho                 `json:"context"`
}

// ContextEcho reflects the derived request attributes back to the client so
// integrators can see what the rules were evaluated against.
type ContextEcho struct {
	OS         string `json:"os"`
	Device     string `json:"device"`
	GeoCountry string `json:"geoCountry"`
	GeoRegion  string `json:"geoRegion"`
}

// ErrorResponse is the data-plane error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleResolve processes GET /config/{appId}/{version}.
func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context())

	appID := chi.URLParam(r, "appId")
	version := chi.URLParam(r, "version")

	rc := a.buildRequestContext(r, version)

	resolution, err := a.resolver.Resolve(appID, version, rc)
	if err != nil {
		if errors.Is(err, ruleengine.ErrSpecNotFound) {
			a.observe(http.StatusNotFound, start)
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "No specification for this appId and version",
			})
			return
		}

		log.Error("resolution failed",
			slog.String("app_id", appID),
			slog.String("version", version),
			slog.String("error", err.Error()),
		)
		a.observe(http.StatusInternalServerError, start)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to resolve the configuration",
		})
		return
	}

	matched := resolution.Matched
	if matched == nil {
		matched = []ruleengine.MatchedRule{}
	}

	a.observe(http.StatusOK, start)
	observability.DataPlaneRulesMatched.Observe(float64(len(matched)))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ResolveResponse{
		AppID:        resolution.AppID,
		Version:      resolution.Version,
		Config:       resolution.Config,
		MatchedRules: matched,
		Validation:   resolution.Validation,
		Context: ContextEcho{
			OS:         rc.EffectiveOS(),
			Device:     rc.EffectiveDevice(),
			GeoCountry: rc.EffectiveCountry(),
			GeoRegion:  rc.EffectiveRegion(),
		},
	})
}

// buildRequestContext assembles the evaluation context from the request.
// Malformed JSON query parameters are treated as absent, never as errors.
func (a *API) buildRequestContext(r *http.Request, version string) *ruleengine.RequestContext {
	query := r.URL.Query()

	userAgent := r.UserAgent()
	parsed := a.ua.Parse(userAgent)
	location := a.geo.Resolve(clientIP(r))

	rc := &ruleengine.RequestContext{
		UserAgent:   userAgent,
		ParsedUA:    parsed,
		AppVersion:  version,
		GeoCountry:  location.Country,
		GeoRegion:   location.Region,
		Timestamp:   time.Now(),
		Environment: query.Get("env"),
		UserID:      query.Get("userId"),
	}

	if country, region := query.Get("country"), query.Get("region"); country != "" || region != "" {
		rc.ClientGeo = &ruleengine.ClientGeo{Country: country, Region: region}
	}

	if raw := query.Get("flags"); raw != "" {
		var flags map[string]bool
		if err := json.Unmarshal([]byte(raw), &flags); err == nil {
			rc.FeatureFlags = flags
		}
	}

	if raw := query.Get("context"); raw != "" {
		var custom map[string]any
		if err := json.Unmarshal([]byte(raw), &custom); err == nil {
			rc.Custom = custom
		}
	}

	return rc
}

func (a *API) observe(status int, start time.Time) {
	code := strconv.Itoa(status)
	observability.DataPlaneResolveDuration.WithLabelValues(code).Observe(time.Since(start).Seconds())
	observability.DataPlaneResolveTotal.WithLabelValues(code).Inc()
}

// clientIP strips the port from the remote address. The RealIP middleware
// has already substituted proxy headers when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
