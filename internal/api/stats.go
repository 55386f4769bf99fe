package api

import (
	"context"
	"net/http"
	"time"

	"tourrag/pkg/store"
	"tourrag/pkg/tagschema"
	"tourrag/pkg/tracker"
	"tourrag/pkg/version"
)

// StatsHandler serves corpus and provider statistics plus the health check.
type StatsHandler struct {
	tracker  *tracker.Tracker
	store    store.Store
	registry *tagschema.Registry
	started  time.Time
}

// NewStatsHandler creates the handler.
func NewStatsHandler(t *tracker.Tracker, st store.Store, reg *tagschema.Registry) *StatsHandler {
	return &StatsHandler{tracker: t, store: st, registry: reg, started: time.Now()}
}

// ProviderStatsDTO is the per-provider block of the stats response.
type ProviderStatsDTO struct {
	APISuccess    int64 `json:"api_success"`
	APIZeroResult int64 `json:"api_zero"`
	APIFailures   int64 `json:"api_errors"`
}

// StatsResponse is the GET /api/stats payload.
type StatsResponse struct {
	Version       string                      `json:"version"`
	UptimeSec     int64                       `json:"uptime_sec"`
	Viewpoints    int                         `json:"viewpoints"`
	TagSchema     tagschema.Info              `json:"tag_schema"`
	Providers     map[string]ProviderStatsDTO `json:"providers"`
	QueriesLogged int                         `json:"queries_logged"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	count, err := h.store.CountViewpoints(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}

	resp := StatsResponse{
		Version:    version.Version,
		UptimeSec:  int64(time.Since(h.started).Seconds()),
		Viewpoints: count,
		TagSchema:  h.registry.Info(),
		Providers:  make(map[string]ProviderStatsDTO),
	}
	for provider, stats := range h.tracker.Snapshot() {
		resp.Providers[provider] = ProviderStatsDTO{
			APISuccess:    stats.APISuccess,
			APIZeroResult: stats.APIZeroResult,
			APIFailures:   stats.APIFailures,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleHealth answers GET /health: a database ping plus schema identity.
func (h *StatsHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded: " + err.Error()
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":             status,
		"version":            version.Version,
		"tag_schema_version": h.registry.Version(),
	})
}
