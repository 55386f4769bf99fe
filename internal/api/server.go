package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tourrag/pkg/version"
)

// NewServer creates and configures the HTTP server.
func NewServer(addr string, query *QueryHandler, viewpoint *ViewpointHandler, stats *StatsHandler) *http.Server {
	mux := http.NewServeMux()

	// 1. Health and info
	mux.HandleFunc("GET /health", stats.HandleHealth)
	mux.HandleFunc("GET /", handleRoot)
	mux.HandleFunc("GET /api/version", handleVersion)

	// 2. Query endpoints
	mux.HandleFunc("POST /api/v1/query", query.HandleQuery)
	mux.HandleFunc("POST /api/v1/extract-query-intent", query.HandleExtractIntent)
	mux.HandleFunc("POST /api/v1/agent/query", query.HandleAgentQuery)

	// 3. Viewpoint detail
	mux.HandleFunc("GET /api/v1/viewpoint/{id}", viewpoint.HandleDetail)

	// 4. Stats
	mux.Handle("GET /api/stats", stats)

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // Model-backed queries can run long
		IdleTimeout:  60 * time.Second,
	}
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "tourrag",
		"version": version.Version,
		"endpoints": []string{
			"POST /api/v1/query",
			"POST /api/v1/extract-query-intent",
			"POST /api/v1/agent/query",
			"GET /api/v1/viewpoint/{id}",
			"GET /health",
			"GET /api/stats",
		},
	})
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
