package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"tourrag/pkg/enrich"
)

// ViewpointHandler serves viewpoint detail bundles.
type ViewpointHandler struct {
	enricher *enrich.Enricher
}

// NewViewpointHandler creates the handler.
func NewViewpointHandler(e *enrich.Enricher) *ViewpointHandler {
	return &ViewpointHandler{enricher: e}
}

// HandleDetail answers GET /api/v1/viewpoint/{id}.
func (h *ViewpointHandler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid viewpoint id")
		return
	}

	bundle, err := h.enricher.Bundle(r.Context(), id)
	if err != nil {
		slog.Error("Bundle lookup failed", "viewpoint_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if bundle == nil {
		writeError(w, http.StatusNotFound, "viewpoint not found")
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}
