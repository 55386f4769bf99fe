package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"tourrag/pkg/mediator"
)

// QueryHandler serves the retrieval endpoints.
type QueryHandler struct {
	mediator *mediator.Mediator
}

// NewQueryHandler creates the handler.
func NewQueryHandler(m *mediator.Mediator) *QueryHandler {
	return &QueryHandler{mediator: m}
}

// HandleQuery answers POST /api/v1/query.
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.mediator.Query(r.Context(), req)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleExtractIntent answers POST /api/v1/extract-query-intent.
func (h *QueryHandler) HandleExtractIntent(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	queryIntent, err := h.mediator.ExtractIntent(r.Context(), req)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryIntent)
}

// HandleAgentQuery answers POST /api/v1/agent/query. It fails with 503 when
// the configured provider cannot drive tool calls.
func (h *QueryHandler) HandleAgentQuery(w http.ResponseWriter, r *http.Request) {
	if !h.mediator.HasAgent() {
		writeError(w, http.StatusServiceUnavailable, "agent requires a tool-calling provider")
		return
	}

	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.mediator.AgentQuery(r.Context(), req)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// wireRequest accepts both the short field names and the user_-prefixed ones
// older clients send.
type wireRequest struct {
	Text       string   `json:"text"`
	UserText   string   `json:"user_text"`
	UserQuery  string   `json:"user_query"`
	Images     []string `json:"images"`
	UserImages []string `json:"user_images"`
	TopK       int      `json:"top_k"`
	Language   string   `json:"language"`
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (mediator.Request, bool) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		return decodeMultipartRequest(w, r)
	}

	var wire wireRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return mediator.Request{}, false
	}

	req := mediator.Request{
		Text:     wire.Text,
		Images:   wire.Images,
		TopK:     wire.TopK,
		Language: wire.Language,
	}
	if req.Text == "" {
		req.Text = wire.UserText
	}
	if req.Text == "" {
		req.Text = wire.UserQuery
	}
	if len(req.Images) == 0 {
		req.Images = wire.UserImages
	}
	return req, true
}

// decodeMultipartRequest reads a form upload: user_text, language and top_k
// fields plus any number of user_images file parts, which are forwarded as
// base64 payloads.
func decodeMultipartRequest(w http.ResponseWriter, r *http.Request) (mediator.Request, bool) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return mediator.Request{}, false
	}

	req := mediator.Request{
		Text:     r.FormValue("user_text"),
		Language: r.FormValue("language"),
	}
	if req.Text == "" {
		req.Text = r.FormValue("text")
	}
	if v := r.FormValue("top_k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid top_k")
			return mediator.Request{}, false
		}
		req.TopK = k
	}

	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["user_images"] {
			f, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable image upload")
				return mediator.Request{}, false
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable image upload")
				return mediator.Request{}, false
			}
			req.Images = append(req.Images, base64.StdEncoding.EncodeToString(data))
		}
	}
	return req, true
}

func writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, mediator.ErrEmptyText) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error("Query failed", "error", err)
	if errors.Is(err, mediator.ErrStoreUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "data store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "query failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
