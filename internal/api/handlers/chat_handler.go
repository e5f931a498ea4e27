package handlers

import (
	"log/slog"
	"net/http"

	"github.com/markdave123-py/docintel/internal/services"
)

type ChatHandler struct {
	search *services.SearchService
	logger *slog.Logger
}

func NewChatHandler(search *services.SearchService, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{search: search, logger: logger}
}

type ChatRequest struct {
	DocumentID string `json:"document_id"`
	Query      string `json:"query"`
}

type SearchRequest struct {
	Query      string `json:"query"`
	DocumentID string `json:"document_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

func (h *ChatHandler) QueryDocument(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	ans, err := h.search.Ask(r.Context(), uid, req.DocumentID, req.Query)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (h *ChatHandler) Search(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	hits, err := h.search.Search(r.Context(), uid, req.Query, req.DocumentID, req.Limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}
