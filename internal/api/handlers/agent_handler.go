package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/docintel/internal/core/agents"
)

type AgentHandler struct {
	dispatcher *agents.Dispatcher
	logger     *slog.Logger
}

func NewAgentHandler(d *agents.Dispatcher, logger *slog.Logger) *AgentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentHandler{dispatcher: d, logger: logger}
}

type agentRequest struct {
	Input map[string]any `json:"input"`
}

// Dispatch runs one agent directly on the request input.
func (h *AgentHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(w, r); !ok {
		return
	}
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}
	res, err := h.dispatcher.Dispatch(r.Context(), chi.URLParam(r, "name"), req.Input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Status reports the circuit breaker of every agent.
func (h *AgentHandler) Status(w http.ResponseWriter, r *http.Request) {
	out := make(map[agents.Name]agents.BreakerStatus, len(agents.Names))
	for _, n := range agents.Names {
		out[n] = h.dispatcher.Guard().Status(n)
	}
	writeJSON(w, http.StatusOK, out)
}
