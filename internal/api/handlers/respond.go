package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/markdave123-py/docintel/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps the service error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var circuit *core.CircuitOpenError
	switch {
	case errors.Is(err, core.ErrValidation):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, core.ErrInProgress):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		writeMessage(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &circuit):
		w.Header().Set("Retry-After", strconv.Itoa(int(circuit.RetryAfter.Round(time.Second).Seconds())))
		writeMessage(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, core.ErrTransient):
		writeMessage(w, http.StatusServiceUnavailable, "upstream service unavailable, try again later")
	case errors.Is(err, core.ErrFatal):
		logger.Error("upstream call failed", slog.Any("error", err))
		writeMessage(w, http.StatusBadGateway, "upstream service error")
	default:
		logger.Error("request failed", slog.Any("error", err))
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return core.NewValidationError("", "invalid request body: %v", err)
	}
	return nil
}
