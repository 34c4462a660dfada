package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"labelsync/internal/domain"
	"labelsync/internal/middleware"
)

// maxBodyBytes caps request bodies; job bodies are small.
const maxBodyBytes = 1 << 20

// Error is the JSON error body.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err with the status of its domain type. Unknown errors
// are logged and reported as a bare 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err)
		msg = "internal error"
	}
	writeJSON(w, status, Error{Code: status, Message: msg})
}

// decodeBody decodes a JSON body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ErrValidation("request body exceeds %d bytes", tooLarge.Limit)
		}
		return domain.ErrValidation("invalid request body: %s", err.Error())
	}
	return nil
}

// discardLogger is used when a nil logger is passed to NewHandler.
var discardLogger = slog.New(slog.DiscardHandler)
