package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/reviewqa/internal/domain"
	"github.com/kalambet/reviewqa/internal/history"
	"github.com/kalambet/reviewqa/internal/pipeline"
)

// errorStatus maps an error kind to its HTTP status and error type.
func errorStatus(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, pipeline.ErrEmptyInput), errors.Is(err, history.ErrEmptySessionID):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "invalid_request_error"
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, domain.ErrGeneration):
		return http.StatusBadGateway, "generation_error"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, errType := errorStatus(err)
	if code >= http.StatusInternalServerError {
		slog.Warn("request failed", "status", code, "error", err)
	}
	httpError(w, code, errType, "%v", err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
