// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/clinicos/backoffice/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. Unclassified
// errors are store failures; their detail is logged, not returned.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidRequest):
		Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Timeout", "")
	default:
		if logger != nil {
			logger.Error("request failed", slog.Any("error", err))
		}
		Problem(w, http.StatusServiceUnavailable, "Temporarily Unavailable", "")
	}
}
