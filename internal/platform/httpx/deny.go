package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-bi/backoffice/internal/shared"
)

// Deny answers a refused request. JSON clients get the same 404 problem as a missing
// record; browser clients are sent back to a safe same-host page with a flash.
func Deny(w http.ResponseWriter, r *http.Request) {
	if shared.WantsJSON(r) {
		RespondError(w, shared.ErrNotAuthorized)
		return
	}
	shared.DenyRedirect(w, r)
}

// Fail is the request-boundary error handler used by resource handlers.
func Fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrNotAuthorized), errors.Is(err, shared.ErrNotFound):
		Deny(w, r)
	case errors.Is(err, shared.ErrValidationFailed), errors.Is(err, shared.ErrHasActiveChildren), errors.Is(err, ErrDuplicate):
		RespondError(w, err)
	default:
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
		RespondError(w, err)
	}
}
