package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/handlers/render"
	"github.com/nkiryanov/kglow/internal/logger"
)

const maxListLimit = 500

// serviceError renders an error returned by the service layer
// Client errors carry the wrapped message, everything else is logged and hidden
func serviceError(w http.ResponseWriter, l logger.Logger, err error) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput),
		errors.Is(err, apperrors.ErrUnknownTool),
		errors.Is(err, apperrors.ErrNoPaymentMethod):
		render.ServiceError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, apperrors.ErrBalanceInsufficient):
		render.ServiceError(w, "Insufficient balance", http.StatusPaymentRequired)
	case errors.Is(err, apperrors.ErrPaymentFailed):
		render.ServiceError(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, apperrors.ErrAccountNotFound),
		errors.Is(err, apperrors.ErrQuoteNotFound),
		errors.Is(err, apperrors.ErrPaymentNotFound):
		render.ServiceError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, apperrors.ErrPermissionDenied):
		render.ServiceError(w, "Permission denied", http.StatusForbidden)
	case errors.Is(err, apperrors.ErrRateUnavailable):
		render.ServiceError(w, "Exchange rate is temporarily unavailable", http.StatusServiceUnavailable)
	default:
		l.Error("Request failed", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// listLimit reads optional '?limit=' query parameter; 0 means service default
func listLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		return 0, false
	}
	return limit, true
}
