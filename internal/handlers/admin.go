package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/handlers/render"
	"github.com/nkiryanov/kglow/internal/handlers/userctx"
	"github.com/nkiryanov/kglow/internal/logger"
)

type adminBalanceResponse struct {
	UserID  uuid.UUID   `json:"userId"`
	Balance json.Number `json:"balance"`
}

func handleAdjust(creditService creditService, l logger.Logger) http.Handler {
	type request struct {
		UserID      uuid.UUID       `json:"userId" validate:"required"`
		Amount      decimal.Decimal `json:"amount" validate:"decimal_ne0"`
		Description string          `json:"description" validate:"required,max=500"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		balance, err := creditService.ForceAdjust(r.Context(), data.UserID, data.Amount, data.Description, operator.UserID.String())
		if err != nil {
			serviceError(w, l, err)
			return
		}
		render.JSON(w, adminBalanceResponse{UserID: data.UserID, Balance: credits(balance)})
	})
}

func handleRefund(creditService creditService, l logger.Logger) http.Handler {
	type request struct {
		UserID    uuid.UUID       `json:"userId" validate:"required"`
		Amount    decimal.Decimal `json:"amount" validate:"decimal_gt0"`
		Reference string          `json:"reference" validate:"required,max=255"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		balance, err := creditService.Refund(r.Context(), data.UserID, data.Amount, data.Reference)
		if err != nil {
			serviceError(w, l, err)
			return
		}
		render.JSON(w, adminBalanceResponse{UserID: data.UserID, Balance: credits(balance)})
	})
}

// Mismatch is reported with 409 and the same body so the operator sees both numbers
func handleVerify(creditService creditService, l logger.Logger) http.Handler {
	type response struct {
		UserID     uuid.UUID   `json:"userId"`
		Balance    json.Number `json:"balance"`
		Sum        json.Number `json:"sum"`
		Entries    int         `json:"entries"`
		Consistent bool        `json:"consistent"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("userID"))
		if err != nil {
			render.ServiceError(w, "Invalid user id", http.StatusBadRequest)
			return
		}

		v, err := creditService.Verify(r.Context(), userID)
		resp := response{
			UserID:     userID,
			Balance:    credits(v.Balance),
			Sum:        credits(v.Sum),
			Entries:    v.Entries,
			Consistent: err == nil,
		}

		switch {
		case err == nil:
			render.JSON(w, resp)
		case errors.Is(err, apperrors.ErrLedgerMismatch):
			render.JSONWithStatus(w, resp, http.StatusConflict)
		default:
			serviceError(w, l, err)
		}
	})
}
