package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/handlers/render"
	"github.com/nkiryanov/kglow/internal/handlers/userctx"
	"github.com/nkiryanov/kglow/internal/logger"
	"github.com/nkiryanov/kglow/internal/models"
)

const defaultLedgerLimit = 100

// Credits are rendered as JSON numbers with two decimal places
func credits(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

type autoRechargeResponse struct {
	Enabled            bool        `json:"enabled"`
	Threshold          json.Number `json:"threshold"`
	Amount             json.Number `json:"amount"`
	PaymentMethodSaved bool        `json:"paymentMethodSaved"`
}

type balanceResponse struct {
	UserID       uuid.UUID            `json:"userId"`
	Balance      json.Number          `json:"balance"`
	AutoRecharge autoRechargeResponse `json:"autoRecharge"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

func newBalanceResponse(a models.Account) balanceResponse {
	return balanceResponse{
		UserID:  a.UserID,
		Balance: credits(a.Balance),
		AutoRecharge: autoRechargeResponse{
			Enabled:            a.AutoRecharge.Enabled,
			Threshold:          credits(a.AutoRecharge.Threshold),
			Amount:             credits(a.AutoRecharge.Amount),
			PaymentMethodSaved: a.AutoRecharge.PaymentMethod != "",
		},
		UpdatedAt: a.UpdatedAt,
	}
}

type ledgerEntryResponse struct {
	ID           uuid.UUID   `json:"id"`
	Amount       json.Number `json:"amount"`
	Kind         string      `json:"kind"`
	BalanceAfter json.Number `json:"balanceAfter"`
	Description  string      `json:"description"`
	Reference    string      `json:"reference,omitempty"`
	PaymentID    *uuid.UUID  `json:"paymentId,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

type paymentResponse struct {
	ID            uuid.UUID   `json:"id"`
	Kind          string      `json:"kind"`
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
	Status        string      `json:"status"`
	FailureReason string      `json:"failureReason,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

func handleBalance(creditService creditService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		account, err := creditService.Balance(r.Context(), principal.UserID)
		if err != nil {
			serviceError(w, l, err)
			return
		}
		render.JSON(w, newBalanceResponse(account))
	})
}

func handleLedger(creditService creditService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		limit, ok := listLimit(r)
		if !ok {
			render.ServiceError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		if limit == 0 {
			limit = defaultLedgerLimit
		}

		entries, err := creditService.Entries(r.Context(), principal.UserID, limit)
		if err != nil {
			serviceError(w, l, err)
			return
		}

		resp := make([]ledgerEntryResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, ledgerEntryResponse{
				ID:           e.ID,
				Amount:       credits(e.Amount),
				Kind:         e.Kind,
				BalanceAfter: credits(e.BalanceAfter),
				Description:  e.Description,
				Reference:    e.Reference,
				PaymentID:    e.PaymentID,
				CreatedAt:    e.CreatedAt,
			})
		}
		render.JSON(w, resp)
	})
}

func handleUsage(creditService creditService, l logger.Logger) http.Handler {
	type request struct {
		Tool string `json:"tool" validate:"required"`
	}
	type response struct {
		Tool    string      `json:"tool"`
		Price   json.Number `json:"price"`
		Balance json.Number `json:"balance"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		balance, err := creditService.Use(r.Context(), principal.UserID, data.Tool)
		if err != nil {
			serviceError(w, l, err)
			return
		}

		price := creditService.ToolPrices()[data.Tool]
		render.JSON(w, response{Tool: data.Tool, Price: credits(price), Balance: credits(balance)})
	})
}

func handleTopUp(billingService billingService, l logger.Logger) http.Handler {
	type request struct {
		Amount decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		payment, err := billingService.TopUp(r.Context(), principal.UserID, data.Amount)
		status := http.StatusOK
		switch {
		case errors.Is(err, apperrors.ErrPaymentPending):
			// Credits arrive once the payment is reconciled
			status = http.StatusAccepted
		case err != nil:
			serviceError(w, l, err)
			return
		}

		render.JSONWithStatus(w, paymentResponse{
			ID:            payment.ID,
			Kind:          payment.Kind,
			Amount:        credits(payment.Amount),
			Currency:      payment.Currency,
			Status:        payment.Status,
			FailureReason: payment.FailureReason,
			CreatedAt:     payment.CreatedAt,
		}, status)
	})
}

func handleSetAutoRecharge(creditService creditService, l logger.Logger) http.Handler {
	type request struct {
		Enabled       bool            `json:"enabled"`
		Threshold     decimal.Decimal `json:"threshold" validate:"decimal_gte0"`
		Amount        decimal.Decimal `json:"amount" validate:"decimal_gte0"`
		PaymentMethod string          `json:"paymentMethod" validate:"max=255"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		account, err := creditService.SetAutoRecharge(r.Context(), principal.UserID, models.AutoRecharge{
			Enabled:       data.Enabled,
			Threshold:     data.Threshold,
			Amount:        data.Amount,
			PaymentMethod: data.PaymentMethod,
		})
		if err != nil {
			serviceError(w, l, err)
			return
		}
		render.JSON(w, newBalanceResponse(account))
	})
}
