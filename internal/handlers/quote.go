package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/handlers/render"
	"github.com/nkiryanov/kglow/internal/handlers/userctx"
	"github.com/nkiryanov/kglow/internal/logger"
	"github.com/nkiryanov/kglow/internal/models"
	"github.com/nkiryanov/kglow/internal/pricing"
	"github.com/nkiryanov/kglow/internal/service/quote"
)

type quoteItem struct {
	Name         string          `json:"name" validate:"max=200"`
	Quantity     int64           `json:"quantity" validate:"gte=1"`
	UnitPriceKRW int64           `json:"priceKRW" validate:"gte=0"`
	Weight       decimal.Decimal `json:"weight" validate:"decimal_gte0"`
	Volume       decimal.Decimal `json:"volume" validate:"decimal_gte0"`
}

type quoteShipping struct {
	Method      string          `json:"method" validate:"required"`
	Origin      string          `json:"origin" validate:"max=200"`
	Destination string          `json:"destination" validate:"max=200"`
	TotalWeight decimal.Decimal `json:"totalWeight" validate:"decimal_gte0"`
	TotalVolume decimal.Decimal `json:"totalVolume" validate:"decimal_gte0"`
}

type quoteCertification struct {
	Type         string `json:"type" validate:"required"`
	ProductCount int64  `json:"productCount" validate:"gte=0"`
}

type quoteRequest struct {
	Items             []quoteItem        `json:"items" validate:"required,dive"`
	ShippingInfo      quoteShipping      `json:"shippingInfo"`
	CertificationInfo quoteCertification `json:"certificationInfo"`
	Save              bool               `json:"save"`
}

func (q quoteRequest) toService() quote.Request {
	items := make([]pricing.Item, 0, len(q.Items))
	for _, it := range q.Items {
		items = append(items, pricing.Item(it))
	}

	return quote.Request{
		Items: items,
		Shipping: pricing.ShippingInfo{
			Method:      pricing.ShippingMethod(q.ShippingInfo.Method),
			Origin:      q.ShippingInfo.Origin,
			Destination: q.ShippingInfo.Destination,
			TotalWeight: q.ShippingInfo.TotalWeight,
			TotalVolume: q.ShippingInfo.TotalVolume,
		},
		Certification: pricing.CertificationInfo{
			Type:         pricing.CertificationType(q.CertificationInfo.Type),
			ProductCount: q.CertificationInfo.ProductCount,
		},
	}
}

type quoteResponse struct {
	ID                *uuid.UUID                 `json:"id,omitempty"`
	CreatedAt         *time.Time                 `json:"createdAt,omitempty"`
	Items             []pricing.Item             `json:"items,omitempty"`
	ShippingInfo      *pricing.ShippingInfo      `json:"shippingInfo,omitempty"`
	CertificationInfo *pricing.CertificationInfo `json:"certificationInfo,omitempty"`

	Subtotal          int64             `json:"subtotal"`
	ShippingCost      int64             `json:"shippingCost"`
	CustomsDuty       int64             `json:"customsDuty"`
	VAT               int64             `json:"vat"`
	CertificationCost int64             `json:"certificationCost"`
	TotalKRW          int64             `json:"totalKRW"`
	TotalRUB          int64             `json:"totalRUB"`
	ExchangeRate      json.Number       `json:"exchangeRate"`
	Breakdown         pricing.Breakdown `json:"breakdown"`
}

func newResultResponse(res pricing.Result) quoteResponse {
	return quoteResponse{
		Subtotal:          res.Subtotal,
		ShippingCost:      res.ShippingCost,
		CustomsDuty:       res.CustomsDuty,
		VAT:               res.VAT,
		CertificationCost: res.CertificationCost,
		TotalKRW:          res.TotalKRW,
		TotalRUB:          res.TotalRUB,
		ExchangeRate:      json.Number(res.ExchangeRate.String()),
		Breakdown:         res.Breakdown,
	}
}

func newQuoteResponse(q models.Quote) quoteResponse {
	resp := newResultResponse(q.Result)
	resp.ID = &q.ID
	resp.CreatedAt = &q.CreatedAt
	resp.Items = q.Items
	resp.ShippingInfo = &q.Shipping
	resp.CertificationInfo = &q.Certification
	return resp
}

func handleCalculateQuote(quoteService quoteService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[quoteRequest](w, r)
		if err != nil {
			return
		}

		if !data.Save {
			res, err := quoteService.Calculate(r.Context(), data.toService())
			if err != nil {
				serviceError(w, l, err)
				return
			}
			render.JSON(w, newResultResponse(res))
			return
		}

		q, err := quoteService.CalculateAndSave(r.Context(), principal.UserID, data.toService())
		if err != nil {
			serviceError(w, l, err)
			return
		}
		render.JSONWithStatus(w, newQuoteResponse(q), http.StatusCreated)
	})
}

func handleListQuotes(quoteService quoteService, l logger.Logger) http.Handler {
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

		quotes, err := quoteService.ListQuotes(r.Context(), principal.UserID, limit)
		if err != nil {
			serviceError(w, l, err)
			return
		}

		resp := make([]quoteResponse, 0, len(quotes))
		for _, q := range quotes {
			resp = append(resp, newQuoteResponse(q))
		}
		render.JSON(w, resp)
	})
}

func handleGetQuote(quoteService quoteService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Invalid quote id", http.StatusBadRequest)
			return
		}

		q, err := quoteService.GetQuote(r.Context(), principal.UserID, id)
		if err != nil {
			serviceError(w, l, err)
			return
		}
		render.JSON(w, newQuoteResponse(q))
	})
}

func handleQuotePDF(quoteService quoteService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Invalid quote id", http.StatusBadRequest)
			return
		}

		doc, _, err := quoteService.RenderPDF(r.Context(), principal.UserID, id)
		if err != nil {
			serviceError(w, l, err)
			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="quote-%s.pdf"`, id))
		w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(doc)
	})
}
