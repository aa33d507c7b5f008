package quote

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/logger"
	"github.com/nkiryanov/kglow/internal/metrics"
	"github.com/nkiryanov/kglow/internal/models"
	"github.com/nkiryanov/kglow/internal/pricing"
	"github.com/nkiryanov/kglow/internal/repository"
)

const (
	CurrencyKRW = "KRW"
	CurrencyRUB = "RUB"

	DefaultListLimit = 50
)

type RateProvider interface {
	Rate(ctx context.Context, base string, target string) (decimal.Decimal, error)
}

type Renderer interface {
	Generate(q models.Quote) ([]byte, error)
}

type Request struct {
	Items         []pricing.Item
	Shipping      pricing.ShippingInfo
	Certification pricing.CertificationInfo
}

type Service struct {
	quotes  repository.QuoteRepo
	rates   RateProvider
	table   pricing.RateTable
	pdf     Renderer
	logger  logger.Logger
	metrics *metrics.Metrics
}

func NewService(quotes repository.QuoteRepo, rates RateProvider, table pricing.RateTable, pdf Renderer, l logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		quotes:  quotes,
		rates:   rates,
		table:   table,
		pdf:     pdf,
		logger:  l,
		metrics: m,
	}
}

// Calculate validates the request, resolves KRW->RUB rate and prices the quote
func (s *Service) Calculate(ctx context.Context, req Request) (pricing.Result, error) {
	if err := s.validate(req); err != nil {
		return pricing.Result{}, err
	}

	rate, err := s.rates.Rate(ctx, CurrencyKRW, CurrencyRUB)
	if err != nil {
		return pricing.Result{}, err
	}

	res := s.table.Calculate(req.Items, req.Shipping, req.Certification, rate)
	s.metrics.QuoteCalculated(string(req.Shipping.Method), string(req.Certification.Type))

	return res, nil
}

// CalculateAndSave is Calculate plus a snapshot the user can read back later
func (s *Service) CalculateAndSave(ctx context.Context, userID uuid.UUID, req Request) (models.Quote, error) {
	res, err := s.Calculate(ctx, req)
	if err != nil {
		return models.Quote{}, err
	}

	q, err := s.quotes.CreateQuote(ctx, models.Quote{
		UserID:        userID,
		Items:         req.Items,
		Shipping:      req.Shipping,
		Certification: req.Certification,
		Result:        res,
	})
	if err != nil {
		return q, fmt.Errorf("can't save quote. Err: %w", err)
	}

	s.logger.Debug("Quote saved", "quote_id", q.ID, "user_id", userID, "total_krw", res.TotalKRW)
	return q, nil
}

func (s *Service) GetQuote(ctx context.Context, userID uuid.UUID, quoteID uuid.UUID) (models.Quote, error) {
	return s.quotes.GetQuote(ctx, userID, quoteID)
}

// limit <= 0 means DefaultListLimit
func (s *Service) ListQuotes(ctx context.Context, userID uuid.UUID, limit int) ([]models.Quote, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.quotes.ListQuotes(ctx, userID, limit)
}

func (s *Service) RenderPDF(ctx context.Context, userID uuid.UUID, quoteID uuid.UUID) ([]byte, models.Quote, error) {
	q, err := s.quotes.GetQuote(ctx, userID, quoteID)
	if err != nil {
		return nil, q, err
	}

	doc, err := s.pdf.Generate(q)
	if err != nil {
		return nil, q, fmt.Errorf("can't render quote %s. Err: %w", quoteID, err)
	}

	return doc, q, nil
}
