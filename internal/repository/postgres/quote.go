package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/models"
)

type QuoteRepo struct {
	DB DBTX
}

const quoteColumns = `id, user_id, created_at, items, shipping_info, certification_info,
	subtotal, shipping_cost, customs_duty, vat, certification_cost, total_krw, total_rub, exchange_rate, breakdown`

// Create quote snapshot. Request parts and breakdown are stored as jsonb
func (r *QuoteRepo) CreateQuote(ctx context.Context, q models.Quote) (models.Quote, error) {
	const createQuote = `
	INSERT INTO quotes (` + quoteColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING ` + quoteColumns

	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.CreatedAt.IsZero() {
		// postgres keeps microseconds only
		q.CreatedAt = time.Now().Truncate(time.Microsecond)
	}

	res := q.Result
	rows, _ := r.DB.Query(ctx, createQuote,
		q.ID, q.UserID, q.CreatedAt, q.Items, q.Shipping, q.Certification,
		res.Subtotal, res.ShippingCost, res.CustomsDuty, res.VAT, res.CertificationCost, res.TotalKRW, res.TotalRUB,
		res.ExchangeRate, res.Breakdown,
	)
	quote, err := pgx.CollectOneRow(rows, rowToQuote)
	if err != nil {
		return quote, fmt.Errorf("db error: %w", err)
	}

	return quote, nil
}

func (r *QuoteRepo) GetQuote(ctx context.Context, userID uuid.UUID, quoteID uuid.UUID) (models.Quote, error) {
	const getQuote = `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1 AND user_id = $2`

	rows, _ := r.DB.Query(ctx, getQuote, quoteID, userID)
	quote, err := pgx.CollectOneRow(rows, rowToQuote)

	switch {
	case err == nil:
		return quote, nil
	case errors.Is(err, pgx.ErrNoRows):
		return quote, apperrors.ErrQuoteNotFound
	default:
		return quote, fmt.Errorf("db error: %w", err)
	}
}

func (r *QuoteRepo) ListQuotes(ctx context.Context, userID uuid.UUID, limit int) ([]models.Quote, error) {
	const listQuotes = `
	SELECT ` + quoteColumns + ` FROM quotes
	WHERE user_id = $1
	ORDER BY created_at DESC, id
	LIMIT $2
	`

	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, _ := r.DB.Query(ctx, listQuotes, userID, lim)
	quotes, err := pgx.CollectRows(rows, rowToQuote)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return quotes, nil
}

func rowToQuote(row pgx.CollectableRow) (models.Quote, error) {
	var q models.Quote
	res := &q.Result
	err := row.Scan(
		&q.ID, &q.UserID, &q.CreatedAt, &q.Items, &q.Shipping, &q.Certification,
		&res.Subtotal, &res.ShippingCost, &res.CustomsDuty, &res.VAT, &res.CertificationCost, &res.TotalKRW, &res.TotalRUB,
		&res.ExchangeRate, &res.Breakdown,
	)
	return q, err
}
