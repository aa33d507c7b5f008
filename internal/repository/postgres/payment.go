package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/models"
)

// Partial unique index: one PENDING auto-charge per user
const pendingAutoChargeIndex = "payments_pending_auto_charge_uidx"

type PaymentRepo struct {
	DB DBTX
}

const paymentColumns = `id, user_id, kind, amount, currency, status, processor_ref, failure_reason, created_at, updated_at`

func (r *PaymentRepo) Create(ctx context.Context, p models.Payment) (models.Payment, error) {
	const createPayment = `
	INSERT INTO payments (id, user_id, kind, amount, currency, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	RETURNING ` + paymentColumns

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, createPayment, p.ID, p.UserID, p.Kind, p.Amount, p.Currency, models.PaymentStatusPending)
	payment, err := pgx.CollectOneRow(rows, rowToPayment)

	if err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation:
			return payment, apperrors.ErrAccountNotFound
		case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == pendingAutoChargeIndex:
			return payment, apperrors.ErrPaymentInFlight
		}
		return payment, fmt.Errorf("db error: %w", err)
	}

	return payment, nil
}

func (r *PaymentRepo) GetPayment(ctx context.Context, paymentID uuid.UUID) (models.Payment, error) {
	const getPayment = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	rows, _ := r.DB.Query(ctx, getPayment, paymentID)
	payment, err := pgx.CollectOneRow(rows, rowToPayment)

	switch {
	case err == nil:
		return payment, nil
	case errors.Is(err, pgx.ErrNoRows):
		return payment, apperrors.ErrPaymentNotFound
	default:
		return payment, fmt.Errorf("db error: %w", err)
	}
}

func (r *PaymentRepo) MarkCompleted(ctx context.Context, paymentID uuid.UUID, processorRef string) (models.Payment, error) {
	const markCompleted = `
	UPDATE payments SET status = 'COMPLETED', processor_ref = $2, updated_at = NOW()
	WHERE id = $1 AND status = 'PENDING'
	RETURNING ` + paymentColumns

	return r.transition(ctx, markCompleted, paymentID, processorRef)
}

func (r *PaymentRepo) MarkFailed(ctx context.Context, paymentID uuid.UUID, reason string) (models.Payment, error) {
	const markFailed = `
	UPDATE payments SET status = 'FAILED', failure_reason = $2, updated_at = NOW()
	WHERE id = $1 AND status = 'PENDING'
	RETURNING ` + paymentColumns

	return r.transition(ctx, markFailed, paymentID, reason)
}

// Zero updated rows means the payment either does not exist or already left PENDING
func (r *PaymentRepo) transition(ctx context.Context, query string, paymentID uuid.UUID, arg string) (models.Payment, error) {
	rows, _ := r.DB.Query(ctx, query, paymentID, arg)
	payment, err := pgx.CollectOneRow(rows, rowToPayment)

	switch {
	case err == nil:
		return payment, nil
	case errors.Is(err, pgx.ErrNoRows):
		if _, getErr := r.GetPayment(ctx, paymentID); getErr != nil {
			return payment, getErr
		}
		return payment, apperrors.ErrPaymentNotPending
	default:
		return payment, fmt.Errorf("db error: %w", err)
	}
}

func (r *PaymentRepo) HasPending(ctx context.Context, userID uuid.UUID) (bool, error) {
	const hasPending = `SELECT EXISTS (SELECT 1 FROM payments WHERE user_id = $1 AND status = 'PENDING')`

	var exists bool
	err := r.DB.QueryRow(ctx, hasPending, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return exists, nil
}

// Oldest first
func (r *PaymentRepo) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	const listPending = `
	SELECT ` + paymentColumns + ` FROM payments
	WHERE status = 'PENDING' AND created_at < $1
	ORDER BY created_at
	LIMIT $2
	`

	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, _ := r.DB.Query(ctx, listPending, createdBefore, lim)
	payments, err := pgx.CollectRows(rows, rowToPayment)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return payments, nil
}

func rowToPayment(row pgx.CollectableRow) (models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.UserID, &p.Kind, &p.Amount, &p.Currency, &p.Status, &p.ProcessorRef, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
