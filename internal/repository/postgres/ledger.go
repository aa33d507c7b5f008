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
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/models"
)

type LedgerRepo struct {
	DB DBTX
}

const createEntry = `
INSERT INTO ledger_entries (id, user_id, amount, kind, balance_after, description, payment_id, reference, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, user_id, amount, kind, balance_after, description, payment_id, reference, created_at
`

// Create entry. ID and CreatedAt are generated when zero
func (r *LedgerRepo) CreateEntry(ctx context.Context, e models.LedgerEntry) (models.LedgerEntry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createEntry,
		e.ID, e.UserID, e.Amount, e.Kind, e.BalanceAfter, e.Description, e.PaymentID, e.Reference, e.CreatedAt,
	)
	entry, err := pgx.CollectOneRow(rows, rowToEntry)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.ForeignKeyViolation:
				if pgErr.ConstraintName == "ledger_entries_payment_id_fkey" {
					return entry, apperrors.ErrPaymentNotFound
				}
				return entry, apperrors.ErrAccountNotFound
			case pgerrcode.UniqueViolation:
				return entry, fmt.Errorf("payment already has ledger entry: %w", err)
			}
		}
		return entry, fmt.Errorf("db error: %w", err)
	}

	return entry, nil
}

func (r *LedgerRepo) ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	const listEntries = `
	SELECT id, user_id, amount, kind, balance_after, description, payment_id, reference, created_at
	FROM ledger_entries
	WHERE user_id = $1
	ORDER BY created_at DESC, id
	LIMIT $2
	`

	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, _ := r.DB.Query(ctx, listEntries, userID, lim)
	entries, err := pgx.CollectRows(rows, rowToEntry)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return entries, nil
}

func (r *LedgerRepo) SumEntries(ctx context.Context, userID uuid.UUID) (decimal.Decimal, int, error) {
	const sumEntries = `SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM ledger_entries WHERE user_id = $1`

	var sum decimal.Decimal
	var count int
	err := r.DB.QueryRow(ctx, sumEntries, userID).Scan(&sum, &count)
	if err != nil {
		return sum, 0, fmt.Errorf("db error: %w", err)
	}

	return sum, count, nil
}

func rowToEntry(row pgx.CollectableRow) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.UserID, &e.Amount, &e.Kind, &e.BalanceAfter, &e.Description, &e.PaymentID, &e.Reference, &e.CreatedAt)
	return e, err
}
