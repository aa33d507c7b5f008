package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/models"
)

type AccountRepo struct {
	DB DBTX
}

const accountColumns = `user_id, balance, created_at, updated_at,
	auto_recharge_enabled, recharge_threshold, recharge_amount, COALESCE(payment_method, '')`

func (r *AccountRepo) EnsureAccount(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	const ensureAccount = `
	WITH inserted AS (
		INSERT INTO accounts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING ` + accountColumns + `
	)
	SELECT * FROM inserted
	UNION ALL
	SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1
	LIMIT 1
	`

	rows, _ := r.DB.Query(ctx, ensureAccount, userID)
	a, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return a, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Concurrent insert committed after our statement snapshot was taken
		return r.GetAccount(ctx, userID)
	default:
		return a, fmt.Errorf("db error: %w", err)
	}
}

func (r *AccountRepo) GetAccount(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	const getAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`
	return r.getAccount(ctx, getAccount, userID)
}

func (r *AccountRepo) GetAccountForUpdate(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	const getAccountForUpdate = `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 FOR UPDATE`
	return r.getAccount(ctx, getAccountForUpdate, userID)
}

func (r *AccountRepo) getAccount(ctx context.Context, query string, args ...any) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, query, args...)
	a, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return a, nil
	case errors.Is(err, pgx.ErrNoRows):
		return a, apperrors.ErrAccountNotFound
	default:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.NumericValueOutOfRange {
			return a, fmt.Errorf("%w: amount out of range", apperrors.ErrInvalidInput)
		}
		return a, fmt.Errorf("db error: %w", err)
	}
}

func (r *AccountRepo) UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) (models.Account, error) {
	const updateBalance = `
	UPDATE accounts SET balance = $2, updated_at = NOW()
	WHERE user_id = $1
	RETURNING ` + accountColumns

	return r.getAccount(ctx, updateBalance, userID, balance)
}

func (r *AccountRepo) SetAutoRecharge(ctx context.Context, userID uuid.UUID, s models.AutoRecharge) (models.Account, error) {
	const setAutoRecharge = `
	UPDATE accounts SET
		auto_recharge_enabled = $2,
		recharge_threshold = $3,
		recharge_amount = $4,
		payment_method = NULLIF($5, ''),
		updated_at = NOW()
	WHERE user_id = $1
	RETURNING ` + accountColumns

	return r.getAccount(ctx, setAutoRecharge, userID, s.Enabled, s.Threshold, s.Amount, s.PaymentMethod)
}

func (r *AccountRepo) ListRechargeDue(ctx context.Context, limit int) ([]models.Account, error) {
	const listRechargeDue = `
	SELECT ` + accountColumns + ` FROM accounts a
	WHERE auto_recharge_enabled
		AND payment_method IS NOT NULL
		AND recharge_amount > 0
		AND balance < recharge_threshold
		AND NOT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.user_id = a.user_id
				AND p.kind = 'auto-charge'
				AND (p.status = 'PENDING' OR p.created_at >= a.updated_at)
		)
	ORDER BY updated_at
	LIMIT $1
	`

	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, _ := r.DB.Query(ctx, listRechargeDue, lim)
	accounts, err := pgx.CollectRows(rows, rowToAccount)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return accounts, nil
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.UserID, &a.Balance, &a.CreatedAt, &a.UpdatedAt,
		&a.AutoRecharge.Enabled, &a.AutoRecharge.Threshold, &a.AutoRecharge.Amount, &a.AutoRecharge.PaymentMethod,
	)
	return a, err
}
