package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/models"
)

// Storage groups repositories sharing one connection or transaction
type Storage interface {
	Account() AccountRepo
	Ledger() LedgerRepo
	Payment() PaymentRepo
	Quote() QuoteRepo

	// Run fn in transaction. Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}

// Account repository interface
type AccountRepo interface {
	// Create account with zero balance if it does not exist and return it
	EnsureAccount(ctx context.Context, userID uuid.UUID) (models.Account, error)

	// If account not found must return apperrors.ErrAccountNotFound
	GetAccount(ctx context.Context, userID uuid.UUID) (models.Account, error)

	// Same as GetAccount but locks the row until the transaction ends
	// Has to be called inside InTx
	GetAccountForUpdate(ctx context.Context, userID uuid.UUID) (models.Account, error)

	// Set the balance to the value. The caller is responsible for the ledger entry
	UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) (models.Account, error)

	SetAutoRecharge(ctx context.Context, userID uuid.UUID, settings models.AutoRecharge) (models.Account, error)

	// Accounts with auto-recharge enabled, saved payment method and balance below threshold
	// Accounts with a pending auto-charge or one attempted after the last account change are skipped
	// Oldest updated first
	ListRechargeDue(ctx context.Context, limit int) ([]models.Account, error)
}

// Ledger repository interface. Entries are never updated or deleted
type LedgerRepo interface {
	CreateEntry(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error)

	// Newest first. limit <= 0 means no limit
	ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEntry, error)

	// Sum and count of all entries for the user
	SumEntries(ctx context.Context, userID uuid.UUID) (sum decimal.Decimal, count int, err error)
}

// Payment repository interface
type PaymentRepo interface {
	// Create payment in PENDING status
	// A second PENDING auto-charge for the same user must return apperrors.ErrPaymentInFlight
	Create(ctx context.Context, p models.Payment) (models.Payment, error)

	GetPayment(ctx context.Context, paymentID uuid.UUID) (models.Payment, error)

	// Move payment from PENDING to COMPLETED
	// If payment is not PENDING must return apperrors.ErrPaymentNotPending
	MarkCompleted(ctx context.Context, paymentID uuid.UUID, processorRef string) (models.Payment, error)

	// Move payment from PENDING to FAILED
	// If payment is not PENDING must return apperrors.ErrPaymentNotPending
	MarkFailed(ctx context.Context, paymentID uuid.UUID, reason string) (models.Payment, error)

	HasPending(ctx context.Context, userID uuid.UUID) (bool, error)

	// PENDING payments created before the given time, oldest first. limit <= 0 means no limit
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)
}

// Quote repository interface. Quotes are insert-only
type QuoteRepo interface {
	CreateQuote(ctx context.Context, q models.Quote) (models.Quote, error)

	// If quote not found or belongs to another user must return apperrors.ErrQuoteNotFound
	GetQuote(ctx context.Context, userID uuid.UUID, quoteID uuid.UUID) (models.Quote, error)

	// Newest first
	ListQuotes(ctx context.Context, userID uuid.UUID, limit int) ([]models.Quote, error)
}
