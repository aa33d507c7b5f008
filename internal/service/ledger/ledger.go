package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/logger"
	"github.com/nkiryanov/kglow/internal/metrics"
	"github.com/nkiryanov/kglow/internal/models"
	"github.com/nkiryanov/kglow/internal/repository"
)

// Dispatcher schedules an auto-recharge for the user and returns without waiting for it
type Dispatcher interface {
	Dispatch(ctx context.Context, userID uuid.UUID) error
}

type Option func(*models.LedgerEntry)

func WithReference(ref string) Option {
	return func(e *models.LedgerEntry) {
		e.Reference = ref
	}
}

func WithPaymentID(paymentID uuid.UUID) Option {
	return func(e *models.LedgerEntry) {
		e.PaymentID = &paymentID
	}
}

type Service struct {
	storage    repository.Storage
	dispatcher Dispatcher
	tools      map[string]decimal.Decimal
	logger     logger.Logger
	metrics    *metrics.Metrics
}

// tools nil means DefaultToolPrices. m may be nil
func NewService(storage repository.Storage, dispatcher Dispatcher, tools map[string]decimal.Decimal, l logger.Logger, m *metrics.Metrics) *Service {
	if tools == nil {
		tools = DefaultToolPrices()
	}

	return &Service{
		storage:    storage,
		dispatcher: dispatcher,
		tools:      tools,
		logger:     l,
		metrics:    m,
	}
}

// Apply changes the user's balance by a signed amount and appends one ledger entry in one transaction
// Debits that would make the balance negative fail with apperrors.ErrBalanceInsufficient and change nothing
// After commit the auto-recharge check runs; its failures are logged only
func (s *Service) Apply(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind string, description string, opts ...Option) (decimal.Decimal, error) {
	if !models.IsEntryKind(kind) {
		return decimal.Zero, fmt.Errorf("%w: unknown entry kind '%s'", apperrors.ErrInvalidInput, kind)
	}

	return s.apply(ctx, userID, amount, kind, description, false, opts...)
}

// ForceAdjust is the operator correction. Unlike Apply it may drive the balance below zero
func (s *Service) ForceAdjust(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string, operator string) (decimal.Decimal, error) {
	s.logger.Warn("Forced balance adjustment", "user_id", userID, "amount", amount.String(), "operator", operator)

	return s.apply(ctx, userID, amount, models.EntryKindAdminAdjust, description, true, WithReference("operator:"+operator))
}

// Use charges the price of one AI tool invocation
func (s *Service) Use(ctx context.Context, userID uuid.UUID, tool string) (decimal.Decimal, error) {
	price, ok := s.tools[tool]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: '%s'", apperrors.ErrUnknownTool, tool)
	}

	return s.Apply(ctx, userID, price.Neg(), models.EntryKindUsage, "AI tool usage: "+tool, WithReference(tool))
}

func (s *Service) Refund(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: refund amount must be positive", apperrors.ErrInvalidInput)
	}

	return s.Apply(ctx, userID, amount, models.EntryKindRefund, "Refund", WithReference(reference))
}

func (s *Service) ToolPrices() map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(s.tools))
	for name, price := range s.tools {
		prices[name] = price
	}
	return prices
}

func (s *Service) apply(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind string, description string, allowNegative bool, opts ...Option) (decimal.Decimal, error) {
	if err := CheckAmount(amount); err != nil {
		return decimal.Zero, err
	}

	e := models.LedgerEntry{
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
	}
	for _, opt := range opts {
		opt(&e)
	}

	var account models.Account
	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		account, _, err = Post(ctx, st, e, allowNegative)
		return err
	})

	switch {
	case errors.Is(err, apperrors.ErrBalanceInsufficient):
		s.metrics.BalanceInsufficient()
		return decimal.Zero, err
	case err != nil:
		return decimal.Zero, fmt.Errorf("can't apply ledger entry. Err: %w", err)
	}

	s.metrics.LedgerEntry(kind)
	s.logger.Debug("Ledger entry applied", "user_id", userID, "kind", kind, "amount", amount.String(), "balance", account.Balance.String())

	s.checkRecharge(ctx, account)

	return account.Balance, nil
}

// Runs after commit only. The request is not waiting for the recharge and its cancellation must not stop it
func (s *Service) checkRecharge(ctx context.Context, account models.Account) {
	if s.dispatcher == nil || !account.NeedsRecharge() {
		return
	}

	err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), account.UserID)
	if err != nil {
		s.logger.Error("Failed to dispatch auto-recharge", "user_id", account.UserID, "error", err)
		return
	}

	s.logger.Info("Auto-recharge dispatched", "user_id", account.UserID, "balance", account.Balance.String())
}
