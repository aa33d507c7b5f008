package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/logger"
	"github.com/nkiryanov/kglow/internal/metrics"
	"github.com/nkiryanov/kglow/internal/models"
	"github.com/nkiryanov/kglow/internal/repository"
	"github.com/nkiryanov/kglow/internal/service/ledger"
	"github.com/nkiryanov/kglow/internal/service/processor"
)

const (
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusSkipped   = "skipped"
	statusUnknown   = "unknown"
)

var errRechargeNotNeeded = errors.New("auto-recharge is not needed")

type Processor interface {
	Charge(ctx context.Context, cr processor.ChargeRequest) (processor.Charge, error)
}

type Service struct {
	storage   repository.Storage
	processor Processor
	currency  string
	logger    logger.Logger
	metrics   *metrics.Metrics
}

func NewService(storage repository.Storage, p Processor, currency string, l logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		storage:   storage,
		processor: p,
		currency:  currency,
		logger:    l,
		metrics:   m,
	}
}

// TopUp charges the saved payment method and credits the balance on success
// A declined charge leaves the balance untouched and returns apperrors.ErrPaymentFailed
// If the processor outcome is unknown the payment stays PENDING and apperrors.ErrPaymentPending is returned
func (s *Service) TopUp(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.Payment, error) {
	if err := ledger.CheckAmount(amount); err != nil {
		return models.Payment{}, err
	}
	if !amount.IsPositive() {
		return models.Payment{}, fmt.Errorf("%w: amount must be positive", apperrors.ErrInvalidInput)
	}

	account, err := s.storage.Account().EnsureAccount(ctx, userID)
	if err != nil {
		return models.Payment{}, err
	}
	if account.AutoRecharge.PaymentMethod == "" {
		return models.Payment{}, apperrors.ErrNoPaymentMethod
	}

	// PENDING payment is committed before the processor is called so a crash in between leaves a trace
	payment, err := s.storage.Payment().Create(ctx, s.newPayment(account, models.EntryKindCharge, amount))
	if err != nil {
		return payment, fmt.Errorf("can't create payment. Err: %w", err)
	}

	return s.settle(ctx, account, payment)
}

// AutoRecharge is run by the worker. It re-checks the account because the balance may have
// changed since dispatch and does nothing if another payment for the user is still PENDING
// The check and the PENDING payment are done under the account row lock, so concurrent runs charge once
// Returns skipped=true when no charge was attempted
func (s *Service) AutoRecharge(ctx context.Context, userID uuid.UUID) (p models.Payment, skipped bool, err error) {
	var account models.Account
	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		account, err = st.Account().GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if !account.NeedsRecharge() {
			return errRechargeNotNeeded
		}

		pending, err := st.Payment().HasPending(ctx, userID)
		if err != nil {
			return err
		}
		if pending {
			return apperrors.ErrPaymentInFlight
		}

		created, err := st.Payment().Create(ctx, s.newPayment(account, models.EntryKindAutoCharge, account.AutoRecharge.Amount))
		if err != nil {
			return err
		}
		p = created
		return nil
	})

	switch {
	case errors.Is(err, errRechargeNotNeeded):
		s.logger.Info("Auto-recharge is not needed anymore", "user_id", userID, "balance", account.Balance.String())
		s.metrics.RechargeAttempt(models.EntryKindAutoCharge, statusSkipped)
		return models.Payment{}, true, nil
	case errors.Is(err, apperrors.ErrPaymentInFlight):
		s.logger.Info("Auto-recharge skipped, payment in flight", "user_id", userID)
		s.metrics.RechargeAttempt(models.EntryKindAutoCharge, statusSkipped)
		return models.Payment{}, true, nil
	case err != nil:
		return models.Payment{}, false, err
	}

	p, err = s.settle(ctx, account, p)
	return p, false, err
}

// ReconcilePending re-sends charges that stayed PENDING longer than olderThan
// The processor recognizes the Idempotency-Key, so a charge that went through is not taken twice
// Returns the number of payments that left PENDING
func (s *Service) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) int {
	payments, err := s.storage.Payment().ListPending(ctx, time.Now().Add(-olderThan), limit)
	if err != nil {
		s.logger.Error("Failed to list pending payments", "error", err)
		return 0
	}

	settled := 0
	for _, payment := range payments {
		account, err := s.storage.Account().GetAccount(ctx, payment.UserID)
		if err != nil {
			s.logger.Error("Failed to load account of pending payment", "payment_id", payment.ID, "error", err)
			continue
		}

		payment, _ = s.settle(ctx, account, payment)
		if payment.Status != models.PaymentStatusPending {
			settled++
		}
	}

	if settled > 0 {
		s.logger.Info("Pending payments reconciled", "count", settled)
	}
	return settled
}

func (s *Service) newPayment(account models.Account, kind string, amount decimal.Decimal) models.Payment {
	return models.Payment{
		UserID:   account.UserID,
		Kind:     kind,
		Amount:   amount,
		Currency: s.currency,
	}
}

// settle charges a PENDING payment and moves it to COMPLETED or FAILED
func (s *Service) settle(ctx context.Context, account models.Account, payment models.Payment) (models.Payment, error) {
	l := s.logger.With("user_id", account.UserID, "payment_id", payment.ID, "kind", payment.Kind)

	charge, err := s.processor.Charge(ctx, processor.ChargeRequest{
		PaymentID:     payment.ID,
		UserID:        account.UserID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		PaymentMethod: account.AutoRecharge.PaymentMethod,
		Description:   "K-Glow credits",
	})
	switch {
	case processor.OutcomeUnknown(err):
		return s.leavePending(l, payment, err)
	case err != nil:
		return s.fail(context.WithoutCancel(ctx), l, payment, err)
	}

	// Processor took the money: finish even if the caller went away
	ctx = context.WithoutCancel(ctx)
	completed := payment
	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		completed, err = st.Payment().MarkCompleted(ctx, payment.ID, charge.ID)
		if err != nil {
			return err
		}

		_, _, err = ledger.Post(ctx, st, models.LedgerEntry{
			UserID:      account.UserID,
			Amount:      payment.Amount,
			Kind:        payment.Kind,
			Description: "Credits purchase",
			PaymentID:   &payment.ID,
			Reference:   charge.ID,
		}, false)
		return err
	})

	switch {
	case errors.Is(err, apperrors.ErrPaymentNotPending):
		// Settled concurrently, e.g. by reconciliation
		l.Info("Payment already settled", "charge_id", charge.ID)
		return s.storage.Payment().GetPayment(ctx, payment.ID)
	case err != nil:
		l.Error("Charged but failed to credit balance", "charge_id", charge.ID, "error", err)
		return payment, fmt.Errorf("can't complete payment %s. Err: %w", payment.ID, err)
	}

	s.metrics.RechargeAttempt(payment.Kind, statusCompleted)
	s.metrics.LedgerEntry(payment.Kind)
	l.Info("Payment completed", "amount", payment.Amount.String(), "charge_id", charge.ID)

	return completed, nil
}

// leavePending keeps the payment PENDING: the card may be charged, only the processor can tell
func (s *Service) leavePending(l logger.Logger, payment models.Payment, chargeErr error) (models.Payment, error) {
	reason := processor.Reason(chargeErr)

	s.metrics.RechargeAttempt(payment.Kind, statusUnknown)
	l.Error("Payment outcome unknown, left pending for reconciliation", "reason", reason, "error", chargeErr)

	return payment, fmt.Errorf("%w: %s", apperrors.ErrPaymentPending, reason)
}

func (s *Service) fail(ctx context.Context, l logger.Logger, payment models.Payment, chargeErr error) (models.Payment, error) {
	reason := processor.Reason(chargeErr)

	failed, err := s.storage.Payment().MarkFailed(ctx, payment.ID, reason)
	if err != nil && !errors.Is(err, apperrors.ErrPaymentNotPending) {
		l.Error("Failed to mark payment failed", "error", err)
	} else if err == nil {
		payment = failed
	}

	s.metrics.RechargeAttempt(payment.Kind, statusFailed)
	l.Warn("Payment failed", "reason", reason, "error", chargeErr)

	return payment, fmt.Errorf("%w: %s", apperrors.ErrPaymentFailed, reason)
}
