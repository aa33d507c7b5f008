package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/models"
	"github.com/nkiryanov/kglow/internal/repository"
)

// Verification compares the stored balance with the sum of ledger entries
type Verification struct {
	UserID  uuid.UUID
	Balance decimal.Decimal
	Sum     decimal.Decimal
	Entries int
}

// Balance returns the account, creating an empty one for a new user
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	return s.storage.Account().EnsureAccount(ctx, userID)
}

func (s *Service) Entries(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	return s.storage.Ledger().ListEntries(ctx, userID, limit)
}

// Verify fails with apperrors.ErrLedgerMismatch if the balance differs from the sum of entries
// The account row is locked while reading so concurrent entries can't skew the sum
func (s *Service) Verify(ctx context.Context, userID uuid.UUID) (Verification, error) {
	v := Verification{UserID: userID}

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		account, err := st.Account().GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		v.Balance = account.Balance

		v.Sum, v.Entries, err = st.Ledger().SumEntries(ctx, userID)
		return err
	})
	if err != nil {
		return v, err
	}

	if !v.Balance.Equal(v.Sum) {
		s.logger.Error("Ledger mismatch", "user_id", userID, "balance", v.Balance.String(), "sum", v.Sum.String())
		return v, fmt.Errorf("%w: balance %s, entries sum %s", apperrors.ErrLedgerMismatch, v.Balance, v.Sum)
	}

	return v, nil
}

// SetAutoRecharge saves the preferences. Enabling them on a low balance dispatches a recharge right away
func (s *Service) SetAutoRecharge(ctx context.Context, userID uuid.UUID, settings models.AutoRecharge) (models.Account, error) {
	switch {
	case settings.Threshold.IsNegative():
		return models.Account{}, fmt.Errorf("%w: threshold must not be negative", apperrors.ErrInvalidInput)
	case settings.Amount.IsNegative():
		return models.Account{}, fmt.Errorf("%w: amount must not be negative", apperrors.ErrInvalidInput)
	case settings.Enabled && !settings.Amount.IsPositive():
		return models.Account{}, fmt.Errorf("%w: amount must be positive", apperrors.ErrInvalidInput)
	case settings.Enabled && settings.PaymentMethod == "":
		return models.Account{}, apperrors.ErrNoPaymentMethod
	}
	if err := CheckAmount(settings.Amount); settings.Enabled && err != nil {
		return models.Account{}, err
	}

	if _, err := s.storage.Account().EnsureAccount(ctx, userID); err != nil {
		return models.Account{}, err
	}

	account, err := s.storage.Account().SetAutoRecharge(ctx, userID, settings)
	if err != nil {
		return account, err
	}

	s.checkRecharge(ctx, account)

	return account, nil
}
