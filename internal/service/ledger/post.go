package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/models"
	"github.com/nkiryanov/kglow/internal/repository"
)

// Post changes the balance and appends the entry using st
// st has to be a transaction: the account row stays locked until it ends
// If allowNegative is false a debit that drives the balance below zero fails with apperrors.ErrBalanceInsufficient
func Post(ctx context.Context, st repository.Storage, e models.LedgerEntry, allowNegative bool) (models.Account, models.LedgerEntry, error) {
	if _, err := st.Account().EnsureAccount(ctx, e.UserID); err != nil {
		return models.Account{}, e, err
	}

	account, err := st.Account().GetAccountForUpdate(ctx, e.UserID)
	if err != nil {
		return account, e, err
	}

	newBalance := account.Balance.Add(e.Amount)
	if e.Amount.IsNegative() && newBalance.IsNegative() && !allowNegative {
		return account, e, apperrors.ErrBalanceInsufficient
	}

	account, err = st.Account().UpdateBalance(ctx, e.UserID, newBalance)
	if err != nil {
		return account, e, err
	}

	e.BalanceAfter = account.Balance
	entry, err := st.Ledger().CreateEntry(ctx, e)
	if err != nil {
		return account, e, err
	}

	return account, entry, nil
}

// Amounts are stored as NUMERIC(18, 2)
var maxAmount = decimal.New(1, 16)

// CheckAmount rejects amounts the database can't store exactly
// Finer values would be silently rounded, larger ones overflow
func CheckAmount(amount decimal.Decimal) error {
	switch {
	case amount.IsZero():
		return fmt.Errorf("%w: amount must not be zero", apperrors.ErrInvalidInput)
	case !amount.Equal(amount.Round(2)):
		return fmt.Errorf("%w: amount has more than 2 fractional digits", apperrors.ErrInvalidInput)
	case amount.Abs().GreaterThanOrEqual(maxAmount):
		return fmt.Errorf("%w: amount is too large", apperrors.ErrInvalidInput)
	default:
		return nil
	}
}
