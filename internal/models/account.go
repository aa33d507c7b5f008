package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account holds the user's credit balance and auto-recharge preferences
// Balance is changed by the ledger only
type Account struct {
	UserID    uuid.UUID
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time

	AutoRecharge AutoRecharge
}

type AutoRecharge struct {
	Enabled   bool
	Threshold decimal.Decimal
	Amount    decimal.Decimal

	// Token of the payment method saved at the processor; empty if not saved
	PaymentMethod string
}

// Recharge is due when the balance fell below the threshold and the user allowed to charge the saved method
func (a Account) NeedsRecharge() bool {
	r := a.AutoRecharge
	return r.Enabled &&
		r.PaymentMethod != "" &&
		r.Amount.IsPositive() &&
		a.Balance.LessThan(r.Threshold)
}
