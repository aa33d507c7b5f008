package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EntryKindCharge      = "charge"
	EntryKindUsage       = "usage"
	EntryKindRefund      = "refund"
	EntryKindAdminAdjust = "admin-adjust"
	EntryKindAutoCharge  = "auto-charge"
)

// LedgerEntry is an append-only record of one balance change
type LedgerEntry struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Amount       decimal.Decimal // signed
	Kind         string
	BalanceAfter decimal.Decimal
	Description  string
	PaymentID    *uuid.UUID // set for charge and auto-charge entries
	Reference    string     // tool name, refunded entity, operator and so on
	CreatedAt    time.Time
}

func IsEntryKind(kind string) bool {
	switch kind {
	case EntryKindCharge, EntryKindUsage, EntryKindRefund, EntryKindAdminAdjust, EntryKindAutoCharge:
		return true
	default:
		return false
	}
}
