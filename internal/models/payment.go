package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
)

// Payment is a top-up attempt at the payment processor
// Status moves PENDING -> COMPLETED or PENDING -> FAILED only
type Payment struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Kind          string // EntryKindCharge or EntryKindAutoCharge
	Amount        decimal.Decimal
	Currency      string
	Status        string
	ProcessorRef  string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
