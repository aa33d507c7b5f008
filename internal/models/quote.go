package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/kglow/internal/pricing"
)

// Quote is a persisted snapshot of one calculation
// Never recomputed: values are read back exactly as they were stored
type Quote struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	CreatedAt     time.Time
	Items         []pricing.Item
	Shipping      pricing.ShippingInfo
	Certification pricing.CertificationInfo
	Result        pricing.Result
}
