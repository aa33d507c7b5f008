package autorecharge

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/kglow/internal/models"
)

const (
	TypeAutoRecharge = "credits:auto_recharge"
	Queue            = "credits"
)

// Recharger performs one auto-recharge attempt
type Recharger interface {
	AutoRecharge(ctx context.Context, userID uuid.UUID) (p models.Payment, skipped bool, err error)
}

// Reconciler settles payments left PENDING because the processor outcome was unknown
type Reconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) int
}

type Payload struct {
	UserID uuid.UUID `json:"user_id"`
}
