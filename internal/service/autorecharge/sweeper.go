package autorecharge

import (
	"context"
	"time"

	"github.com/nkiryanov/kglow/internal/logger"
	"github.com/nkiryanov/kglow/internal/models"
	"github.com/nkiryanov/kglow/internal/service/ledger"
)

const (
	defaultSweepInterval = time.Minute
	defaultSweepBatch    = 100

	// Well above the processor timeout so a charge still in flight is not re-sent
	defaultReconcileAfter = 5 * time.Minute
)

type dueLister interface {
	ListRechargeDue(ctx context.Context, limit int) ([]models.Account, error)
}

// Sweeper periodically dispatches recharges for accounts that stayed below their threshold,
// e.g. when a dispatch was dropped or the process died right after commit
// It also hands stale PENDING payments to the reconciler
type Sweeper struct {
	interval       time.Duration
	batchSize      int
	reconcileAfter time.Duration
	accounts       dueLister
	dispatcher     ledger.Dispatcher
	reconciler     Reconciler
	logger         logger.Logger
}

// r may be nil
func NewSweeper(interval time.Duration, accounts dueLister, d ledger.Dispatcher, r Reconciler, l logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	return &Sweeper{
		interval:       interval,
		batchSize:      defaultSweepBatch,
		reconcileAfter: defaultReconcileAfter,
		accounts:       accounts,
		dispatcher:     d,
		reconciler:     r,
		logger:         l,
	}
}

func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting auto-recharge sweeper", "interval", s.interval, "batch_size", s.batchSize)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()

	return idleStopped
}

// Sweep reconciles and dispatches one batch. Returns the number of dispatched recharges
func (s *Sweeper) Sweep(ctx context.Context) int {
	if s.reconciler != nil {
		s.reconciler.ReconcilePending(ctx, s.reconcileAfter, s.batchSize)
	}

	accounts, err := s.accounts.ListRechargeDue(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list accounts due for recharge", "error", err)
		return 0
	}

	dispatched := 0
	for _, a := range accounts {
		if err := s.dispatcher.Dispatch(ctx, a.UserID); err != nil {
			s.logger.Warn("Sweeper failed to dispatch auto-recharge", "user_id", a.UserID, "error", err)
			continue
		}
		dispatched++
	}

	if dispatched > 0 {
		s.logger.Info("Sweeper dispatched auto-recharges", "count", dispatched)
	}
	return dispatched
}
