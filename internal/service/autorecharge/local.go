package autorecharge

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/nkiryanov/kglow/internal/logger"
)

const (
	defaultCountWorkers = 4
	defaultBufferSize   = 256
)

var ErrQueueFull = errors.New("auto-recharge queue is full")

// Local runs auto-recharges in the process. Used when redis is not configured
// Recharges queued but not started are lost on shutdown; the sweeper picks them up later
type Local struct {
	countWorkers int
	queue        chan uuid.UUID

	// Users waiting in the queue or being recharged
	mu     sync.Mutex
	queued map[uuid.UUID]struct{}

	recharger Recharger
	logger    logger.Logger
}

func NewLocal(countWorkers int, bufferSize int, r Recharger, l logger.Logger) *Local {
	if countWorkers <= 0 {
		countWorkers = defaultCountWorkers
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &Local{
		countWorkers: countWorkers,
		queue:        make(chan uuid.UUID, bufferSize),
		queued:       make(map[uuid.UUID]struct{}),
		recharger:    r,
		logger:       l,
	}
}

// Dispatch never blocks. A user already queued or being recharged is not queued again
func (d *Local) Dispatch(_ context.Context, userID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.queued[userID]; ok {
		return nil
	}

	select {
	case d.queue <- userID:
		d.queued[userID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Run starts workers. The returned channel is closed when all of them stopped
func (d *Local) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for range d.countWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		d.logger.Debug("Local auto-recharge workers stopped")
	}()

	return idleStopped
}

func (d *Local) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case userID := <-d.queue:
			d.recharge(ctx, userID)
		}
	}
}

func (d *Local) recharge(ctx context.Context, userID uuid.UUID) {
	defer func() {
		d.mu.Lock()
		delete(d.queued, userID)
		d.mu.Unlock()
	}()

	payment, skipped, err := d.recharger.AutoRecharge(ctx, userID)
	switch {
	case err != nil:
		d.logger.Warn("Auto-recharge failed", "user_id", userID, "payment_id", payment.ID, "error", err)
	case skipped:
		d.logger.Debug("Auto-recharge skipped", "user_id", userID)
	default:
		d.logger.Info("Auto-recharge completed", "user_id", userID, "payment_id", payment.ID)
	}
}
