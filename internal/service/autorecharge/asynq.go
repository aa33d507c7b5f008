package autorecharge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nkiryanov/kglow/internal/logger"
)

// Enqueuer dispatches auto-recharges through the redis backed asynq queue
type Enqueuer struct {
	client    *asynq.Client
	uniqueFor time.Duration
}

// While a task for the user is queued within uniqueFor, new dispatches are dropped
func NewEnqueuer(client *asynq.Client, uniqueFor time.Duration) *Enqueuer {
	if uniqueFor < time.Second {
		uniqueFor = time.Minute
	}

	return &Enqueuer{client: client, uniqueFor: uniqueFor}
}

func (e *Enqueuer) Dispatch(ctx context.Context, userID uuid.UUID) error {
	payload, err := json.Marshal(Payload{UserID: userID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeAutoRecharge, payload,
		asynq.Queue(Queue),
		asynq.MaxRetry(0),
		asynq.Unique(e.uniqueFor),
	)

	_, err = e.client.EnqueueContext(ctx, task)
	switch {
	case err == nil, errors.Is(err, asynq.ErrDuplicateTask):
		return nil
	default:
		return fmt.Errorf("can't enqueue auto-recharge: %w", err)
	}
}

// Handler processes auto-recharge tasks. Failed charges are never retried
type Handler struct {
	recharger Recharger
	logger    logger.Logger
}

func NewHandler(r Recharger, l logger.Logger) *Handler {
	return &Handler{recharger: r, logger: l}
}

func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.UserID == uuid.Nil {
		h.logger.Error("Bad auto-recharge payload", "payload", string(t.Payload()), "error", err)
		return fmt.Errorf("bad payload: %w", asynq.SkipRetry)
	}

	payment, skipped, err := h.recharger.AutoRecharge(ctx, p.UserID)
	switch {
	case err != nil:
		h.logger.Warn("Auto-recharge failed", "user_id", p.UserID, "payment_id", payment.ID, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case skipped:
		h.logger.Debug("Auto-recharge skipped", "user_id", p.UserID)
	default:
		h.logger.Info("Auto-recharge completed", "user_id", p.UserID, "payment_id", payment.ID)
	}

	return nil
}

func NewServeMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeAutoRecharge, h)
	return mux
}

func NewServer(opt asynq.RedisConnOpt, concurrency int, l logger.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 4
	}

	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{Queue: 1},
		Logger:      asynqLogger{l: l.With("component", "asynq")},
	})
}

// asynqLogger adapts Logger to asynq.Logger
type asynqLogger struct {
	l logger.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }

// Fatal is called by asynq on unrecoverable errors only
func (a asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}
