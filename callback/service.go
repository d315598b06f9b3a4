package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/id"
)

// Resumer wakes an execution whose callback settled. The engine
// implements it with a rate-limited dispatcher; tests implement it with
// a channel.
type Resumer interface {
	Resume(ctx context.Context, execID id.ExecutionID)
}

// Emitter receives callback lifecycle notifications.
type Emitter interface {
	CallbackCreated(ctx context.Context, cb *Callback)
	CallbackResolved(ctx context.Context, cb *Callback)
	CallbackExpired(ctx context.Context, cb *Callback)
}

// NopEmitter discards all notifications.
type NopEmitter struct{}

func (NopEmitter) CallbackCreated(context.Context, *Callback)  {}
func (NopEmitter) CallbackResolved(context.Context, *Callback) {}
func (NopEmitter) CallbackExpired(context.Context, *Callback)  {}

// Service settles callbacks and sweeps expired ones. All settlement
// paths go through the store's conditional write, so the service itself
// holds no locks and any number of replicas can run sweeps.
type Service struct {
	store   Store
	resumer Resumer
	emitter Emitter
	logger  *slog.Logger

	sweepBatch int
}

// NewService creates a callback service. A nil resumer disables wake
// notifications (GetStatus-driven polling still works); a nil emitter
// discards events.
func NewService(store Store, resumer Resumer, emitter Emitter, logger *slog.Logger) *Service {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		resumer:    resumer,
		emitter:    emitter,
		logger:     logger,
		sweepBatch: 256,
	}
}

// Create arms a new waiting callback for the given wait step.
func (s *Service) Create(ctx context.Context, execID id.ExecutionID, step string, kind Kind, ttl time.Duration) (*Callback, error) {
	cb := New(execID, step, kind, ttl)
	if err := s.store.CreateCallback(ctx, cb); err != nil {
		return nil, fmt.Errorf("callback: create: %w", err)
	}
	s.emitter.CallbackCreated(ctx, cb)
	return cb, nil
}

// Get retrieves a callback by ID.
func (s *Service) Get(ctx context.Context, cbID id.CallbackID) (*Callback, error) {
	return s.store.GetCallback(ctx, cbID)
}

// Resolve settles a waiting callback successfully with the given
// payload and wakes its execution. Exactly one settlement wins; later
// calls return stride.ErrCallbackResolved, or stride.ErrCallbackExpired
// if the sweep got there first.
func (s *Service) Resolve(ctx context.Context, cbID id.CallbackID, payload []byte) error {
	return s.settle(ctx, cbID, StatusResolved, payload, "")
}

// Fail settles a waiting callback as failed with the given reason and
// wakes its execution so the wait step's retry policy can run.
func (s *Service) Fail(ctx context.Context, cbID id.CallbackID, reason string) error {
	return s.settle(ctx, cbID, StatusFailed, nil, reason)
}

func (s *Service) settle(ctx context.Context, cbID id.CallbackID, status Status, payload []byte, reason string) error {
	cb, err := s.store.GetCallback(ctx, cbID)
	if err != nil {
		return err
	}

	cb.Status = status
	cb.Payload = payload
	cb.Error = reason
	cb.SettledAt = time.Now().UTC()
	cb.Touch()
	if err := s.store.SettleCallback(ctx, cb); err != nil {
		return err
	}

	s.emitter.CallbackResolved(ctx, cb)
	if s.resumer != nil {
		s.resumer.Resume(ctx, cb.ExecutionID)
	}
	return nil
}

// Heartbeat extends a waiting callback's expiry by ttl from now.
func (s *Service) Heartbeat(ctx context.Context, cbID id.CallbackID, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("callback: heartbeat ttl must be positive")
	}
	return s.store.ExtendCallback(ctx, cbID, time.Now().UTC().Add(ttl))
}

// Sweep settles callbacks whose expiry has passed and wakes their
// executions. It returns the number settled by this call; callbacks
// another writer settles mid-sweep are skipped, not errors.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ListExpiredCallbacks(ctx, now, s.sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("callback: sweep list: %w", err)
	}

	settled := 0
	for _, cb := range expired {
		cb.Status = StatusExpired
		cb.SettledAt = now
		cb.Touch()
		err := s.store.SettleCallback(ctx, cb)
		switch {
		case err == nil:
			settled++
			s.emitter.CallbackExpired(ctx, cb)
			if s.resumer != nil {
				s.resumer.Resume(ctx, cb.ExecutionID)
			}
		case isSettled(err):
			// Lost the race to a resolver; their outcome stands.
		default:
			return settled, fmt.Errorf("callback: sweep settle %s: %w", cb.ID, err)
		}
	}
	return settled, nil
}

// Run sweeps on the given interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := s.Sweep(ctx, now.UTC()); err != nil {
				s.logger.ErrorContext(ctx, "callback sweep failed",
					slog.Int("settled", n),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func isSettled(err error) bool {
	return errors.Is(err, stride.ErrCallbackResolved) || errors.Is(err, stride.ErrCallbackExpired)
}
