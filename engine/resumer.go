package engine

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/stridehq/stride/id"
)

// resumeWorkers is the number of goroutines draining the resume queue.
const resumeWorkers = 4

// resumer dispatches coordination passes for executions whose callbacks
// settled. Passes are rate-limited so a burst of resolutions (or a
// large expiry sweep) cannot stampede the store.
type resumer struct {
	run     func(ctx context.Context, execID id.ExecutionID)
	limiter *rate.Limiter
	logger  *slog.Logger

	queue chan id.ExecutionID
	wg    sync.WaitGroup
}

func newResumer(run func(ctx context.Context, execID id.ExecutionID), perSecond float64, logger *slog.Logger) *resumer {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(int(perSecond), 1)
	}
	return &resumer{
		run:     run,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		queue:   make(chan id.ExecutionID, 1024),
	}
}

// start launches the drain workers; they exit when ctx is cancelled.
func (r *resumer) start(ctx context.Context) {
	for i := 0; i < resumeWorkers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case execID := <-r.queue:
					if err := r.limiter.Wait(ctx); err != nil {
						return
					}
					r.run(ctx, execID)
				}
			}
		}()
	}
}

// wait blocks until all drain workers have exited.
func (r *resumer) wait() {
	r.wg.Wait()
}

// Resume implements callback.Resumer. Enqueueing never blocks the
// settling path; an overflowing queue drops the notification, which is
// safe because a later Run or GetStatus-driven pass converges on the
// same state.
func (r *resumer) Resume(ctx context.Context, execID id.ExecutionID) {
	select {
	case r.queue <- execID:
	default:
		r.logger.WarnContext(ctx, "resume queue full, dropping notification",
			slog.String("execution_id", execID.String()),
		)
	}
}
