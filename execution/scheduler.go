package execution

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// scheduler fans a branch group's steps out to concurrent attempt loops
// and fans their outcomes back in. Commits happen after every branch
// has settled, in the group's declared order, so the checkpoint log is
// deterministic regardless of completion order.
type scheduler struct {
	inv *Invoker

	// concurrency bounds simultaneous branch bodies; zero or negative
	// means unbounded.
	concurrency int
}

// run executes the group and returns the failed non-best-effort record
// that decided the group's outcome, or nil if the group succeeded.
// Succeeded results are published to the scope.
//
// The first branch to fail terminally closes the group's quit channel:
// siblings see a cooperative context cancellation, stop their retry
// waits, and settle with whatever error they have. Every branch still
// settles before anything is committed, in declared order.
//
// An error return means at least one branch hit an infrastructure or
// context failure before settling; settled siblings keep any commits
// already made on previous passes, but this pass commits nothing.
func (s *scheduler) run(ctx context.Context, exec *Execution, sc *Scope, br *Branch) (*StepRecord, error) {
	settled := make([]*StepRecord, len(br.Steps))
	quit := make(chan struct{})
	var abortOnce sync.Once
	var abortName string

	g, gctx := errgroup.WithContext(ctx)
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for i, step := range br.Steps {
		g.Go(func() error {
			rec, err := s.inv.invoke(gctx, exec, sc, step, quit)
			if err != nil {
				return err
			}
			if rec.Status == StepFailed && !step.BestEffort {
				abortOnce.Do(func() {
					abortName = rec.Name
					close(quit)
				})
			}
			settled[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Declared-order commits.
	for i, rec := range settled {
		committed, err := s.inv.Commit(ctx, exec, rec)
		if err != nil {
			return nil, err
		}
		settled[i] = committed
	}

	// The failure that pulled the trigger is the group's outcome, not a
	// sibling that was merely told to stand down.
	var failed *StepRecord
	for i, rec := range settled {
		if rec.Status == StepSucceeded {
			sc.setResult(rec.Name, rec.Result)
			continue
		}
		if br.Steps[i].BestEffort {
			continue
		}
		if failed == nil || rec.Name == abortName {
			failed = rec
		}
	}
	return failed, nil
}
