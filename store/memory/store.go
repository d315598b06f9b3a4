// Package memory provides a fully in-memory store. Safe for concurrent
// access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/id"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ execution.Store = (*Store)(nil)
	_ callback.Store  = (*Store)(nil)
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	executions map[string]*execution.Execution
	records    map[string]*execution.StepRecord // key: "execID:stepName"
	callbacks  map[string]*callback.Callback
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		executions: make(map[string]*execution.Execution),
		records:    make(map[string]*execution.StepRecord),
		callbacks:  make(map[string]*callback.Callback),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

func recordKey(execID id.ExecutionID, name string) string {
	return execID.String() + ":" + name
}

// ──────────────────────────────────────────────────
// Execution Store
// ──────────────────────────────────────────────────

// CreateExecution persists a new execution header.
func (m *Store) CreateExecution(_ context.Context, exec *execution.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := exec.ID.String()
	if _, exists := m.executions[key]; exists {
		return stride.ErrExecutionExists
	}
	cp := *exec
	m.executions[key] = &cp
	return nil
}

// GetExecution retrieves an execution by ID.
func (m *Store) GetExecution(_ context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exec, ok := m.executions[execID.String()]
	if !ok {
		return nil, stride.ErrExecutionNotFound
	}
	cp := *exec
	return &cp, nil
}

// UpdateExecution persists changes to an existing execution header.
func (m *Store) UpdateExecution(_ context.Context, exec *execution.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := exec.ID.String()
	if _, ok := m.executions[key]; !ok {
		return stride.ErrExecutionNotFound
	}
	cp := *exec
	m.executions[key] = &cp
	return nil
}

// ListExecutions returns executions matching opts, newest first.
func (m *Store) ListExecutions(_ context.Context, opts execution.ListOpts) ([]*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*execution.Execution, 0, len(m.executions))
	for _, exec := range m.executions {
		if opts.Status != "" && exec.Status != opts.Status {
			continue
		}
		cp := *exec
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// PutStepRecord upserts the transient state of a step record. A record
// already succeeded refuses the write with stride.ErrStepCommitted.
func (m *Store) PutStepRecord(_ context.Context, rec *execution.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey(rec.ExecutionID, rec.Name)
	if existing, ok := m.records[key]; ok && existing.Status == execution.StepSucceeded {
		return stride.ErrStepCommitted
	}
	cp := *rec
	m.records[key] = &cp
	return nil
}

// CommitStep conditionally writes a terminal step outcome.
func (m *Store) CommitStep(_ context.Context, rec *execution.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey(rec.ExecutionID, rec.Name)
	if existing, ok := m.records[key]; ok && existing.Status == execution.StepSucceeded {
		return stride.ErrStepCommitted
	}
	cp := *rec
	m.records[key] = &cp
	return nil
}

// GetStepRecord retrieves the record for a named step.
func (m *Store) GetStepRecord(_ context.Context, execID id.ExecutionID, name string) (*execution.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[recordKey(execID, name)]
	if !ok {
		return nil, stride.ErrStepNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListStepRecords returns all step records for an execution ordered by
// sequence number.
func (m *Store) ListStepRecords(_ context.Context, execID id.ExecutionID) ([]*execution.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := execID.String()
	recs := make([]*execution.StepRecord, 0)
	for _, rec := range m.records {
		if rec.ExecutionID.String() != prefix {
			continue
		}
		cp := *rec
		recs = append(recs, &cp)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	return recs, nil
}

// PurgeExpired deletes terminal executions past retention, cascading to
// their step records and callbacks.
func (m *Store) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for key, exec := range m.executions {
		if !exec.Status.Terminal() || exec.RetainUntil == nil || exec.RetainUntil.After(now) {
			continue
		}
		delete(m.executions, key)
		purged++

		for rkey, rec := range m.records {
			if rec.ExecutionID.String() == key {
				delete(m.records, rkey)
			}
		}
		for ckey, cb := range m.callbacks {
			if cb.ExecutionID.String() == key {
				delete(m.callbacks, ckey)
			}
		}
	}
	return purged, nil
}

// ──────────────────────────────────────────────────
// Callback Store
// ──────────────────────────────────────────────────

// CreateCallback persists a new waiting callback.
func (m *Store) CreateCallback(_ context.Context, cb *callback.Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *cb
	m.callbacks[cb.ID.String()] = &cp
	return nil
}

// GetCallback retrieves a callback by ID.
func (m *Store) GetCallback(_ context.Context, cbID id.CallbackID) (*callback.Callback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cb, ok := m.callbacks[cbID.String()]
	if !ok {
		return nil, stride.ErrCallbackNotFound
	}
	cp := *cb
	return &cp, nil
}

// SettleCallback conditionally transitions a waiting callback to cb's
// terminal status.
func (m *Store) SettleCallback(_ context.Context, cb *callback.Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.callbacks[cb.ID.String()]
	if !ok {
		return stride.ErrCallbackNotFound
	}
	if err := settledErr(existing.Status); err != nil {
		return err
	}
	cp := *cb
	m.callbacks[cb.ID.String()] = &cp
	return nil
}

// ExtendCallback pushes a waiting callback's expiry forward.
func (m *Store) ExtendCallback(_ context.Context, cbID id.CallbackID, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.callbacks[cbID.String()]
	if !ok {
		return stride.ErrCallbackNotFound
	}
	if err := settledErr(existing.Status); err != nil {
		return err
	}
	existing.ExpiresAt = expiresAt
	existing.Touch()
	return nil
}

// ListExpiredCallbacks returns up to limit waiting callbacks expired at
// now, oldest expiry first.
func (m *Store) ListExpiredCallbacks(_ context.Context, now time.Time, limit int) ([]*callback.Callback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	expired := make([]*callback.Callback, 0)
	for _, cb := range m.callbacks {
		if cb.Status != callback.StatusWaiting || cb.ExpiresAt.After(now) {
			continue
		}
		cp := *cb
		expired = append(expired, &cp)
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// ListCallbacks returns all callbacks for an execution, oldest first.
func (m *Store) ListCallbacks(_ context.Context, execID id.ExecutionID) ([]*callback.Callback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := execID.String()
	cbs := make([]*callback.Callback, 0)
	for _, cb := range m.callbacks {
		if cb.ExecutionID.String() != key {
			continue
		}
		cp := *cb
		cbs = append(cbs, &cp)
	}
	sort.Slice(cbs, func(i, j int) bool {
		return cbs[i].CreatedAt.Before(cbs[j].CreatedAt)
	})
	return cbs, nil
}

func settledErr(s callback.Status) error {
	switch s {
	case callback.StatusWaiting:
		return nil
	case callback.StatusExpired:
		return stride.ErrCallbackExpired
	default:
		return stride.ErrCallbackResolved
	}
}
