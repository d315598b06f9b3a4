package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/id"
)

// CreateCallback persists a new waiting callback.
func (s *Store) CreateCallback(ctx context.Context, cb *callback.Callback) error {
	m := toCallbackModel(cb)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("stride/bun: create callback: %w", err)
	}
	return nil
}

// GetCallback retrieves a callback by ID.
func (s *Store) GetCallback(ctx context.Context, cbID id.CallbackID) (*callback.Callback, error) {
	m := new(callbackModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", cbID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stride.ErrCallbackNotFound
		}
		return nil, fmt.Errorf("stride/bun: get callback: %w", err)
	}
	return fromCallbackModel(m)
}

// SettleCallback conditionally writes cb's terminal state. The guarded
// UPDATE only matches while the stored status is waiting, so exactly
// one settlement wins.
func (s *Store) SettleCallback(ctx context.Context, cb *callback.Callback) error {
	m := toCallbackModel(cb)
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().Model(m).
		Column("status", "payload", "error", "settled_at", "updated_at").
		WherePK().
		Where("status = 'waiting'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stride/bun: settle callback: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stride/bun: settle callback rows: %w", err)
	}
	if affected == 0 {
		return s.settledError(ctx, cb.ID)
	}
	return nil
}

// ExtendCallback pushes a waiting callback's expiry forward.
func (s *Store) ExtendCallback(ctx context.Context, cbID id.CallbackID, expiresAt time.Time) error {
	res, err := s.db.NewUpdate().Model((*callbackModel)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", cbID.String()).
		Where("status = 'waiting'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stride/bun: extend callback: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stride/bun: extend callback rows: %w", err)
	}
	if affected == 0 {
		return s.settledError(ctx, cbID)
	}
	return nil
}

// settledError reports why a conditional callback write matched nothing.
func (s *Store) settledError(ctx context.Context, cbID id.CallbackID) error {
	existing, err := s.GetCallback(ctx, cbID)
	if err != nil {
		return err
	}
	if existing.Status == callback.StatusExpired {
		return stride.ErrCallbackExpired
	}
	return stride.ErrCallbackResolved
}

// ListExpiredCallbacks returns up to limit waiting callbacks expired at
// now, oldest expiry first.
func (s *Store) ListExpiredCallbacks(ctx context.Context, now time.Time, limit int) ([]*callback.Callback, error) {
	var models []callbackModel
	q := s.db.NewSelect().Model(&models).
		Where("status = 'waiting'").
		Where("expires_at <= ?", now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("stride/bun: list expired callbacks: %w", err)
	}

	cbs := make([]*callback.Callback, 0, len(models))
	for i := range models {
		cb, convErr := fromCallbackModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		cbs = append(cbs, cb)
	}
	return cbs, nil
}

// ListCallbacks returns all callbacks for an execution, oldest first.
func (s *Store) ListCallbacks(ctx context.Context, execID id.ExecutionID) ([]*callback.Callback, error) {
	var models []callbackModel
	err := s.db.NewSelect().Model(&models).
		Where("execution_id = ?", execID.String()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("stride/bun: list callbacks: %w", err)
	}

	cbs := make([]*callback.Callback, 0, len(models))
	for i := range models {
		cb, convErr := fromCallbackModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		cbs = append(cbs, cb)
	}
	return cbs, nil
}
