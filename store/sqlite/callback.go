package sqlite

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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stride_callbacks (
			id, execution_id, step, kind, status, payload, error,
			expires_at, settled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cb.ID, cb.ExecutionID, cb.Step, cb.Kind, cb.Status,
		cb.Payload, cb.Error, fmtTime(cb.ExpiresAt),
		fmtTimeZero(cb.SettledAt), fmtTime(cb.CreatedAt), fmtTime(cb.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("stride/sqlite: create callback: %w", err)
	}
	return nil
}

// GetCallback retrieves a callback by ID.
func (s *Store) GetCallback(ctx context.Context, cbID id.CallbackID) (*callback.Callback, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+callbackColumns+` FROM stride_callbacks WHERE id = ?`,
		cbID,
	)
	cb, err := scanCallback(row)
	if err != nil {
		if isNoRows(err) {
			return nil, stride.ErrCallbackNotFound
		}
		return nil, fmt.Errorf("stride/sqlite: get callback: %w", err)
	}
	return cb, nil
}

// SettleCallback writes cb's terminal status, but only if the stored
// status is still waiting. Zero affected rows means another writer
// settled first; the returned error reflects the stored outcome.
func (s *Store) SettleCallback(ctx context.Context, cb *callback.Callback) error {
	cb.Touch()
	res, err := s.db.ExecContext(ctx, `
		UPDATE stride_callbacks SET
			status = ?, payload = ?, error = ?, settled_at = ?, updated_at = ?
		WHERE id = ? AND status = 'waiting'`,
		cb.Status, cb.Payload, cb.Error,
		fmtTimeZero(cb.SettledAt), fmtTime(cb.UpdatedAt), cb.ID,
	)
	if err != nil {
		return fmt.Errorf("stride/sqlite: settle callback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.settledError(ctx, cb.ID)
	}
	return nil
}

// ExtendCallback pushes a waiting callback's expiry forward.
func (s *Store) ExtendCallback(ctx context.Context, cbID id.CallbackID, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stride_callbacks SET expires_at = ?, updated_at = ?
		WHERE id = ? AND status = 'waiting'`,
		fmtTime(expiresAt), fmtTime(time.Now().UTC()), cbID,
	)
	if err != nil {
		return fmt.Errorf("stride/sqlite: extend callback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.settledError(ctx, cbID)
	}
	return nil
}

// settledError maps a refused conditional write to the sentinel that
// matches the callback's stored state.
func (s *Store) settledError(ctx context.Context, cbID id.CallbackID) error {
	stored, err := s.GetCallback(ctx, cbID)
	if err != nil {
		return err
	}
	if stored.Status == callback.StatusExpired {
		return stride.ErrCallbackExpired
	}
	return stride.ErrCallbackResolved
}

// ListCallbacks returns all callbacks for an execution, oldest first.
func (s *Store) ListCallbacks(ctx context.Context, execID id.ExecutionID) ([]*callback.Callback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+callbackColumns+` FROM stride_callbacks
		 WHERE execution_id = ? ORDER BY created_at ASC`,
		execID,
	)
	if err != nil {
		return nil, fmt.Errorf("stride/sqlite: list callbacks: %w", err)
	}
	defer rows.Close()

	var cbs []*callback.Callback
	for rows.Next() {
		cb, scanErr := scanCallback(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("stride/sqlite: list callbacks: %w", scanErr)
		}
		cbs = append(cbs, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stride/sqlite: list callbacks: %w", err)
	}
	return cbs, nil
}

// ListExpiredCallbacks returns up to limit waiting callbacks whose
// expiry is at or before now, oldest expiry first.
func (s *Store) ListExpiredCallbacks(ctx context.Context, now time.Time, limit int) ([]*callback.Callback, error) {
	query := `SELECT ` + callbackColumns + ` FROM stride_callbacks
		WHERE status = 'waiting' AND expires_at <= ?
		ORDER BY expires_at ASC`
	args := []any{fmtTime(now)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stride/sqlite: list expired callbacks: %w", err)
	}
	defer rows.Close()

	var cbs []*callback.Callback
	for rows.Next() {
		cb, scanErr := scanCallback(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("stride/sqlite: list expired callbacks: %w", scanErr)
		}
		cbs = append(cbs, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stride/sqlite: list expired callbacks: %w", err)
	}
	return cbs, nil
}
