package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/id"
)

// CreateExecution persists a new execution header.
func (s *Store) CreateExecution(ctx context.Context, exec *execution.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stride_executions (
			id, workflow, status, input, result, error,
			failed_step, attempts_on_failure, waiting_step, callback_id,
			wake_at, cancel_requested, started_at, deadline, completed_at,
			retain_until, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.Workflow, exec.Status, exec.Input, exec.Result,
		exec.Error, exec.FailedStep, exec.AttemptsOnFailure,
		exec.WaitingStep, exec.CallbackID.String(), fmtTimePtr(exec.WakeAt),
		exec.CancelRequested, fmtTime(exec.StartedAt), fmtTime(exec.Deadline),
		fmtTimePtr(exec.CompletedAt), fmtTimePtr(exec.RetainUntil),
		fmtTime(exec.CreatedAt), fmtTime(exec.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stride.ErrExecutionExists
		}
		return fmt.Errorf("stride/sqlite: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM stride_executions WHERE id = ?`,
		execID,
	)
	exec, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, stride.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("stride/sqlite: get execution: %w", err)
	}
	return exec, nil
}

// UpdateExecution persists changes to an existing execution header.
func (s *Store) UpdateExecution(ctx context.Context, exec *execution.Execution) error {
	exec.Touch()
	res, err := s.db.ExecContext(ctx, `
		UPDATE stride_executions SET
			status = ?, result = ?, error = ?, failed_step = ?,
			attempts_on_failure = ?, waiting_step = ?, callback_id = ?,
			wake_at = ?, cancel_requested = ?, completed_at = ?,
			retain_until = ?, updated_at = ?
		WHERE id = ?`,
		exec.Status, exec.Result, exec.Error, exec.FailedStep,
		exec.AttemptsOnFailure, exec.WaitingStep, exec.CallbackID.String(),
		fmtTimePtr(exec.WakeAt), exec.CancelRequested,
		fmtTimePtr(exec.CompletedAt), fmtTimePtr(exec.RetainUntil),
		fmtTime(exec.UpdatedAt), exec.ID,
	)
	if err != nil {
		return fmt.Errorf("stride/sqlite: update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return stride.ErrExecutionNotFound
	}
	return nil
}

// ListExecutions returns executions matching the given options, newest
// first.
func (s *Store) ListExecutions(ctx context.Context, opts execution.ListOpts) ([]*execution.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM stride_executions`
	args := []any{}
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, opts.Status)
	}
	query += ` ORDER BY started_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		// SQLite requires LIMIT before OFFSET.
		query += ` LIMIT -1`
	}
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stride/sqlite: list executions: %w", err)
	}
	defer rows.Close()

	var execs []*execution.Execution
	for rows.Next() {
		exec, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("stride/sqlite: list executions: %w", scanErr)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stride/sqlite: list executions: %w", err)
	}
	return execs, nil
}

// writeRecord upserts a step record, refusing to overwrite a succeeded
// one. The WHERE clause on DO UPDATE makes the guard atomic: zero
// affected rows means a succeeded record already holds the slot.
func (s *Store) writeRecord(ctx context.Context, rec *execution.StepRecord) error {
	rec.Touch()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stride_step_records (
			id, execution_id, name, seq, status, result, error, attempts,
			started_at, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id, name) DO UPDATE SET
			id = excluded.id,
			seq = excluded.seq,
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			attempts = excluded.attempts,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
		WHERE stride_step_records.status <> 'succeeded'`,
		rec.ID, rec.ExecutionID, rec.Name, rec.Seq, rec.Status,
		rec.Result, rec.Error, rec.Attempts,
		fmtTimePtr(rec.StartedAt), fmtTimePtr(rec.CompletedAt),
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("stride/sqlite: write step record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return stride.ErrStepCommitted
	}
	return nil
}

// PutStepRecord upserts the transient state of a step record.
func (s *Store) PutStepRecord(ctx context.Context, rec *execution.StepRecord) error {
	return s.writeRecord(ctx, rec)
}

// CommitStep conditionally writes a terminal step outcome.
func (s *Store) CommitStep(ctx context.Context, rec *execution.StepRecord) error {
	return s.writeRecord(ctx, rec)
}

// GetStepRecord retrieves the record for a named step.
func (s *Store) GetStepRecord(ctx context.Context, execID id.ExecutionID, name string) (*execution.StepRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stepRecordColumns+` FROM stride_step_records
		 WHERE execution_id = ? AND name = ?`,
		execID, name,
	)
	rec, err := scanStepRecord(row)
	if err != nil {
		if isNoRows(err) {
			return nil, stride.ErrStepNotFound
		}
		return nil, fmt.Errorf("stride/sqlite: get step record: %w", err)
	}
	return rec, nil
}

// ListStepRecords returns all step records for an execution ordered by
// sequence number.
func (s *Store) ListStepRecords(ctx context.Context, execID id.ExecutionID) ([]*execution.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepRecordColumns+` FROM stride_step_records
		 WHERE execution_id = ? ORDER BY seq ASC`,
		execID,
	)
	if err != nil {
		return nil, fmt.Errorf("stride/sqlite: list step records: %w", err)
	}
	defer rows.Close()

	var recs []*execution.StepRecord
	for rows.Next() {
		rec, scanErr := scanStepRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("stride/sqlite: list step records: %w", scanErr)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stride/sqlite: list step records: %w", err)
	}
	return recs, nil
}

// PurgeExpired deletes terminal executions past retention along with
// their step records and callbacks.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("stride/sqlite: purge expired: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	rows, err := tx.QueryContext(ctx, `
		DELETE FROM stride_executions
		WHERE retain_until IS NOT NULL AND retain_until <= ?
		RETURNING id`,
		fmtTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("stride/sqlite: purge executions: %w", err)
	}

	var purged []string
	for rows.Next() {
		var execID string
		if scanErr := rows.Scan(&execID); scanErr != nil {
			rows.Close()
			return 0, fmt.Errorf("stride/sqlite: purge executions: %w", scanErr)
		}
		purged = append(purged, execID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("stride/sqlite: purge executions: %w", err)
	}
	rows.Close()

	if len(purged) == 0 {
		return 0, tx.Commit()
	}

	for _, execID := range purged {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM stride_step_records WHERE execution_id = ?`, execID,
		); err != nil {
			return 0, fmt.Errorf("stride/sqlite: purge step records: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM stride_callbacks WHERE execution_id = ?`, execID,
		); err != nil {
			return 0, fmt.Errorf("stride/sqlite: purge callbacks: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("stride/sqlite: purge expired: %w", err)
	}
	return len(purged), nil
}
