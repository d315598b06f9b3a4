package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/id"
)

// CreateExecution persists a new execution header.
func (s *Store) CreateExecution(ctx context.Context, exec *execution.Execution) error {
	m := toExecutionModel(exec)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return stride.ErrExecutionExists
		}
		return fmt.Errorf("stride/bun: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	m := new(executionModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", execID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stride.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("stride/bun: get execution: %w", err)
	}
	return fromExecutionModel(m)
}

// UpdateExecution persists changes to an existing execution header.
func (s *Store) UpdateExecution(ctx context.Context, exec *execution.Execution) error {
	m := toExecutionModel(exec)
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().Model(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stride/bun: update execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stride/bun: update execution rows: %w", err)
	}
	if affected == 0 {
		return stride.ErrExecutionNotFound
	}
	return nil
}

// ListExecutions returns executions matching the given options, newest
// first.
func (s *Store) ListExecutions(ctx context.Context, opts execution.ListOpts) ([]*execution.Execution, error) {
	var models []executionModel
	q := s.db.NewSelect().Model(&models).
		Order("started_at DESC")
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("stride/bun: list executions: %w", err)
	}

	execs := make([]*execution.Execution, 0, len(models))
	for i := range models {
		e, convErr := fromExecutionModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		execs = append(execs, e)
	}
	return execs, nil
}

// PutStepRecord upserts the transient state of a step record. The ON
// CONFLICT guard refuses to regress a committed record.
func (s *Store) PutStepRecord(ctx context.Context, rec *execution.StepRecord) error {
	return s.writeRecord(ctx, rec, "put step record")
}

// CommitStep conditionally writes a terminal step outcome. The guarded
// upsert decides the race: the first succeeded write wins, later
// writers get stride.ErrStepCommitted.
func (s *Store) CommitStep(ctx context.Context, rec *execution.StepRecord) error {
	return s.writeRecord(ctx, rec, "commit step")
}

func (s *Store) writeRecord(ctx context.Context, rec *execution.StepRecord, op string) error {
	m := toStepRecordModel(rec)
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewInsert().Model(m).
		On("CONFLICT (execution_id, name) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("result = EXCLUDED.result").
		Set("error = EXCLUDED.error").
		Set("attempts = EXCLUDED.attempts").
		Set("started_at = EXCLUDED.started_at").
		Set("completed_at = EXCLUDED.completed_at").
		Set("updated_at = EXCLUDED.updated_at").
		Where("stride_step_records.status <> 'succeeded'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stride/bun: %s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stride/bun: %s rows: %w", op, err)
	}
	if affected == 0 {
		return stride.ErrStepCommitted
	}
	return nil
}

// GetStepRecord retrieves the record for a named step.
func (s *Store) GetStepRecord(ctx context.Context, execID id.ExecutionID, name string) (*execution.StepRecord, error) {
	m := new(stepRecordModel)
	err := s.db.NewSelect().Model(m).
		Where("execution_id = ?", execID.String()).
		Where("name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stride.ErrStepNotFound
		}
		return nil, fmt.Errorf("stride/bun: get step record: %w", err)
	}
	return fromStepRecordModel(m)
}

// ListStepRecords returns all step records for an execution ordered by
// sequence number.
func (s *Store) ListStepRecords(ctx context.Context, execID id.ExecutionID) ([]*execution.StepRecord, error) {
	var models []stepRecordModel
	err := s.db.NewSelect().Model(&models).
		Where("execution_id = ?", execID.String()).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("stride/bun: list step records: %w", err)
	}

	recs := make([]*execution.StepRecord, 0, len(models))
	for i := range models {
		r, convErr := fromStepRecordModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// PurgeExpired deletes terminal executions past retention, cascading to
// their step records and callbacks in one transaction.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("stride/bun: purge begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var purgedIDs []string
	err = tx.NewRaw(`
		DELETE FROM stride_executions
		WHERE status IN ('succeeded', 'failed', 'cancelled')
		  AND retain_until IS NOT NULL
		  AND retain_until <= ?
		RETURNING id`, now,
	).Scan(ctx, &purgedIDs)
	if err != nil {
		return 0, fmt.Errorf("stride/bun: purge executions: %w", err)
	}
	if len(purgedIDs) == 0 {
		return 0, tx.Commit()
	}

	if _, err := tx.NewDelete().Model((*stepRecordModel)(nil)).
		Where("execution_id IN (?)", bun.In(purgedIDs)).
		Exec(ctx); err != nil {
		return 0, fmt.Errorf("stride/bun: purge step records: %w", err)
	}
	if _, err := tx.NewDelete().Model((*callbackModel)(nil)).
		Where("execution_id IN (?)", bun.In(purgedIDs)).
		Exec(ctx); err != nil {
		return 0, fmt.Errorf("stride/bun: purge callbacks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("stride/bun: purge commit: %w", err)
	}
	return len(purgedIDs), nil
}
