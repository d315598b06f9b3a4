package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/id"
)

// Timestamps are stored as RFC 3339 text. SQLite has no native time
// type, and text sorts correctly for the expiry and retention indexes.

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// fmtTimePtr returns nil for absent timestamps so they store as NULL.
func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// fmtTimeZero treats the zero time as absent.
func fmtTimeZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("stride/sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const executionColumns = `id, workflow, status, input, result, error,
	failed_step, attempts_on_failure, waiting_step, callback_id, wake_at,
	cancel_requested, started_at, deadline, completed_at, retain_until,
	created_at, updated_at`

func scanExecution(row rowScanner) (*execution.Execution, error) {
	var (
		exec       execution.Execution
		callbackID sql.NullString

		wakeAt, completedAt, retainUntil      sql.NullString
		startedAt, deadline, created, updated string
	)

	err := row.Scan(
		&exec.ID, &exec.Workflow, &exec.Status, &exec.Input, &exec.Result,
		&exec.Error, &exec.FailedStep, &exec.AttemptsOnFailure,
		&exec.WaitingStep, &callbackID, &wakeAt, &exec.CancelRequested,
		&startedAt, &deadline, &completedAt, &retainUntil,
		&created, &updated,
	)
	if err != nil {
		return nil, err
	}

	if callbackID.Valid && callbackID.String != "" {
		if exec.CallbackID, err = id.Parse(callbackID.String); err != nil {
			return nil, err
		}
	}

	if exec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if exec.Deadline, err = parseTime(deadline); err != nil {
		return nil, err
	}
	if exec.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if exec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if exec.WakeAt, err = parseTimePtr(wakeAt); err != nil {
		return nil, err
	}
	if exec.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if exec.RetainUntil, err = parseTimePtr(retainUntil); err != nil {
		return nil, err
	}

	return &exec, nil
}

const stepRecordColumns = `id, execution_id, name, seq, status, result,
	error, attempts, started_at, completed_at, created_at, updated_at`

func scanStepRecord(row rowScanner) (*execution.StepRecord, error) {
	var (
		rec                    execution.StepRecord
		startedAt, completedAt sql.NullString
		created, updated       string
	)

	err := row.Scan(
		&rec.ID, &rec.ExecutionID, &rec.Name, &rec.Seq, &rec.Status,
		&rec.Result, &rec.Error, &rec.Attempts,
		&startedAt, &completedAt, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	if rec.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if rec.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}

	return &rec, nil
}

const callbackColumns = `id, execution_id, step, kind, status, payload,
	error, expires_at, settled_at, created_at, updated_at`

func scanCallback(row rowScanner) (*callback.Callback, error) {
	var (
		cb                          callback.Callback
		settledAt                   sql.NullString
		expiresAt, created, updated string
	)

	err := row.Scan(
		&cb.ID, &cb.ExecutionID, &cb.Step, &cb.Kind, &cb.Status,
		&cb.Payload, &cb.Error, &expiresAt, &settledAt, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	if cb.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if cb.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if cb.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if settledAt.Valid {
		if cb.SettledAt, err = parseTime(settledAt.String); err != nil {
			return nil, err
		}
	}

	return &cb, nil
}
