package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/id"
)

// ── Execution model ───────────────────────────────────────────────

type executionModel struct {
	bun.BaseModel `bun:"table:stride_executions"`

	ID                string     `bun:"id,pk"`
	Workflow          string     `bun:"workflow,notnull"`
	Status            string     `bun:"status,notnull,default:'running'"`
	Input             []byte     `bun:"input,type:bytea"`
	Result            []byte     `bun:"result,type:bytea"`
	Error             string     `bun:"error"`
	FailedStep        string     `bun:"failed_step"`
	AttemptsOnFailure int        `bun:"attempts_on_failure,notnull,default:0"`
	WaitingStep       string     `bun:"waiting_step"`
	CallbackID        string     `bun:"callback_id"`
	WakeAt            *time.Time `bun:"wake_at"`
	CancelRequested   bool       `bun:"cancel_requested,notnull,default:false"`
	StartedAt         time.Time  `bun:"started_at,notnull"`
	Deadline          time.Time  `bun:"deadline,notnull"`
	CompletedAt       *time.Time `bun:"completed_at"`
	RetainUntil       *time.Time `bun:"retain_until"`
	CreatedAt         time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toExecutionModel(e *execution.Execution) *executionModel {
	m := &executionModel{
		ID:                e.ID.String(),
		Workflow:          e.Workflow,
		Status:            string(e.Status),
		Input:             e.Input,
		Result:            e.Result,
		Error:             e.Error,
		FailedStep:        e.FailedStep,
		AttemptsOnFailure: e.AttemptsOnFailure,
		WaitingStep:       e.WaitingStep,
		WakeAt:            e.WakeAt,
		CancelRequested:   e.CancelRequested,
		StartedAt:         e.StartedAt,
		Deadline:          e.Deadline,
		CompletedAt:       e.CompletedAt,
		RetainUntil:       e.RetainUntil,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
	if !e.CallbackID.IsNil() {
		m.CallbackID = e.CallbackID.String()
	}
	return m
}

func fromExecutionModel(m *executionModel) (*execution.Execution, error) {
	parsedID, err := id.ParseExecutionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("stride/bun: parse execution id %q: %w", m.ID, err)
	}

	e := &execution.Execution{
		Entity: stride.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                parsedID,
		Workflow:          m.Workflow,
		Status:            execution.Status(m.Status),
		Input:             m.Input,
		Result:            m.Result,
		Error:             m.Error,
		FailedStep:        m.FailedStep,
		AttemptsOnFailure: m.AttemptsOnFailure,
		WaitingStep:       m.WaitingStep,
		WakeAt:            m.WakeAt,
		CancelRequested:   m.CancelRequested,
		StartedAt:         m.StartedAt,
		Deadline:          m.Deadline,
		CompletedAt:       m.CompletedAt,
		RetainUntil:       m.RetainUntil,
	}
	if m.CallbackID != "" {
		cbID, cbErr := id.ParseCallbackID(m.CallbackID)
		if cbErr != nil {
			return nil, fmt.Errorf("stride/bun: parse callback id %q: %w", m.CallbackID, cbErr)
		}
		e.CallbackID = cbID
	}
	return e, nil
}

// ── Step record model ─────────────────────────────────────────────

type stepRecordModel struct {
	bun.BaseModel `bun:"table:stride_step_records"`

	ID          string     `bun:"id,notnull"`
	ExecutionID string     `bun:"execution_id,pk"`
	Name        string     `bun:"name,pk"`
	Seq         int        `bun:"seq,notnull,default:0"`
	Status      string     `bun:"status,notnull,default:'pending'"`
	Result      []byte     `bun:"result,type:bytea"`
	Error       string     `bun:"error"`
	Attempts    int        `bun:"attempts,notnull,default:0"`
	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toStepRecordModel(r *execution.StepRecord) *stepRecordModel {
	return &stepRecordModel{
		ID:          r.ID.String(),
		ExecutionID: r.ExecutionID.String(),
		Name:        r.Name,
		Seq:         r.Seq,
		Status:      string(r.Status),
		Result:      r.Result,
		Error:       r.Error,
		Attempts:    r.Attempts,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func fromStepRecordModel(m *stepRecordModel) (*execution.StepRecord, error) {
	recID, err := id.ParseStepID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("stride/bun: parse step id %q: %w", m.ID, err)
	}
	execID, err := id.ParseExecutionID(m.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("stride/bun: parse execution id %q: %w", m.ExecutionID, err)
	}

	return &execution.StepRecord{
		Entity: stride.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          recID,
		ExecutionID: execID,
		Name:        m.Name,
		Seq:         m.Seq,
		Status:      execution.StepStatus(m.Status),
		Result:      m.Result,
		Error:       m.Error,
		Attempts:    m.Attempts,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}, nil
}

// ── Callback model ────────────────────────────────────────────────

type callbackModel struct {
	bun.BaseModel `bun:"table:stride_callbacks"`

	ID          string     `bun:"id,pk"`
	ExecutionID string     `bun:"execution_id,notnull"`
	Step        string     `bun:"step,notnull"`
	Kind        string     `bun:"kind,notnull,default:'signal'"`
	Status      string     `bun:"status,notnull,default:'waiting'"`
	Payload     []byte     `bun:"payload,type:bytea"`
	Error       string     `bun:"error"`
	ExpiresAt   time.Time  `bun:"expires_at,notnull"`
	SettledAt   *time.Time `bun:"settled_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toCallbackModel(cb *callback.Callback) *callbackModel {
	m := &callbackModel{
		ID:          cb.ID.String(),
		ExecutionID: cb.ExecutionID.String(),
		Step:        cb.Step,
		Kind:        string(cb.Kind),
		Status:      string(cb.Status),
		Payload:     cb.Payload,
		Error:       cb.Error,
		ExpiresAt:   cb.ExpiresAt,
		CreatedAt:   cb.CreatedAt,
		UpdatedAt:   cb.UpdatedAt,
	}
	if !cb.SettledAt.IsZero() {
		settled := cb.SettledAt
		m.SettledAt = &settled
	}
	return m
}

func fromCallbackModel(m *callbackModel) (*callback.Callback, error) {
	cbID, err := id.ParseCallbackID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("stride/bun: parse callback id %q: %w", m.ID, err)
	}
	execID, err := id.ParseExecutionID(m.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("stride/bun: parse execution id %q: %w", m.ExecutionID, err)
	}

	cb := &callback.Callback{
		Entity: stride.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          cbID,
		ExecutionID: execID,
		Step:        m.Step,
		Kind:        callback.Kind(m.Kind),
		Status:      callback.Status(m.Status),
		Payload:     m.Payload,
		Error:       m.Error,
		ExpiresAt:   m.ExpiresAt,
	}
	if m.SettledAt != nil {
		cb.SettledAt = *m.SettledAt
	}
	return cb, nil
}
