package stride

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("stride: no store configured")
	ErrStoreClosed = errors.New("stride: store closed")

	// Not found errors.
	ErrExecutionNotFound = errors.New("stride: execution not found")
	ErrStepNotFound      = errors.New("stride: step record not found")
	ErrCallbackNotFound  = errors.New("stride: callback not found")
	ErrWorkflowNotFound  = errors.New("stride: no workflow registered")

	// Conflict errors.
	ErrExecutionExists = errors.New("stride: execution already exists")

	// ErrStepCommitted is returned by the store's conditional commit when
	// a succeeded record already exists for the step. Callers must adopt
	// the committed result instead of overwriting it.
	ErrStepCommitted = errors.New("stride: step result already committed")

	// State errors.
	ErrExecutionTerminal  = errors.New("stride: execution is in a terminal state")
	ErrExecutionCancelled = errors.New("stride: execution cancelled")
	ErrExecutionTimeout   = errors.New("stride: execution timeout exceeded")
	ErrMaxAttemptsReached = errors.New("stride: max attempts reached")

	// Callback errors. A resolve or heartbeat racing the expiry sweep
	// loses to whichever terminal transition committed first.
	ErrCallbackResolved = errors.New("stride: callback already resolved")
	ErrCallbackExpired  = errors.New("stride: callback already expired")
	ErrCallbackTimeout  = errors.New("stride: callback timed out")
)
