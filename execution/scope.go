package execution

import (
	"fmt"

	"github.com/stridehq/stride/codec"
	"github.com/stridehq/stride/id"
)

// Scope is what a step body sees of its execution: the workflow input
// and the committed results of prior steps. Scopes are rebuilt from the
// store on every coordinator pass, so bodies observe identical values
// across replays.
type Scope struct {
	execID   id.ExecutionID
	workflow string
	input    []byte
	results  map[string][]byte
	cdc      codec.Codec
}

func newScope(execID id.ExecutionID, workflow string, input []byte, cdc codec.Codec) *Scope {
	return &Scope{
		execID:   execID,
		workflow: workflow,
		input:    input,
		results:  make(map[string][]byte),
		cdc:      cdc,
	}
}

// ExecutionID returns the owning execution's id.
func (sc *Scope) ExecutionID() id.ExecutionID { return sc.execID }

// Workflow returns the workflow name.
func (sc *Scope) Workflow() string { return sc.workflow }

// Input returns the raw workflow input.
func (sc *Scope) Input() []byte { return sc.input }

// Result returns the committed result of a prior step, or false if the
// step has not succeeded yet (or does not exist).
func (sc *Scope) Result(step string) ([]byte, bool) {
	r, ok := sc.results[step]
	return r, ok
}

func (sc *Scope) setResult(step string, result []byte) {
	sc.results[step] = result
}

// InputAs decodes the workflow input into out using the scope's codec.
func (sc *Scope) InputAs(out any) error {
	if len(sc.input) == 0 {
		return nil
	}
	if err := sc.cdc.Unmarshal(sc.input, out); err != nil {
		return fmt.Errorf("execution: decode input: %w", err)
	}
	return nil
}

// ResultAs decodes a prior step's committed result into out.
func (sc *Scope) ResultAs(step string, out any) error {
	r, ok := sc.results[step]
	if !ok {
		return fmt.Errorf("execution: %w: %s", ErrNoResult, step)
	}
	if len(r) == 0 {
		return nil
	}
	if err := sc.cdc.Unmarshal(r, out); err != nil {
		return fmt.Errorf("execution: decode result of %s: %w", step, err)
	}
	return nil
}

// ResultOf decodes a prior step's result into a value of type T. It is
// the typed companion to Scope.ResultAs.
func ResultOf[T any](sc *Scope, step string) (T, error) {
	var out T
	err := sc.ResultAs(step, &out)
	return out, err
}

// InputOf decodes the workflow input into a value of type T.
func InputOf[T any](sc *Scope) (T, error) {
	var out T
	err := sc.InputAs(&out)
	return out, err
}
