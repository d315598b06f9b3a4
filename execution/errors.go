package execution

import (
	"errors"

	"github.com/stridehq/stride"
)

// ErrNoResult is returned by Scope.ResultAs when the named step has no
// committed result in the current pass, either because it has not run
// yet or because it was not declared before the caller.
var ErrNoResult = errors.New("no committed result for step")

func isNotFound(err error) bool {
	return errors.Is(err, stride.ErrStepNotFound)
}

func isCommitted(err error) bool {
	return errors.Is(err, stride.ErrStepCommitted)
}
