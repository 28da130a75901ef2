package engine

import (
	"errors"
	"fmt"
	"strings"

	"flowstudio/internal/capability"
)

var (
	ErrMalformedGraph = errors.New("malformed graph")
	ErrCyclicGraph    = errors.New("cyclic graph")
	ErrCancelled      = errors.New("execution cancelled")

	ErrUnsupportedOperation = capability.ErrUnsupportedOperation
	ErrAdapterFailure       = capability.ErrAdapterFailure
)

// GraphError is a structural problem found before any node runs. It lists
// every problem and matches its Kind with errors.Is.
type GraphError struct {
	Kind     error
	Problems []string
}

func (e *GraphError) Error() string {
	if len(e.Problems) == 0 {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, strings.Join(e.Problems, "; "))
}

func (e *GraphError) Unwrap() error { return e.Kind }

// IsStructural reports whether err rejected the workflow before execution.
func IsStructural(err error) bool {
	return errors.Is(err, ErrMalformedGraph) || errors.Is(err, ErrCyclicGraph)
}
