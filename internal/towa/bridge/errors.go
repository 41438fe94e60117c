package bridge

import (
	"errors"
	"fmt"

	"github.com/bdobrica/Towa/internal/towa/awx"
)

// Kind is the closed set of failure categories the presenter can render.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindConnection Kind = "connection"
	KindNotFound   Kind = "not_found"
	KindUnknown    Kind = "unknown"
)

// Error is a classified execution failure. It wraps the underlying cause so
// logs keep the full chain while the presenter only ever looks at Kind.
type Error struct {
	Kind      Kind
	Operation string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Operation, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify wraps err into an *Error for operation, mapping the AWX client's
// sentinels onto kinds. errors.Is traverses retry-exhaustion wrappers, so
// the reported kind reflects the underlying cause rather than the wrapper.
func classify(operation string, err error) *Error {
	kind := KindUnknown
	switch {
	case errors.Is(err, awx.ErrAuth):
		kind = KindAuth
	case errors.Is(err, awx.ErrConnection):
		kind = KindConnection
	case errors.Is(err, awx.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, awx.ErrValidation):
		kind = KindValidation
	}
	return &Error{Kind: kind, Operation: operation, Err: err}
}

// badArg reports a caller-supplied argument that could not be interpreted.
func badArg(operation, field, value string) *Error {
	return &Error{
		Kind:      KindValidation,
		Operation: operation,
		Err:       fmt.Errorf("argument %q has invalid value %q", field, value),
	}
}
