package network

import (
	"github.com/pkg/errors"
)

// Failure classes surfaced by the exchange; test with errors.Is
var (
	ErrConnection    = errors.New("connection error")
	ErrSerialization = errors.New("serialization error")
	ErrTimeout       = errors.New("timeout")
)

// opError tags an underlying cause with one of the failure classes
type opError struct {
	kind error
	op   string
	err  error
}

func (e *opError) Error() string {
	if e.err == nil {
		return e.op + ": " + e.kind.Error()
	}
	return e.op + ": " + e.kind.Error() + ": " + e.err.Error()
}

func (e *opError) Is(target error) bool {
	return target == e.kind
}

func (e *opError) Unwrap() error {
	return e.err
}

// newError builds a classified error with a stack trace attached
func newError(kind error, op string, cause error) error {
	return errors.WithStack(&opError{kind: kind, op: op, err: cause})
}
