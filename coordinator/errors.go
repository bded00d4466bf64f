package coordinator

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/lixenwraith/particle-engine/network"
)

// ErrLengthMismatch marks a worker reply whose particle count differs from the chunk sent
var ErrLengthMismatch = errors.New("length mismatch")

// Kind classifies a per-worker failure
type Kind uint8

const (
	KindNone Kind = iota
	KindConnection
	KindSerialization
	KindTimeout
	KindLengthMismatch
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConnection:
		return "connection"
	case KindSerialization:
		return "serialization"
	case KindTimeout:
		return "timeout"
	case KindLengthMismatch:
		return "length_mismatch"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Classify maps an exchange error to its Kind
// Unrecognised errors count as connection failures
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrLengthMismatch):
		return KindLengthMismatch
	case errors.Is(err, network.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindTimeout
	case errors.Is(err, network.ErrSerialization):
		return KindSerialization
	default:
		return KindConnection
	}
}

// WorkerError attributes a classified failure to one worker
type WorkerError struct {
	Worker int
	Kind   Kind
	Err    error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d: %s: %v", e.Worker, e.Kind, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}
