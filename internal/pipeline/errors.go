package pipeline

import (
	"errors"
	"fmt"

	"github.com/SJJC-Team/whooshing-vapor/internal/registry"
)

// Kind classifies a connection-scoped pipeline error. None of these are
// retryable by the pipeline itself; recovery, if any, happens on a fresh
// connection.
type Kind uint8

const (
	// KindTransformFailure: the transform capability raised during input or
	// output conversion.
	KindTransformFailure Kind = iota + 1
	// KindLifecycleFailure: a connection open/close hook raised.
	KindLifecycleFailure
	// KindFramingViolation: a received unit or requested write does not fit
	// the chunk budget.
	KindFramingViolation
	// KindWriteFailure: the underlying transport rejected a write.
	KindWriteFailure
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindTransformFailure:
		return "TRANSFORM_FAILURE"
	case KindLifecycleFailure:
		return "LIFECYCLE_FAILURE"
	case KindFramingViolation:
		return "FRAMING_VIOLATION"
	case KindWriteFailure:
		return "WRITE_FAILURE"
	default:
		return fmt.Sprintf("UNKNOWN_KIND(%d)", uint8(k))
	}
}

// ConnError is a fatal, connection-scoped pipeline error. It wraps the
// underlying cause and identifies the connection it terminated.
type ConnError struct {
	Kind   Kind
	ConnID registry.ConnID
	Err    error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("%s on connection %d: %v", e.Kind, e.ConnID, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// IsKind reports whether err is (or wraps) a ConnError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *ConnError
	return errors.As(err, &ce) && ce.Kind == kind
}

func newConnError(kind Kind, id registry.ConnID, err error) *ConnError {
	return &ConnError{Kind: kind, ConnID: id, Err: err}
}
