package gotoken

import "github.com/pkg/errors"

// Kind tags an Error with the category a caller can switch on without
// parsing message text, per spec.md §7's "error kinds (not type names)".
type Kind int

const (
	KindUnknown Kind = iota
	KindNotInitialized
	KindInvalidFormat
	KindIDOutOfRange
	KindIO
	KindUnknownInput
)

func (k Kind) String() string {
	switch k {
	case KindNotInitialized:
		return "NotInitialized"
	case KindInvalidFormat:
		return "InvalidFormat"
	case KindIDOutOfRange:
		return "IdOutOfRange"
	case KindIO:
		return "IoError"
	case KindUnknownInput:
		return "UnknownInput"
	default:
		return "Unknown"
	}
}

// Error is every error this package returns: a tagged Kind riding alongside
// a github.com/pkg/errors-wrapped cause, matching the error-wrapping style
// used throughout the reference module this package was adapted from, plus
// the tag a caller needs to switch on.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

// IsKind reports whether err is, or wraps, a gotoken *Error tagged with k.
func IsKind(err error, k Kind) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == k
	}
	return false
}
