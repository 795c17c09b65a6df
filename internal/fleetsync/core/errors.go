package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for logging, metrics and retry decisions.
type ErrorKind string

const (
	KindConnectivity     ErrorKind = "connectivity"
	KindAuthentication   ErrorKind = "authentication"
	KindAPI              ErrorKind = "api"
	KindDatastore        ErrorKind = "datastore"
	KindExhaustedRetries ErrorKind = "exhausted-retries"
	KindUnknown          ErrorKind = "unknown"
)

func (k ErrorKind) String() string { return string(k) }

// ErrSyncInProgress is returned when a pass is requested while one is already running.
var ErrSyncInProgress = errors.New("synchronization pass already in progress")

// Error is a classified failure of a named operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the failing operation.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an Error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
