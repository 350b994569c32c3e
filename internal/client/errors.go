package client

import (
	"errors"
	"fmt"
)

// FailureKind partitions every error the SDK can surface. Callers branch on
// the kind, never on error strings.
type FailureKind string

const (
	// FailureNetwork covers transport-level errors: the request never
	// produced an HTTP status.
	FailureNetwork FailureKind = "NETWORK"
	// FailureAuth covers rejected credentials.
	FailureAuth FailureKind = "AUTH"
	// FailureValidation covers locally or server-side invalid input.
	FailureValidation FailureKind = "VALIDATION"
	// FailureConflict covers idempotency conflicts such as a repeated spin.
	FailureConflict FailureKind = "CONFLICT"
	// FailureRejection covers every other server-side refusal.
	FailureRejection FailureKind = "REJECTION"
)

// Failure is the uniform error type of the SDK. Code carries the server's
// stable error code when one exists.
type Failure struct {
	Kind   FailureKind
	Code   string
	Status int
	Err    error
}

func (f *Failure) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("client: %s failure (%s)", f.Kind, f.Code)
	}
	if f.Err != nil {
		return fmt.Sprintf("client: %s failure: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("client: %s failure", f.Kind)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts the SDK failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

// IsKind reports whether the error is an SDK failure of the given kind.
func IsKind(err error, kind FailureKind) bool {
	failure, ok := AsFailure(err)
	return ok && failure.Kind == kind
}

// IsConflictCode reports whether the error is a conflict with the given
// server code.
func IsConflictCode(err error, code string) bool {
	failure, ok := AsFailure(err)
	return ok && failure.Kind == FailureConflict && failure.Code == code
}
