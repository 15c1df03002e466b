package contracts

import (
	"errors"
	"fmt"
)

// TransientError marks a failure that is eligible for retry: a network
// error, a timeout, or a retryable HTTP status from a backend.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient implements the classification probe used by IsTransient.
func (e *TransientError) Transient() bool { return true }

// MalformedInputError marks input that cannot be processed: an undecodable
// payload or a broken container format. Never retried.
type MalformedInputError struct {
	Op  string
	Err error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("%s: malformed input: %v", e.Op, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// SchemaViolationError reports that a backend returned content not matching
// the required strict schema. Fatal within its stage, never retried.
type SchemaViolationError struct {
	Op     string
	Detail string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("%s: schema violation: %s", e.Op, e.Detail)
}

// ProvisioningError reports that a model could not be made ready. Fatal to
// process bootstrap.
type ProvisioningError struct {
	Backend string
	Err     error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision %s: %v", e.Backend, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retry-eligible. Classification is an
// allow-list: only errors that explicitly declare themselves transient
// qualify; everything else propagates immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	type transient interface {
		Transient() bool
	}
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}
