package application

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the acting user lacks rights for an operation.
	ErrPermissionDenied = errors.New("application: permission denied")
	// ErrNotFound is returned when the referenced server, party, entry or game does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrConflict is returned when a request conflicts with the user's current commitments.
	ErrConflict = errors.New("application: conflict")
	// ErrCapacityExceeded is returned when a party or server is full.
	ErrCapacityExceeded = errors.New("application: capacity exceeded")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

func validationFailure(field, message string) *ValidationError {
	vErr := &ValidationError{}
	vErr.add(field, message)
	return vErr
}

// ConflictError explains why a request clashes with existing state.
type ConflictError struct {
	Reason  string
	PartyID string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.PartyID != "" {
		return fmt.Sprintf("conflict: %s (party %s)", e.Reason, e.PartyID)
	}
	return "conflict: " + e.Reason
}

// Is makes errors.Is(err, ErrConflict) hold.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// CapacityExceededError reports a full party or server.
type CapacityExceededError struct {
	Resource string
	ID       string
	Capacity int
}

// Error implements the error interface.
func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%s %s is full (capacity %d)", e.Resource, e.ID, e.Capacity)
}

// Is makes errors.Is(err, ErrCapacityExceeded) hold.
func (e *CapacityExceededError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

func permissionDenied(reason string) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, reason)
}
