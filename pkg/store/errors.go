// Package store provides standardized error types for store operations.
package store

import (
	"errors"
	"fmt"
)

// Standard store error types that all implementations should use.
var (
	// ErrInstanceNotFound indicates an instance was not found by the given identifier.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrDuplicateActive indicates a non-terminal instance already exists
	// for the same (tenant, kind, dedup key).
	ErrDuplicateActive = errors.New("active instance already exists for dedup key")

	// ErrStateConflict indicates a conditional transition's predicate did
	// not match because another caller already advanced the instance.
	ErrStateConflict = errors.New("instance state conflict")

	// ErrPreferencesNotFound indicates no preferences are stored for the tenant.
	ErrPreferencesNotFound = errors.New("tenant preferences not found")

	// ErrScheduleNotFound indicates a campaign schedule was not found.
	ErrScheduleNotFound = errors.New("campaign schedule not found")
)

// InstanceError wraps instance-related errors with additional context.
type InstanceError struct {
	Op         string // Operation being performed (e.g., "Create", "Transition")
	InstanceID string // Instance ID if applicable
	DedupKey   string // Dedup key if applicable
	Err        error  // Underlying error
}

func (e *InstanceError) Error() string {
	target := e.InstanceID
	if target == "" && e.DedupKey != "" {
		target = fmt.Sprintf("dedup key %s", e.DedupKey)
	}

	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, target, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for instance errors.
func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{
		Op:         op,
		InstanceID: instanceID,
		Err:        err,
	}
}

// IsDuplicateActive checks if an error indicates an active duplicate instance.
func IsDuplicateActive(err error) bool {
	return errors.Is(err, ErrDuplicateActive)
}

// IsStateConflict checks if an error indicates a lost compare-and-set race.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrStateConflict)
}

// IsInstanceNotFound checks if an error indicates a missing instance.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}
