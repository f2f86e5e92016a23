package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned for missing keys and failed checks.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrConflict is returned when a guarded update lost a race.
	ErrConflict = errors.New("persistence: state conflict")
	// ErrCapacityReached is returned when an appointment is already full.
	ErrCapacityReached = errors.New("persistence: capacity reached")
)
