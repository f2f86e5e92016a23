package application

import (
	"errors"

	"github.com/SonJH7/Yakssok/internal/persistence"
)

// mapRepoError translates persistence sentinels into application errors.
// notFound is returned for missing rows so callers can name the resource.
func mapRepoError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return notFound
	}
	if errors.Is(err, persistence.ErrCapacityReached) {
		return ErrAppointmentFull
	}
	if errors.Is(err, persistence.ErrConflict) {
		return ErrNotOpen
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		vErr := &ValidationError{}
		vErr.add("request", "violates a storage constraint")
		return vErr
	}
	return err
}
