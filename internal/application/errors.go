package application

import (
	"errors"
	"sort"
	"strings"
)

// Kind groups application errors by how callers should react to them.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization"
	KindValidation    Kind = "validation"
	KindStateConflict Kind = "state_conflict"
	KindReauth        Kind = "reauth_required"
)

// Error is a sentinel carrying a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return "application: " + e.Message
}

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = &Error{Kind: KindAuthorization, Code: "unauthorized", Message: "unauthorized"}
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = &Error{Kind: KindNotFound, Code: "not_found", Message: "not found"}

	ErrAppointmentNotFound  = &Error{Kind: KindNotFound, Code: "appointment_not_found", Message: "appointment not found"}
	ErrNotParticipant       = &Error{Kind: KindAuthorization, Code: "not_participant", Message: "not a participant of the appointment"}
	ErrCreatorOnly          = &Error{Kind: KindAuthorization, Code: "creator_only", Message: "only the creator may do this"}
	ErrInvalidScope         = &Error{Kind: KindValidation, Code: "invalid_scope", Message: "scope must be me or all"}
	ErrNotConfirmed         = &Error{Kind: KindStateConflict, Code: "appointment_not_confirmed", Message: "appointment is not confirmed"}
	ErrNotOpen              = &Error{Kind: KindStateConflict, Code: "appointment_not_open", Message: "appointment is no longer open"}
	ErrAppointmentFull      = &Error{Kind: KindStateConflict, Code: "appointment_full", Message: "appointment is full"}
	ErrAlreadyJoined        = &Error{Kind: KindStateConflict, Code: "already_joined", Message: "already joined the appointment"}
	ErrCalendarScopeMissing = &Error{Kind: KindReauth, Code: "calendar_scope_missing", Message: "calendar access has not been granted"}
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
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
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

// CodeOf returns the stable code of an application error, or "" when err is
// not one.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation_failed"
	}
	return ""
}

// KindOf returns the category of an application error, or "" when err is not
// one.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return KindValidation
	}
	return ""
}
