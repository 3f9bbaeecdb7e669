// Package fault defines the error taxonomy shared by the workflow engine.
// Anything not covered here is treated as an internal fault and propagated
// unchanged.
package fault

import "fmt"

// ValidationError indicates malformed or contradictory input. The caller can
// recover by correcting the request; it is never retried automatically.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// ConflictError indicates an illegal state transition, an optimistic-lock
// mismatch or an attempt to mutate finalized content.
type ConflictError struct {
	Msg string
}

func (e ConflictError) Error() string { return e.Msg }

// ForbiddenError indicates a role, ownership or journal-scope failure. It is
// deliberately distinct from NotFoundError; masking as not-found for privacy
// is a transport-layer decision.
type ForbiddenError struct {
	Msg string
}

func (e ForbiddenError) Error() string { return e.Msg }

// NotFoundError indicates a missing manuscript, cycle, letter or attachment.
type NotFoundError struct {
	Msg string
}

func (e NotFoundError) Error() string { return e.Msg }

// UnprocessableError indicates a failed business precondition (gate failure)
// rather than a concurrency race.
type UnprocessableError struct {
	Msg string
}

func (e UnprocessableError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return ConflictError{Msg: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) error {
	return ForbiddenError{Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

func Unprocessablef(format string, args ...any) error {
	return UnprocessableError{Msg: fmt.Sprintf(format, args...)}
}
