// Package apperr defines the domain error kinds shared by the service,
// store, and transport layers. Callers match with errors.Is and the HTTP
// layer maps each kind to a status code.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means a referenced task or user id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means the caller is not authenticated: bad
	// credentials or a missing, expired, or malformed token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the caller is authenticated but lacks the required
	// access level or ownership.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict means a unique constraint was violated (username or email
	// already registered).
	ErrConflict = errors.New("conflict")

	// ErrValidation means malformed input (empty title, missing dependency
	// target, self or cyclic dependency). The whole operation is rejected.
	ErrValidation = errors.New("validation rejected")
)

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func Unauthorizedf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrUnauthorized)...)
}

func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrForbidden)...)
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}
