// Package common defines shared constants and sentinel errors used across
// notesync layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrVersionConflict = errors.New("version conflict")
	ErrSyncInProgress  = errors.New("sync already in progress")

	// Availability errors. ErrUnavailable marks transient transport failures
	// that are safe to replay from the mutation queue.
	ErrUnavailable           = errors.New("remote unavailable")
	ErrLocalDataNotAvailable = errors.New("local data unavailable")

	// Validation errors.
	ErrInvalidMutation           = errors.New("invalid mutation")
	ErrUnknownStrategy           = errors.New("unknown resolution strategy")
	ErrCannotRemoveCurrentDevice = errors.New("cannot remove current device")

	// Auth errors (invalid, malformed or expired session token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
