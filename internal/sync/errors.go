package sync

import (
	"errors"

	"github.com/mschirtzinger/exposure-tracker/internal/types"
)

var (
	// ErrAuthenticationRequired is returned when a write is attempted with
	// no signed-in user.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrRemoteWrite wraps any write or delete the remote store rejected.
	ErrRemoteWrite = errors.New("remote write failed")
)

// ShouldSurface reports whether err deserves a user-visible alert.
// Missing authentication is silent: the sign-in screen already covers it.
func ShouldSurface(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrAuthenticationRequired)
}

// IsInvalid reports whether err is a validation failure.
func IsInvalid(err error) bool {
	return errors.Is(err, types.ErrInvalid)
}
