package proxy

import (
	"errors"
	"net"
)

var (
	// ErrInstallFailed is returned when a manifest asset could not be
	// fetched during install. Nothing from that install is kept.
	ErrInstallFailed = errors.New("cache install failed")

	// ErrNetwork wraps a failed upstream request that had no cached
	// fallback.
	ErrNetwork = errors.New("network request failed")

	// ErrNothingWaiting is returned by Activate when no installed version
	// is waiting.
	ErrNothingWaiting = errors.New("no cache version waiting")
)

// IsOffline reports whether err means the upstream could not be reached,
// as opposed to a response the upstream chose to send.
func IsOffline(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
