// Package remote provides the per-user remote data store the sync client
// writes to and subscribes on.
//
// The store is a tree of JSON values addressed by slash-separated paths:
//
//	users/{uid}/goals              array of 10 strings
//	users/{uid}/exposures/{id}     exposure record
//	users/{uid}/summaries/{id}     weekly summary record
//
// Reading a path that has no value of its own but has children returns a
// JSON object of those children keyed by child key. Reading a path with
// neither returns a nil value, not an error.
//
// Two implementations exist: SQLiteStore (embedded, the source of truth
// served by Server) and HTTPStore (a client of Server, used by the CLI and
// routed through the offline cache proxy).
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Store is the remote store contract.
type Store interface {
	// Read returns the value at path, or nil if nothing is stored there.
	Read(ctx context.Context, path string) (json.RawMessage, error)

	// Subscribe calls fn with the current value at path and again after
	// every change at, above or below path. Calls for one subscription are
	// made sequentially in change order. The returned function cancels the
	// subscription and may be called from inside fn.
	Subscribe(ctx context.Context, path string, fn func(json.RawMessage)) (func(), error)

	// Write replaces the value (and any children) at path.
	Write(ctx context.Context, path string, value json.RawMessage) error

	// Append allocates a fresh, unique child key under a collection path.
	// Nothing is written until the caller writes to path/key.
	Append(ctx context.Context, path string) (string, error)

	// Delete removes the value and children at path. Deleting a path that
	// holds nothing succeeds.
	Delete(ctx context.Context, path string) error
}

// ErrInvalidPath is returned for empty paths or paths containing reserved
// characters.
var ErrInvalidPath = errors.New("invalid store path")

// ErrClosed is returned by a store that has been closed.
var ErrClosed = errors.New("store closed")

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// GoalsPath is the goals slot of a user.
func GoalsPath(uid string) string { return Join("users", uid, "goals") }

// ExposuresPath is the exposure collection of a user.
func ExposuresPath(uid string) string { return Join("users", uid, "exposures") }

// ExposurePath is a single exposure record.
func ExposurePath(uid, id string) string { return Join("users", uid, "exposures", id) }

// SummariesPath is the weekly summary collection of a user.
func SummariesPath(uid string) string { return Join("users", uid, "summaries") }

// SummaryPath is a single weekly summary record.
func SummaryPath(uid, id string) string { return Join("users", uid, "summaries", id) }

// CleanPath validates path and strips surrounding slashes.
func CleanPath(path string) (string, error) {
	p := strings.Trim(path, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			return "", fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
		if strings.ContainsAny(seg, ".#$[]") {
			return "", fmt.Errorf("%w: segment %q contains a reserved character", ErrInvalidPath, seg)
		}
	}
	return p, nil
}

// related reports whether a change at changed is visible at watched.
func related(watched, changed string) bool {
	return watched == changed ||
		strings.HasPrefix(changed, watched+"/") ||
		strings.HasPrefix(watched, changed+"/")
}
