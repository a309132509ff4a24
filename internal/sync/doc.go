// Package sync translates domain writes into remote store mutations and
// remote change events into local store snapshots.
//
// Overview
//
//	caller ──SaveExposure──▶ Client ──Append/Write──▶ remote.Store
//	                                                      │ change
//	state.Store ◀──ReplaceExposures── Attach ◀──Subscribe─┘
//
// Writes are never applied to the local store directly. A successful write
// becomes visible only when the remote store emits the change and the
// subscription installed by Attach replaces the local snapshot.
//
// Create vs. update
//
// SaveExposure treats an exposure with an empty ID as new: a key is
// allocated with Append and assigned to the record before it is written.
// An exposure carrying an ID overwrites that key in place and keeps the
// reference number of the stored record. Callers must never invent IDs.
// SaveSummary always creates a new record; there is no summary update.
//
// # Error handling
//
// Every operation returns an error the caller classifies:
//
//   - ErrAuthenticationRequired: nobody is signed in; nothing was sent.
//     ShouldSurface reports false, callers drop it silently.
//   - types.ErrInvalid: the record failed validation; nothing was sent.
//   - ErrRemoteWrite: the store rejected the write. Local state is
//     untouched because it was never changed optimistically. Nothing is
//     retried here; deferred retries belong to the bgsync coordinator.
package sync
