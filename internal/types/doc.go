// Package types defines the records a user keeps in the remote store.
//
// Three entity kinds exist:
//
//	Goals          fixed array of 10 free-text slots     users/{uid}/goals
//	Exposure       one logged exposure exercise          users/{uid}/exposures/{id}
//	WeeklySummary  one weekly self-assessment            users/{uid}/summaries/{id}
//
// Records are plain JSON documents. Identity for exposures and summaries is
// the remote key; goals have no identity beyond their slot index.
//
// Dates are calendar dates without a timezone ("2006-01-02") and times are
// wall-clock "15:04" strings. Both are kept as strings so a record
// round-trips byte-for-byte through the store; helpers in this package parse
// them in the local timezone when ordering or bucketing is needed.
package types
