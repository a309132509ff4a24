// Package state holds the in-memory mirror of a signed-in user's data.
//
// The Store is the single source of truth for display. It never originates
// writes: its collections are replaced wholesale whenever the matching
// remote subscription delivers a snapshot, and observers registered per
// entity kind are called after each replacement.
//
// Ordering: replacements of one kind are delivered to that kind's
// observers in the order they were applied. Different kinds are
// independent; a goals event and an exposures event may interleave
// arbitrarily.
package state

import (
	"sync"
	"time"

	"github.com/mschirtzinger/exposure-tracker/internal/types"
)

// GoalsChanged is delivered after the goals snapshot is replaced.
type GoalsChanged struct {
	Goals types.Goals
}

// ExposuresChanged is delivered after the exposures snapshot is replaced.
// Exposures is sorted newest first and owned by the observer.
type ExposuresChanged struct {
	Exposures []types.Exposure
}

// SummariesChanged is delivered after the summaries snapshot is replaced.
// Summaries is sorted newest week first and owned by the observer.
type SummariesChanged struct {
	Summaries []types.WeeklySummary
}

// ReminderChanged is delivered when weekly-reminder visibility flips.
type ReminderChanged struct {
	Due bool
}

// Store mirrors confirmed remote state.
type Store struct {
	clock func() time.Time

	mu        sync.RWMutex
	goals     types.Goals
	exposures []types.Exposure
	summaries []types.WeeklySummary
	reminder  bool
	loaded    map[Kind]bool

	// Held across replace+notify so one kind's events stay ordered.
	goalsMu, exposuresMu, summariesMu, reminderMu sync.Mutex

	obsMu     sync.Mutex
	nextObs   int
	goalsObs  map[int]func(GoalsChanged)
	expObs    map[int]func(ExposuresChanged)
	sumObs    map[int]func(SummariesChanged)
	remindObs map[int]func(ReminderChanged)
}

// Kind identifies an entity collection.
type Kind int

const (
	KindGoals Kind = iota
	KindExposures
	KindSummaries
)

// String returns the collection name.
func (k Kind) String() string {
	switch k {
	case KindGoals:
		return "goals"
	case KindExposures:
		return "exposures"
	case KindSummaries:
		return "summaries"
	default:
		return "unknown"
	}
}

// New creates an empty store. A nil clock means time.Now; the clock feeds
// the weekly-reminder recomputation.
func New(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		clock:     clock,
		loaded:    make(map[Kind]bool),
		goalsObs:  make(map[int]func(GoalsChanged)),
		expObs:    make(map[int]func(ExposuresChanged)),
		sumObs:    make(map[int]func(SummariesChanged)),
		remindObs: make(map[int]func(ReminderChanged)),
	}
}

// Goals returns the current goals.
func (s *Store) Goals() types.Goals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.goals
}

// Exposures returns a copy of the current exposures, newest first.
func (s *Store) Exposures() []types.Exposure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Exposure(nil), s.exposures...)
}

// Exposure looks up one exposure by id.
func (s *Store) Exposure(id string) (types.Exposure, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.exposures {
		if s.exposures[i].ID == id {
			return s.exposures[i], true
		}
	}
	return types.Exposure{}, false
}

// Summaries returns a copy of the current summaries, newest week first.
func (s *Store) Summaries() []types.WeeklySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.WeeklySummary(nil), s.summaries...)
}

// ReminderDue returns the weekly-reminder visibility computed at the last
// exposures or summaries replacement.
func (s *Store) ReminderDue() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reminder
}

// Loaded reports whether at least one snapshot of kind has arrived.
func (s *Store) Loaded(kind Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded[kind]
}

// ReplaceGoals installs a new goals snapshot.
func (s *Store) ReplaceGoals(goals types.Goals) {
	s.goalsMu.Lock()
	defer s.goalsMu.Unlock()

	s.mu.Lock()
	s.goals = goals
	s.loaded[KindGoals] = true
	s.mu.Unlock()

	for _, fn := range s.goalsObservers() {
		fn(GoalsChanged{Goals: goals})
	}
}

// ReplaceExposures installs a new exposures snapshot. The slice is copied
// and sorted newest first.
func (s *Store) ReplaceExposures(list []types.Exposure) {
	s.exposuresMu.Lock()
	defer s.exposuresMu.Unlock()

	sorted := append([]types.Exposure(nil), list...)
	types.SortExposures(sorted)

	s.mu.Lock()
	s.exposures = sorted
	s.loaded[KindExposures] = true
	s.mu.Unlock()

	for _, fn := range s.exposureObservers() {
		fn(ExposuresChanged{Exposures: append([]types.Exposure(nil), sorted...)})
	}
	s.recomputeReminder()
}

// ReplaceSummaries installs a new summaries snapshot. The slice is copied
// and sorted newest week first.
func (s *Store) ReplaceSummaries(list []types.WeeklySummary) {
	s.summariesMu.Lock()
	defer s.summariesMu.Unlock()

	sorted := append([]types.WeeklySummary(nil), list...)
	types.SortSummaries(sorted)

	s.mu.Lock()
	s.summaries = sorted
	s.loaded[KindSummaries] = true
	s.mu.Unlock()

	for _, fn := range s.summaryObservers() {
		fn(SummariesChanged{Summaries: append([]types.WeeklySummary(nil), sorted...)})
	}
	s.recomputeReminder()
}

// recomputeReminder re-evaluates reminder visibility and notifies on a flip.
func (s *Store) recomputeReminder() {
	s.reminderMu.Lock()
	defer s.reminderMu.Unlock()

	s.mu.Lock()
	due := types.ReminderDue(s.clock(), s.summaries)
	changed := due != s.reminder
	s.reminder = due
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range s.reminderObservers() {
		fn(ReminderChanged{Due: due})
	}
}

// Refresh re-evaluates time-dependent derived state (the weekly reminder)
// without a new snapshot. Callers run it on a timer.
func (s *Store) Refresh() {
	s.recomputeReminder()
}

// Reset clears every snapshot. Used on sign-out so the next user starts
// from an empty mirror. Observers are kept.
func (s *Store) Reset() {
	s.ReplaceGoals(types.Goals{})
	s.ReplaceExposures(nil)
	s.ReplaceSummaries(nil)

	s.mu.Lock()
	s.loaded = make(map[Kind]bool)
	s.mu.Unlock()
}
