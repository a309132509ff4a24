package state

import (
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/exposure-tracker/internal/types"
)

func TestReplaceExposuresSortsAndNotifies(t *testing.T) {
	s := New(nil)

	var got []ExposuresChanged
	s.OnExposures(func(ev ExposuresChanged) { got = append(got, ev) })

	s.ReplaceExposures([]types.Exposure{
		{ID: "a", Date: "2024-01-01", Time: "09:00"},
		{ID: "b", Date: "2024-01-02", Time: "08:00"},
	})

	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Exposures[0].ID != "b" {
		t.Errorf("first exposure = %s, want b", got[0].Exposures[0].ID)
	}
	if list := s.Exposures(); list[0].ID != "b" || list[1].ID != "a" {
		t.Errorf("Exposures() order = %s,%s", list[0].ID, list[1].ID)
	}
	if !s.Loaded(KindExposures) {
		t.Error("Loaded(KindExposures) = false")
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := New(nil)
	input := []types.Exposure{{ID: "a", Date: "2024-01-01"}}
	s.ReplaceExposures(input)

	input[0].ID = "mutated"
	out := s.Exposures()
	out[0].ID = "mutated too"

	if e, ok := s.Exposure("a"); !ok || e.ID != "a" {
		t.Errorf("store state leaked through a shared slice")
	}
}

func TestWholesaleReplacement(t *testing.T) {
	s := New(nil)
	s.ReplaceSummaries([]types.WeeklySummary{{ID: "1", WeekOf: "2024-01-07"}, {ID: "2", WeekOf: "2024-01-14"}})
	s.ReplaceSummaries([]types.WeeklySummary{{ID: "3", WeekOf: "2024-01-21"}})

	list := s.Summaries()
	if len(list) != 1 || list[0].ID != "3" {
		t.Errorf("Summaries() = %+v, want only id 3", list)
	}
}

func TestReminderRecomputedOnReplacement(t *testing.T) {
	sundayNight := time.Date(2024, 3, 10, 21, 30, 0, 0, time.Local)
	s := New(func() time.Time { return sundayNight })

	var flips []bool
	s.OnReminder(func(ev ReminderChanged) { flips = append(flips, ev.Due) })

	s.ReplaceExposures(nil)
	if !s.ReminderDue() {
		t.Fatal("ReminderDue() = false with no summary on Sunday night")
	}

	s.ReplaceSummaries([]types.WeeklySummary{{ID: "x", WeekOf: "2024-03-10"}})
	if s.ReminderDue() {
		t.Fatal("ReminderDue() = true after this week's summary arrived")
	}

	if len(flips) != 2 || !flips[0] || flips[1] {
		t.Errorf("flips = %v, want [true false]", flips)
	}
}

func TestObserverRemoval(t *testing.T) {
	s := New(nil)
	calls := 0
	remove := s.OnGoals(func(GoalsChanged) { calls++ })

	s.ReplaceGoals(types.Goals{"one"})
	remove()
	s.ReplaceGoals(types.Goals{"two"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if g := s.Goals(); g[0] != "two" {
		t.Errorf("Goals()[0] = %q, want two", g[0])
	}
}

func TestPerKindOrdering(t *testing.T) {
	s := New(nil)

	var mu sync.Mutex
	var seen []int
	s.OnGoals(func(ev GoalsChanged) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, len(ev.Goals[0]))
	})

	// Sequential replacements from one subscription arrive in order.
	for i := 1; i <= 20; i++ {
		g := types.Goals{}
		g[0] = string(make([]byte, i))
		s.ReplaceGoals(g)
	}

	for i, n := range seen {
		if n != i+1 {
			t.Fatalf("event %d carried %d, want %d", i, n, i+1)
		}
	}
}

func TestReset(t *testing.T) {
	s := New(nil)
	s.ReplaceGoals(types.Goals{"a"})
	s.ReplaceExposures([]types.Exposure{{ID: "e"}})

	s.Reset()

	if s.Goals().Count() != 0 || len(s.Exposures()) != 0 || len(s.Summaries()) != 0 {
		t.Error("Reset() left data behind")
	}
	if s.Loaded(KindGoals) {
		t.Error("Loaded(KindGoals) = true after Reset()")
	}
}
