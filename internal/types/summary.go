package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// WeeklySummary is one weekly self-assessment. WeekOf is any date inside
// the Sunday-Saturday week it describes. Several summaries may share a week.
type WeeklySummary struct {
	ID                string `json:"id,omitempty"`
	WeekOf            string `json:"weekOf"`
	NumExposures      int    `json:"numExposures"`
	DifficultExposure string `json:"difficultExposure"`
	ConfidenceRating  Scale  `json:"confidenceRating"`
	Learnings         string `json:"learnings,omitempty"`
}

// Validate checks the fields the summary form requires.
func (s *WeeklySummary) Validate() error {
	if s.WeekOf == "" {
		return fmt.Errorf("%w: week is required", ErrInvalid)
	}
	if _, err := ParseDate(s.WeekOf); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if strings.TrimSpace(s.DifficultExposure) == "" {
		return fmt.Errorf("%w: most difficult exposure is required", ErrInvalid)
	}
	if s.NumExposures < 0 {
		return fmt.Errorf("%w: exposure count cannot be negative (got %d)", ErrInvalid, s.NumExposures)
	}
	if !s.ConfidenceRating.Valid() {
		return fmt.Errorf("%w: confidence must be between 0 and 10 (got %s)", ErrInvalid, s.ConfidenceRating)
	}
	return nil
}

// Week returns the parsed WeekOf date, or the zero time if it is invalid.
func (s *WeeklySummary) Week() time.Time {
	d, err := ParseDate(s.WeekOf)
	if err != nil {
		return time.Time{}
	}
	return d
}

// SortSummaries orders summaries newest week first.
func SortSummaries(list []WeeklySummary) {
	sort.SliceStable(list, func(i, j int) bool {
		wi, wj := list[i].Week(), list[j].Week()
		if !wi.Equal(wj) {
			return wi.After(wj)
		}
		return list[i].ID < list[j].ID
	})
}

// ReminderDue reports whether the weekly-summary reminder should show at
// now: Sunday from 21:00 on, with no summary dated in the current week.
func ReminderDue(now time.Time, summaries []WeeklySummary) bool {
	if now.Weekday() != time.Sunday || now.Hour() < 21 {
		return false
	}
	start, _ := WeekBounds(now)
	for i := range summaries {
		d, err := time.ParseInLocation(DateLayout, summaries[i].WeekOf, now.Location())
		if err != nil {
			continue
		}
		if !d.Before(start) {
			return false
		}
	}
	return true
}
