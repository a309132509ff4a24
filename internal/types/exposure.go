package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Exposure is one logged exposure exercise.
//
// ID is the remote key: empty until the first write allocates one, then
// stable across edits. ReferenceNumber is computed once at creation and
// never recomputed.
type Exposure struct {
	ID              string `json:"id,omitempty"`
	ReferenceNumber string `json:"referenceNumber,omitempty"`

	Date string `json:"date"`           // 2006-01-02
	Time string `json:"time,omitempty"` // 15:04, may be empty

	Situation          string `json:"situation"`
	AnticipatedAnxiety Scale  `json:"anticipatedAnxiety"`
	PeakAnxiety        Scale  `json:"peakAnxiety"`
	Duration           string `json:"duration"`

	FearWillHappen       string `json:"fearWillHappen,omitempty"`
	WhatActuallyHappened string `json:"whatActuallyHappened,omitempty"`
	Notes                string `json:"notes,omitempty"`
	GraphAdded           bool   `json:"graphAdded"`
}

// Validate checks the fields the entry form requires.
func (e *Exposure) Validate() error {
	if e.Date == "" {
		return fmt.Errorf("%w: date is required", ErrInvalid)
	}
	if _, err := ParseDate(e.Date); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if e.Time == "" {
		return fmt.Errorf("%w: time is required", ErrInvalid)
	}
	if _, err := time.Parse(TimeLayout, e.Time); err != nil {
		return fmt.Errorf("%w: invalid time %q", ErrInvalid, e.Time)
	}
	if strings.TrimSpace(e.Situation) == "" {
		return fmt.Errorf("%w: situation is required", ErrInvalid)
	}
	if strings.TrimSpace(e.Duration) == "" {
		return fmt.Errorf("%w: duration is required", ErrInvalid)
	}
	if !e.AnticipatedAnxiety.Valid() {
		return fmt.Errorf("%w: anticipated anxiety must be between 0 and 10 (got %s)", ErrInvalid, e.AnticipatedAnxiety)
	}
	if !e.PeakAnxiety.Valid() {
		return fmt.Errorf("%w: peak anxiety must be between 0 and 10 (got %s)", ErrInvalid, e.PeakAnxiety)
	}
	return nil
}

// When returns the combined date and time used for display ordering.
func (e *Exposure) When() time.Time {
	return dateTime(e.Date, e.Time)
}

// ReferenceNumber formats the reference for the n-th exposure (1-based) of
// the given day: EXP-YYMMDD-NNN.
func ReferenceNumber(day time.Time, n int) string {
	return fmt.Sprintf("EXP-%s-%03d", day.Format("060102"), n)
}

// NextReferenceNumber returns the reference a new exposure on date would
// receive, counting the exposures already logged for that same date.
func NextReferenceNumber(date string, existing []Exposure) (string, error) {
	day, err := ParseDate(date)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	canonical := FormatDate(day)
	count := 0
	for i := range existing {
		if existing[i].Date == canonical {
			count++
		}
	}
	return ReferenceNumber(day, count+1), nil
}

// SortExposures orders exposures newest first by date and time. Entries
// with equal timestamps keep a stable order by ID.
func SortExposures(list []Exposure) {
	sort.SliceStable(list, func(i, j int) bool {
		wi, wj := list[i].When(), list[j].When()
		if !wi.Equal(wj) {
			return wi.After(wj)
		}
		return list[i].ID < list[j].ID
	})
}

// CountInWeek counts the exposures dated within the Sunday-Saturday week
// containing day.
func CountInWeek(list []Exposure, day time.Time) int {
	start, end := WeekBounds(day)
	n := 0
	for i := range list {
		d, err := ParseDate(list[i].Date)
		if err != nil {
			continue
		}
		if !d.Before(start) && !d.After(end) {
			n++
		}
	}
	return n
}
