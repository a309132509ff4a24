package types

import (
	"strings"
	"time"
)

// AnxietyBand buckets peak anxiety for filtering.
type AnxietyBand string

const (
	AnxietyAny    AnxietyBand = ""
	AnxietyLow    AnxietyBand = "low"    // <= 3
	AnxietyMedium AnxietyBand = "medium" // > 3 and <= 6
	AnxietyHigh   AnxietyBand = "high"   // > 6
)

// DateRange limits exposures to a window ending today.
type DateRange string

const (
	RangeAll     DateRange = ""
	RangeToday   DateRange = "today"
	RangeWeek    DateRange = "week"
	Range3Months DateRange = "3months"
	RangeMonth   DateRange = "month"
)

// Filter selects exposures from a snapshot. The zero Filter matches all.
type Filter struct {
	Search  string
	Anxiety AnxietyBand
	Range   DateRange
}

// Apply returns the matching exposures in their original order. now
// anchors the date ranges.
func (f Filter) Apply(list []Exposure, now time.Time) []Exposure {
	out := make([]Exposure, 0, len(list))
	for i := range list {
		if f.matches(&list[i], now) {
			out = append(out, list[i])
		}
	}
	return out
}

func (f Filter) matches(e *Exposure, now time.Time) bool {
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		found := false
		for _, field := range []string{e.Situation, e.Notes, e.FearWillHappen, e.WhatActuallyHappened} {
			if strings.Contains(strings.ToLower(field), term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	switch f.Anxiety {
	case AnxietyLow:
		if e.PeakAnxiety > 3 {
			return false
		}
	case AnxietyMedium:
		if e.PeakAnxiety <= 3 || e.PeakAnxiety > 6 {
			return false
		}
	case AnxietyHigh:
		if e.PeakAnxiety <= 6 {
			return false
		}
	}

	if f.Range == RangeAll {
		return true
	}
	d, err := time.ParseInLocation(DateLayout, e.Date, now.Location())
	if err != nil {
		return false
	}
	y, m, dd := now.Date()
	today := time.Date(y, m, dd, 0, 0, 0, 0, now.Location())
	switch f.Range {
	case RangeToday:
		return d.Equal(today)
	case RangeWeek:
		return !d.Before(today.AddDate(0, 0, -7))
	case RangeMonth:
		return !d.Before(today.AddDate(0, -1, 0))
	case Range3Months:
		return !d.Before(today.AddDate(0, -3, 0))
	}
	return true
}
