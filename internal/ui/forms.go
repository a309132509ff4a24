package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/mschirtzinger/exposure-tracker/internal/types"
)

// ErrAborted is returned when the user cancels a form.
var ErrAborted = huh.ErrUserAborted

func required(label string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", label)
		}
		return nil
	}
}

func validScale(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !types.Scale(v).Valid() {
		return fmt.Errorf("enter a number from 0 to 10")
	}
	return nil
}

func parseScale(s string) types.Scale {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return types.Scale(v)
}

func scaleText(s types.Scale) string {
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

// ExposureForm asks for every exposure field, starting from e's values,
// and writes the answers back into e.
func ExposureForm(e *types.Exposure, now time.Time) error {
	date := e.Date
	if date == "" {
		date = types.FormatDate(now)
	}
	clock := e.Time
	if clock == "" {
		clock = now.Format(types.TimeLayout)
	}
	anticipated := scaleText(e.AnticipatedAnxiety)
	peak := scaleText(e.PeakAnxiety)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Date").Description("YYYY-MM-DD, or e.g. yesterday").
				Value(&date).Validate(func(s string) error {
				_, err := ParseDay(s, now)
				return err
			}),
			huh.NewInput().Title("Time").Value(&clock).Validate(func(s string) error {
				_, err := ParseClock(s, now)
				return err
			}),
			huh.NewText().Title("Situation").Value(&e.Situation).Validate(required("situation")),
			huh.NewInput().Title("Duration").Placeholder("e.g. 15 minutes").
				Value(&e.Duration).Validate(required("duration")),
		),
		huh.NewGroup(
			huh.NewInput().Title("Anticipated anxiety (0-10)").Value(&anticipated).Validate(validScale),
			huh.NewInput().Title("Peak anxiety (0-10)").Value(&peak).Validate(validScale),
			huh.NewText().Title("What did you fear would happen?").Value(&e.FearWillHappen),
			huh.NewText().Title("What actually happened?").Value(&e.WhatActuallyHappened),
			huh.NewText().Title("Notes").Value(&e.Notes),
			huh.NewConfirm().Title("Added to graph?").Value(&e.GraphAdded),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	var err error
	if e.Date, err = ParseDay(date, now); err != nil {
		return err
	}
	if e.Time, err = ParseClock(clock, now); err != nil {
		return err
	}
	e.AnticipatedAnxiety = parseScale(anticipated)
	e.PeakAnxiety = parseScale(peak)
	return nil
}

// SummaryForm asks for a weekly summary, pre-filled from s. Callers set
// s.NumExposures to the count logged this week.
func SummaryForm(s *types.WeeklySummary, now time.Time) error {
	weekOf := s.WeekOf
	if weekOf == "" {
		start, _ := types.WeekBounds(now)
		weekOf = types.FormatDate(start)
	}
	count := strconv.Itoa(s.NumExposures)
	confidence := scaleText(s.ConfidenceRating)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Week of").Value(&weekOf).Validate(func(v string) error {
				_, err := ParseDay(v, now)
				return err
			}),
			huh.NewInput().Title("Exposures completed").Value(&count).Validate(func(v string) error {
				n, err := strconv.Atoi(strings.TrimSpace(v))
				if err != nil || n < 0 {
					return fmt.Errorf("enter a whole number")
				}
				return nil
			}),
			huh.NewText().Title("Most difficult exposure").Value(&s.DifficultExposure).
				Validate(required("most difficult exposure")),
			huh.NewInput().Title("Confidence (0-10)").Value(&confidence).Validate(validScale),
			huh.NewText().Title("What did you learn?").Value(&s.Learnings),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	var err error
	if s.WeekOf, err = ParseDay(weekOf, now); err != nil {
		return err
	}
	s.NumExposures, _ = strconv.Atoi(strings.TrimSpace(count))
	s.ConfidenceRating = parseScale(confidence)
	return nil
}

// GoalForm asks for the text of one goal slot.
func GoalForm(index int, text *string) error {
	return huh.NewInput().
		Title(fmt.Sprintf("Goal %d", index+1)).
		Value(text).
		Run()
}
