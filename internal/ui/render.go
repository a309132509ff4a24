package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mschirtzinger/exposure-tracker/internal/types"
)

// Goals renders the ten goal slots, numbered from 1. Empty slots are
// shown muted.
func Goals(goals types.Goals) string {
	var b strings.Builder
	for i, g := range goals {
		if g == "" {
			fmt.Fprintf(&b, "%2d. %s\n", i+1, RenderMuted("(empty)"))
			continue
		}
		fmt.Fprintf(&b, "%2d. %s\n", i+1, g)
	}
	return b.String()
}

// Exposures renders a one-line-per-entry table.
func Exposures(list []types.Exposure) string {
	if len(list) == 0 {
		return RenderMuted("No exposures logged yet.") + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", headerStyle.Render(fmt.Sprintf("%-15s %-16s %-9s %s", "REFERENCE", "WHEN", "ANX→PEAK", "SITUATION")))
	for i := range list {
		e := &list[i]
		when := e.Date
		if e.Time != "" {
			when += " " + e.Time
		}
		fmt.Fprintf(&b, "%-15s %-16s %-9s %s\n",
			e.ReferenceNumber, when,
			e.AnticipatedAnxiety.String()+"→"+e.PeakAnxiety.String(),
			truncate(e.Situation, 48))
	}
	return b.String()
}

// Exposure renders every field of one exposure.
func Exposure(e *types.Exposure) string {
	rows := [][2]string{
		{"Reference", e.ReferenceNumber},
		{"ID", e.ID},
		{"Date", strings.TrimSpace(e.Date + " " + e.Time)},
		{"Situation", e.Situation},
		{"Anticipated", e.AnticipatedAnxiety.String()},
		{"Peak", e.PeakAnxiety.String()},
		{"Duration", e.Duration},
		{"Feared", e.FearWillHappen},
		{"Happened", e.WhatActuallyHappened},
		{"Notes", e.Notes},
		{"Graph added", fmt.Sprintf("%t", e.GraphAdded)},
	}

	var b strings.Builder
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render(fmt.Sprintf("%-12s", r[0]+":")), r[1])
	}
	return b.String()
}

// Summaries renders weekly summaries newest first, as given.
func Summaries(list []types.WeeklySummary) string {
	if len(list) == 0 {
		return RenderMuted("No weekly summaries yet.") + "\n"
	}

	var b strings.Builder
	for i := range list {
		s := &list[i]
		start, end := types.WeekBounds(s.Week())
		title := fmt.Sprintf("Week of %s – %s", types.FormatDate(start), types.FormatDate(end))
		fmt.Fprintf(&b, "%s  %s\n", RenderAccent(title), RenderMuted(s.ID))
		fmt.Fprintf(&b, "  Exposures: %d   Confidence: %s/10\n", s.NumExposures, s.ConfidenceRating)
		fmt.Fprintf(&b, "  Most difficult: %s\n", s.DifficultExposure)
		if s.Learnings != "" {
			fmt.Fprintf(&b, "  Learnings: %s\n", s.Learnings)
		}
	}
	return b.String()
}

// ReminderBanner is shown when the weekly summary is due.
func ReminderBanner() string {
	return bannerStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		RenderWarn("Weekly summary due"),
		"It's Sunday evening. Take a moment to reflect on this week's exposures:",
		"  exposure summary add",
	))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
