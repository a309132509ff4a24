package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/mschirtzinger/exposure-tracker/internal/types"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseDay turns user input into a YYYY-MM-DD date. It accepts that
// layout directly and natural phrases such as "today", "yesterday" or
// "last sunday", resolved against now.
func ParseDay(input string, now time.Time) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return types.FormatDate(now), nil
	}
	if d, err := types.ParseDate(input); err == nil {
		return types.FormatDate(d), nil
	}

	r, err := dateParser.Parse(input, now)
	if err != nil {
		return "", fmt.Errorf("%w: cannot read date %q: %v", types.ErrInvalid, input, err)
	}
	if r == nil {
		return "", fmt.Errorf("%w: cannot read date %q", types.ErrInvalid, input)
	}
	return types.FormatDate(r.Time), nil
}

// ParseClock normalizes a wall-clock time to HH:MM. Empty input means now.
func ParseClock(input string, now time.Time) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return now.Format(types.TimeLayout), nil
	}
	for _, layout := range []string{types.TimeLayout, "3:04pm", "3:04 pm", "3pm", "15"} {
		if t, err := time.Parse(layout, strings.ToLower(input)); err == nil {
			return t.Format(types.TimeLayout), nil
		}
	}
	return "", fmt.Errorf("%w: cannot read time %q", types.ErrInvalid, input)
}
