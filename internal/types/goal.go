package types

import (
	"encoding/json"
	"fmt"
)

// GoalSlots is the fixed number of goal slots a user has.
const GoalSlots = 10

// Goals is the fixed-size goal list. An empty string is an unset slot.
type Goals [GoalSlots]string

// Set replaces the text at index.
func (g *Goals) Set(index int, text string) error {
	if index < 0 || index >= GoalSlots {
		return fmt.Errorf("%w: goal index must be between 0 and %d (got %d)", ErrInvalid, GoalSlots-1, index)
	}
	g[index] = text
	return nil
}

// Count returns the number of non-empty slots.
func (g Goals) Count() int {
	n := 0
	for _, s := range g {
		if s != "" {
			n++
		}
	}
	return n
}

// UnmarshalJSON accepts any JSON array of strings or nulls. Missing trailing
// slots stay empty and extra entries are dropped, so a short or sparse
// stored list never fails to load.
func (g *Goals) UnmarshalJSON(data []byte) error {
	var raw []*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("goals must be an array of strings: %w", err)
	}
	*g = Goals{}
	for i, s := range raw {
		if i >= GoalSlots {
			break
		}
		if s != nil {
			g[i] = *s
		}
	}
	return nil
}
