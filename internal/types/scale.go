package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Scale is a 0-10 rating. Older records stored ratings as the raw form
// input string ("6.5"), so decoding accepts both numbers and numeric strings.
type Scale float64

const (
	ScaleMin Scale = 0
	ScaleMax Scale = 10
)

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scale) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*s = Scale(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("scale must be a number or numeric string: %w", err)
	}
	str = strings.TrimSpace(str)
	if str == "" {
		*s = 0
		return nil
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return fmt.Errorf("scale %q is not numeric: %w", str, err)
	}
	*s = Scale(f)
	return nil
}

// Valid reports whether s lies within 0-10.
func (s Scale) Valid() bool {
	return s >= ScaleMin && s <= ScaleMax
}

// String formats the rating with one decimal, as the entry sliders show it.
func (s Scale) String() string {
	return strconv.FormatFloat(float64(s), 'f', 1, 64)
}
