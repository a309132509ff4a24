package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func validExposure() Exposure {
	return Exposure{
		Date:               "2024-03-05",
		Time:               "09:30",
		Situation:          "Ordered coffee",
		AnticipatedAnxiety: 6,
		PeakAnxiety:        4.5,
		Duration:           "10 min",
	}
}

func TestReferenceNumber(t *testing.T) {
	tests := []struct {
		name     string
		existing []Exposure
		want     string
	}{
		{"first of day", nil, "EXP-240305-001"},
		{"second of day", []Exposure{{Date: "2024-03-05"}}, "EXP-240305-002"},
		{"other days ignored", []Exposure{{Date: "2024-03-04"}, {Date: "2024-03-06"}}, "EXP-240305-001"},
		{"many", make3("2024-03-05", 11), "EXP-240305-012"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextReferenceNumber("2024-03-05", tt.existing)
			if err != nil {
				t.Fatalf("NextReferenceNumber() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("NextReferenceNumber() = %q, want %q", got, tt.want)
			}
		})
	}
}

func make3(date string, n int) []Exposure {
	out := make([]Exposure, n)
	for i := range out {
		out[i].Date = date
	}
	return out
}

func TestNextReferenceNumber_InvalidDate(t *testing.T) {
	_, err := NextReferenceNumber("05/03/2024", nil)
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestSortExposures(t *testing.T) {
	list := []Exposure{
		{ID: "a", Date: "2024-01-01", Time: "09:00"},
		{ID: "b", Date: "2024-01-02", Time: "08:00"},
		{ID: "c", Date: "2024-01-02"},
		{ID: "d", Date: "2024-01-02", Time: "00:00"},
	}

	SortExposures(list)

	want := []string{"b", "c", "d", "a"}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(list), want)
		}
	}
}

func ids(list []Exposure) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = list[i].ID
	}
	return out
}

func TestExposureValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *Exposure)
		ok     bool
	}{
		{"valid", func(e *Exposure) {}, true},
		{"missing date", func(e *Exposure) { e.Date = "" }, false},
		{"bad date", func(e *Exposure) { e.Date = "2024-13-01" }, false},
		{"missing time", func(e *Exposure) { e.Time = "" }, false},
		{"missing situation", func(e *Exposure) { e.Situation = "  " }, false},
		{"missing duration", func(e *Exposure) { e.Duration = "" }, false},
		{"peak too high", func(e *Exposure) { e.PeakAnxiety = 11 }, false},
		{"anticipated negative", func(e *Exposure) { e.AnticipatedAnxiety = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validExposure()
			tt.mutate(&e)
			err := e.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() failed: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestScale_DecodesLegacyStrings(t *testing.T) {
	var e Exposure
	data := `{"date":"2024-03-05","anticipatedAnxiety":"6.5","peakAnxiety":7,"graphAdded":true}`
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if e.AnticipatedAnxiety != 6.5 {
		t.Errorf("AnticipatedAnxiety = %v, want 6.5", e.AnticipatedAnxiety)
	}
	if e.PeakAnxiety != 7 {
		t.Errorf("PeakAnxiety = %v, want 7", e.PeakAnxiety)
	}
	if !e.GraphAdded {
		t.Error("GraphAdded = false, want true")
	}

	var s Scale
	if err := json.Unmarshal([]byte(`"high"`), &s); err == nil {
		t.Error("expected error for non-numeric scale")
	}
}

func TestCountInWeek(t *testing.T) {
	list := []Exposure{
		{Date: "2024-03-02"}, // Saturday, previous week
		{Date: "2024-03-03"}, // Sunday
		{Date: "2024-03-06"},
		{Date: "2024-03-09"}, // Saturday
		{Date: "2024-03-10"}, // next Sunday
		{Date: "garbage"},
	}
	day, _ := ParseDate("2024-03-05")

	if got := CountInWeek(list, day); got != 3 {
		t.Errorf("CountInWeek() = %d, want 3", got)
	}
}

func TestWeekBounds(t *testing.T) {
	day := time.Date(2024, 3, 7, 15, 4, 0, 0, time.UTC) // Thursday
	start, end := WeekBounds(day)

	if want := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if end.Weekday() != time.Saturday || end.Day() != 9 || end.Hour() != 23 {
		t.Errorf("end = %v, want Saturday 2024-03-09 23:59", end)
	}
}
