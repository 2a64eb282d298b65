package slots

import "time"

// Shift is a named time-of-day band used only for presentation.
type Shift struct {
	Name string `json:"name"`
	// UntilHour is the exclusive upper bound in local hours; 24 for the last band.
	UntilHour int `json:"untilHour"`
}

// DefaultShifts splits the day into morning, afternoon and evening.
var DefaultShifts = []Shift{
	{Name: "morning", UntilHour: 12},
	{Name: "afternoon", UntilHour: 17},
	{Name: "evening", UntilHour: 24},
}

// ShiftGroup holds the windows starting within one shift.
type ShiftGroup struct {
	Shift   string   `json:"shift"`
	Windows []Window `json:"windows"`
}

// GroupByShift buckets windows by the hour of their start time in loc.
// Empty shifts are omitted and order follows shifts.
func GroupByShift(windows []Window, shifts []Shift, loc *time.Location) []ShiftGroup {
	if len(shifts) == 0 {
		shifts = DefaultShifts
	}
	if loc == nil {
		loc = time.UTC
	}
	buckets := make([][]Window, len(shifts))
	for _, w := range windows {
		hour := w.Start.In(loc).Hour()
		for i, s := range shifts {
			if hour < s.UntilHour || i == len(shifts)-1 {
				buckets[i] = append(buckets[i], w)
				break
			}
		}
	}

	groups := make([]ShiftGroup, 0, len(shifts))
	for i, s := range shifts {
		if len(buckets[i]) == 0 {
			continue
		}
		groups = append(groups, ShiftGroup{Shift: s.Name, Windows: buckets[i]})
	}
	return groups
}
