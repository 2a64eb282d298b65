package slots

import (
	"sort"
	"time"
)

const (
	// DefaultGranularity is the atomic slot size used by the scheduling service.
	DefaultGranularity = 15 * time.Minute
	// DefaultTolerance absorbs rounding noise between adjacent slot boundaries.
	DefaultTolerance = time.Minute
)

// Options tunes aggregation.
type Options struct {
	Granularity time.Duration
	Tolerance   time.Duration
}

// DefaultOptions returns the 15 minute / 1 minute defaults.
func DefaultOptions() Options {
	return Options{Granularity: DefaultGranularity, Tolerance: DefaultTolerance}
}

func (o Options) normalized() Options {
	if o.Granularity <= 0 {
		o.Granularity = DefaultGranularity
	}
	if o.Tolerance < 0 {
		o.Tolerance = 0
	}
	return o
}

// RequiredCount is ceil(duration / granularity). Non-positive durations yield 0.
func RequiredCount(durationMinutes int, granularity time.Duration) int {
	if durationMinutes <= 0 {
		return 0
	}
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	d := time.Duration(durationMinutes) * time.Minute
	n := int(d / granularity)
	if d%granularity != 0 {
		n++
	}
	return n
}

// Scan slides a window of size k across items and returns every run in which
// each adjacent pair satisfies adjacent. A failing pair only invalidates the
// runs that span it. Runs overlap: every feasible start index is offered.
func Scan[T any](items []T, k int, adjacent func(prev, next T) bool) [][]T {
	if k <= 0 || len(items) < k {
		return nil
	}
	// brokenAt[i] is true when items[i-1] -> items[i] is not adjacent.
	brokenAt := make([]bool, len(items))
	for i := 1; i < len(items); i++ {
		brokenAt[i] = !adjacent(items[i-1], items[i])
	}

	var runs [][]T
	for start := 0; start+k <= len(items); start++ {
		ok := true
		for i := start + 1; i < start+k; i++ {
			if brokenAt[i] {
				ok = false
				break
			}
		}
		if ok {
			runs = append(runs, items[start:start+k])
		}
	}
	return runs
}

// Continuous reports whether next directly follows prev in time and space:
// boundary gap within tolerance, same room and same sub-room.
func Continuous(tolerance time.Duration) func(prev, next AtomicSlot) bool {
	return func(prev, next AtomicSlot) bool {
		gap := next.Start.Sub(prev.End)
		if gap < 0 {
			gap = -gap
		}
		if gap > tolerance {
			return false
		}
		return prev.RoomID == next.RoomID && prev.SubRoomID == next.SubRoomID
	}
}

// Eligible drops inactive and malformed slots and orders the rest by start
// time. Status is kept so blocked windows can still be explained.
func Eligible(input []AtomicSlot) []AtomicSlot {
	out := make([]AtomicSlot, 0, len(input))
	for _, s := range input {
		if !s.IsActive || s.Start.IsZero() || !s.End.After(s.Start) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Aggregate builds candidate windows of ceil(duration/granularity) slots.
// It never fails: empty or malformed input simply yields no windows.
func Aggregate(input []AtomicSlot, durationMinutes int, opts Options) []Window {
	opts = opts.normalized()
	eligible := Eligible(input)
	if len(eligible) == 0 {
		return nil
	}

	k := RequiredCount(durationMinutes, opts.Granularity)
	if k <= 1 {
		windows := make([]Window, 0, len(eligible))
		for _, s := range eligible {
			windows = append(windows, newWindow([]AtomicSlot{s}))
		}
		return windows
	}

	runs := Scan(eligible, k, Continuous(opts.Tolerance))
	windows := make([]Window, 0, len(runs))
	for _, run := range runs {
		windows = append(windows, newWindow(run))
	}
	return windows
}

// FindWindow returns the window starting at start, if any.
func FindWindow(windows []Window, start time.Time) (Window, bool) {
	for _, w := range windows {
		if w.Start.Equal(start) {
			return w, true
		}
	}
	return Window{}, false
}

// Unlock re-evaluates windows as if locked slots in slotIDs were available.
// Callers pass the slots of their own hold so it does not block them.
func Unlock(windows []Window, slotIDs []string) []Window {
	if len(slotIDs) == 0 || len(windows) == 0 {
		return windows
	}
	own := make(map[string]bool, len(slotIDs))
	for _, id := range slotIDs {
		own[id] = true
	}
	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		members := append([]AtomicSlot(nil), w.Slots...)
		for i := range members {
			if members[i].Status == StatusLocked && own[members[i].ID] {
				members[i].Status = StatusAvailable
			}
		}
		if len(members) == 0 {
			out = append(out, w)
			continue
		}
		out = append(out, newWindow(members))
	}
	return out
}
