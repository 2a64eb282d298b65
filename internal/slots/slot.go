// Package slots turns fixed-size atomic time slots supplied by the scheduling
// service into bookable windows sized to a service duration.
package slots

import "time"

// Status is the availability state of one atomic slot.
type Status string

const (
	StatusAvailable Status = "available"
	StatusLocked    Status = "locked"
	StatusBooked    Status = "booked"
)

// severity ranks non-available states; higher blocks harder.
func (s Status) severity() int {
	switch s {
	case StatusAvailable:
		return 0
	case StatusLocked:
		return 1
	case StatusBooked:
		return 2
	default:
		// Unknown states from upstream are never offered as bookable.
		return 1
	}
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusLocked, StatusBooked:
		return true
	}
	return false
}

// AtomicSlot is the smallest indivisible bookable unit for one resource.
// It is an immutable snapshot owned by the slot source.
type AtomicSlot struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resourceId"`
	RoomID     string    `json:"roomId"`
	SubRoomID  string    `json:"subRoomId,omitempty"` // empty means no sub-room
	Start      time.Time `json:"startTime"`
	End        time.Time `json:"endTime"`
	Status     Status    `json:"status"`
	IsActive   bool      `json:"isActive"`
}

// Available reports whether the slot itself can be booked.
func (s AtomicSlot) Available() bool {
	return s.Status == StatusAvailable
}

// Window is a contiguous run of atomic slots covering one service duration.
// Windows are derived per query and never persisted by this package.
type Window struct {
	Slots          []AtomicSlot `json:"slots"`
	Start          time.Time    `json:"startTime"`
	End            time.Time    `json:"endTime"`
	Available      bool         `json:"isAvailable"`
	BlockingReason Status       `json:"blockingReason,omitempty"`
}

// SlotIDs returns member ids in time order.
func (w Window) SlotIDs() []string {
	ids := make([]string, 0, len(w.Slots))
	for _, s := range w.Slots {
		ids = append(ids, s.ID)
	}
	return ids
}

// RoomID returns the room shared by every member.
func (w Window) RoomID() string {
	if len(w.Slots) == 0 {
		return ""
	}
	return w.Slots[0].RoomID
}

// Duration is the span from the first member's start to the last member's end.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func newWindow(members []AtomicSlot) Window {
	w := Window{
		Slots:     append([]AtomicSlot(nil), members...),
		Start:     members[0].Start,
		End:       members[len(members)-1].End,
		Available: true,
	}
	worst := StatusAvailable
	for _, m := range members {
		if m.Status.severity() > worst.severity() {
			worst = m.Status
		}
	}
	if worst != StatusAvailable {
		w.Available = false
		w.BlockingReason = worst
		if !worst.Valid() {
			w.BlockingReason = StatusLocked
		}
	}
	return w
}
