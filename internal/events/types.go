package events

import "time"

// BookingSettledV1 is emitted once per payment attempt when the result
// endpoint is reached.
type BookingSettledV1 struct {
	SessionID   string    `json:"session_id"`
	DeviceID    string    `json:"device_id"`
	PatientID   string    `json:"patient_id,omitempty"`
	OrderID     string    `json:"order_id"`
	Gateway     string    `json:"gateway"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason"`
	Code        string    `json:"code,omitempty"`
	ServiceID   string    `json:"service_id"`
	ResourceID  string    `json:"resource_id"`
	SlotIDs     []string  `json:"slot_ids"`
	WindowStart time.Time `json:"window_start"`
	SettledAt   time.Time `json:"settled_at"`
}

// EventType implements CanonicalEvent.
func (BookingSettledV1) EventType() string {
	return "booking.payment.settled.v1"
}

// BookingAbandonedV1 is emitted when a session is cancelled or abandoned.
type BookingAbandonedV1 struct {
	SessionID   string    `json:"session_id"`
	DeviceID    string    `json:"device_id"`
	Stage       string    `json:"stage"`
	OrderID     string    `json:"order_id,omitempty"`
	HoldRelease bool      `json:"hold_released"`
	AbandonedAt time.Time `json:"abandoned_at"`
}

// EventType implements CanonicalEvent.
func (BookingAbandonedV1) EventType() string {
	return "booking.session.abandoned.v1"
}

// HoldConflictV1 records a lost hold race.
type HoldConflictV1 struct {
	SessionID  string    `json:"session_id"`
	ResourceID string    `json:"resource_id"`
	SlotIDs    []string  `json:"slot_ids"`
	DetectedAt time.Time `json:"detected_at"`
}

// EventType implements CanonicalEvent.
func (HoldConflictV1) EventType() string {
	return "booking.hold.conflict.v1"
}
