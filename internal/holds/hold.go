// Package holds talks to the reservation-hold service: a time-boxed soft
// lock over the atomic slots of one chosen window.
package holds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConflict matches every lost-race or already-held failure.
var ErrConflict = errors.New("holds: slot no longer available")

// ErrNotFound is returned when an order has no active hold.
var ErrNotFound = errors.New("holds: hold not found")

// ConflictError reports which slots were already held or booked.
type ConflictError struct {
	SlotIDs []string
	Reason  string
}

func (e *ConflictError) Error() string {
	msg := "holds: slot no longer available"
	if len(e.SlotIDs) > 0 {
		msg += " (" + strings.Join(e.SlotIDs, ",") + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Request asks for a hold over the slots of one window.
type Request struct {
	PatientID  string   `json:"patientId"`
	ServiceID  string   `json:"serviceId"`
	AddOnID    string   `json:"addOnId,omitempty"`
	ResourceID string   `json:"resourceId"`
	SlotIDs    []string `json:"slotIds"`
	Date       string   `json:"date"`
	Notes      string   `json:"notes,omitempty"`
}

// Validate checks the fields every hold service needs.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.PatientID) == "":
		return fmt.Errorf("holds: patient id required")
	case strings.TrimSpace(r.ServiceID) == "":
		return fmt.Errorf("holds: service id required")
	case strings.TrimSpace(r.ResourceID) == "":
		return fmt.Errorf("holds: resource id required")
	case len(r.SlotIDs) == 0:
		return fmt.Errorf("holds: at least one slot id required")
	}
	return nil
}

// Hold is an active soft reservation. ExpiresAt is authoritative and enforced
// by the hold service; callers must not assume validity past it.
type Hold struct {
	OrderID     string    `json:"orderId"`
	AmountCents int64     `json:"amount"`
	SlotIDs     []string  `json:"slotIds"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the hold is no longer valid at now.
func (h Hold) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// Remaining returns how long the hold stays valid, floored at zero.
func (h Hold) Remaining(now time.Time) time.Duration {
	if h.Expired(now) {
		return 0
	}
	return h.ExpiresAt.Sub(now)
}

// Service creates and releases holds.
type Service interface {
	Create(ctx context.Context, req Request) (*Hold, error)
	// Release signals intent to free the hold early. Releasing an unknown or
	// already expired hold is not an error.
	Release(ctx context.Context, orderID string) error
}
