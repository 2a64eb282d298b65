package booking

import (
	"errors"
	"fmt"

	"github.com/wolfman30/clinic-booking-core/internal/holds"
)

var (
	// ErrSlotUnavailable is returned when the chosen window can no longer be
	// held. The session is back at window selection with fresh windows.
	ErrSlotUnavailable = errors.New("booking: slot no longer available")
	// ErrHoldExpired is returned when the hold lapsed before payment finished.
	ErrHoldExpired = errors.New("booking: hold expired")
	// ErrAuthenticationRequired suspends the session until the patient logs in.
	ErrAuthenticationRequired = errors.New("booking: authentication required")
	// ErrInvalidDuration flags services or add-ons with negative durations.
	ErrInvalidDuration = errors.New("booking: invalid duration")
	// ErrUnknownGateway is returned for gateways that are not registered.
	ErrUnknownGateway = errors.New("booking: unknown payment gateway")
	// ErrNoSession means nothing is persisted for the device.
	ErrNoSession = errors.New("booking: no active session")
	// ErrPaymentInFlight rejects selection changes while a payment is open.
	ErrPaymentInFlight = errors.New("booking: payment in flight")
	// ErrNoPaymentInFlight rejects navigation and cancel outside payment.
	ErrNoPaymentInFlight = errors.New("booking: no payment in flight")
	// ErrInvalidSelection flags malformed ids, dates or times.
	ErrInvalidSelection = errors.New("booking: invalid selection")
	// ErrAddOnNotSelectable is returned when the add-on cannot be picked.
	ErrAddOnNotSelectable = errors.New("booking: add-on not selectable")
	// ErrIndicationRequired is returned when a treatment add-on is picked
	// without a clinical indication on file.
	ErrIndicationRequired = errors.New("booking: clinical indication required")
)

// MissingSelectionError reports that Requested cannot be entered yet. The
// session has been routed to Stage, the earliest step with missing input.
type MissingSelectionError struct {
	Stage     Stage
	Requested Stage
}

func (e *MissingSelectionError) Error() string {
	return fmt.Sprintf("booking: %s requires %s first", e.Requested, e.Stage)
}

// IsConflict reports whether err should send the patient back to window
// selection.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrHoldExpired) || errors.Is(err, holds.ErrConflict)
}
