// Package booking runs the resumable appointment booking workflow: selection
// of service, add-on, practitioner, date and window, the reservation hold, and
// the hand-off into a payment gateway.
package booking

import (
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-core/internal/catalog"
	"github.com/wolfman30/clinic-booking-core/internal/holds"
	"github.com/wolfman30/clinic-booking-core/internal/payments"
	"github.com/wolfman30/clinic-booking-core/internal/slots"
)

// SchemaVersion is bumped whenever the persisted layout changes. Sessions
// written under another version are discarded.
const SchemaVersion = 1

// ClinicalIndication is the clinician's note that unlocks add-on choice for
// treatment services. Empty means none on file.
type ClinicalIndication string

// Present reports whether an indication was recorded.
func (c ClinicalIndication) Present() bool {
	return strings.TrimSpace(string(c)) != ""
}

// Selection accumulates the patient's choices across stages.
type Selection struct {
	Service *catalog.Service `json:"service,omitempty"`
	AddOn   *catalog.AddOn   `json:"addOn,omitempty"`
	// AddOnAuto marks an add-on chosen by the workflow for duration only.
	AddOnAuto bool `json:"addOnAuto,omitempty"`
	// AddOnDecided is set once the add-on step is settled, including an
	// explicit "none".
	AddOnDecided bool               `json:"addOnDecided,omitempty"`
	Indication   ClinicalIndication `json:"indication,omitempty"`
	Resource     *catalog.Resource  `json:"resource,omitempty"`
	Date         string             `json:"date,omitempty"`
	Window       *slots.Window      `json:"window,omitempty"`
	Notes        string             `json:"notes,omitempty"`
}

// addOnPending reports whether the patient still has to settle the add-on
// step.
func (sel Selection) addOnPending() bool {
	if sel.Service == nil || sel.AddOnDecided {
		return false
	}
	if len(sel.Service.SelectableAddOns()) == 0 {
		return false
	}
	if sel.Service.IsTreatment() && !sel.Indication.Present() {
		return false
	}
	return true
}

// Session is the device-scoped booking aggregate.
type Session struct {
	Version    int                  `json:"version"`
	ID         string               `json:"id"`
	DeviceID   string               `json:"deviceId"`
	Stage      Stage                `json:"stage"`
	Suspended  bool                 `json:"suspended,omitempty"`
	Selection  Selection            `json:"selection"`
	Hold       *holds.Hold          `json:"hold,omitempty"`
	Gateway    string               `json:"gateway,omitempty"`
	Attempt    *payments.Attempt    `json:"attempt,omitempty"`
	Resolution *payments.Resolution `json:"resolution,omitempty"`
	// Windows carries the latest aggregation back to the caller. It is never
	// persisted.
	Windows   []slots.Window `json:"windows,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// frontier is the earliest stage whose input is still missing.
func (s *Session) frontier() Stage {
	sel := s.Selection
	switch {
	case sel.Service == nil:
		return StageServiceSelection
	case sel.addOnPending():
		return StageAddOnSelection
	case sel.Resource == nil:
		return StageResourceSelection
	case sel.Date == "":
		return StageDateSelection
	case sel.Window == nil:
		return StageWindowSelection
	case s.Hold == nil:
		return StageConfirmation
	case s.Attempt == nil:
		return StagePaymentMethodSelection
	default:
		return StagePaymentInFlight
	}
}

// consistent reports whether the persisted stage is backed by the selections
// it needs.
func (s *Session) consistent() bool {
	if !s.Stage.Forward() {
		return false
	}
	if s.frontier().Before(s.Stage) {
		return false
	}
	if s.Attempt != nil && (s.Hold == nil || s.Attempt.Terminal()) {
		return false
	}
	if s.Hold != nil && s.Attempt != nil && s.Attempt.OrderID != s.Hold.OrderID {
		return false
	}
	return true
}

// clearFrom drops every selection collected at or after stage. The caller
// releases the hold first.
func (s *Session) clearFrom(stage Stage) {
	idx := stage.index()
	sel := &s.Selection
	if idx <= StageServiceSelection.index() {
		sel.Service = nil
		sel.Indication = ""
	}
	if idx <= StageAddOnSelection.index() {
		sel.AddOn = nil
		sel.AddOnAuto = false
		sel.AddOnDecided = false
	}
	if idx <= StageResourceSelection.index() {
		sel.Resource = nil
	}
	if idx <= StageDateSelection.index() {
		sel.Date = ""
	}
	if idx <= StageWindowSelection.index() {
		sel.Window = nil
	}
	if idx <= StageConfirmation.index() {
		sel.Notes = ""
		s.Hold = nil
	}
	s.Gateway = ""
	s.Attempt = nil
	s.Resolution = nil
	s.Windows = nil
}
