// Package catalog holds the read-only service, add-on and practitioner
// descriptions a booking session threads through its stages. Browsing the
// catalog itself belongs to an external content service.
package catalog

import "strings"

// Kind distinguishes services with clinical gating.
type Kind string

const (
	KindStandard  Kind = "standard"
	KindTreatment Kind = "treatment"
)

// AddOn is a variant of a service with its own duration and price.
type AddOn struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"durationMinutes"`
	PriceCents      int64  `json:"priceCents"`
	Active          bool   `json:"active"`
	// Selectable is false for add-ons the clinic applies automatically.
	Selectable bool `json:"selectable"`
}

// Service is a bookable clinic service.
type Service struct {
	ID                     string  `json:"id"`
	Name                   string  `json:"name"`
	Kind                   Kind    `json:"kind"`
	DefaultDurationMinutes int     `json:"defaultDurationMinutes"`
	PriceCents             int64   `json:"priceCents"`
	AddOns                 []AddOn `json:"addOns,omitempty"`
}

// Resource is a schedulable practitioner.
type Resource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsTreatment reports whether the service requires a clinical indication
// before a patient may pick an add-on.
func (s Service) IsTreatment() bool {
	return Kind(strings.ToLower(string(s.Kind))) == KindTreatment
}

// ActiveAddOns returns the add-ons currently offered.
func (s Service) ActiveAddOns() []AddOn {
	out := make([]AddOn, 0, len(s.AddOns))
	for _, a := range s.AddOns {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

// SelectableAddOns returns active add-ons a patient may pick.
func (s Service) SelectableAddOns() []AddOn {
	out := make([]AddOn, 0, len(s.AddOns))
	for _, a := range s.ActiveAddOns() {
		if a.Selectable {
			out = append(out, a)
		}
	}
	return out
}

// LongestAddOn returns the active add-on with the greatest duration. Ties keep
// catalog order.
func (s Service) LongestAddOn() (AddOn, bool) {
	var best AddOn
	found := false
	for _, a := range s.ActiveAddOns() {
		if !found || a.DurationMinutes > best.DurationMinutes {
			best = a
			found = true
		}
	}
	return best, found
}

// FindAddOn looks up an active add-on by id.
func (s Service) FindAddOn(id string) (AddOn, bool) {
	for _, a := range s.ActiveAddOns() {
		if a.ID == id {
			return a, true
		}
	}
	return AddOn{}, false
}

// ResolveDurationMinutes picks the duration fed to slot aggregation:
// explicit add-on, then the longest active add-on, then the service default,
// then a single atomic slot.
func ResolveDurationMinutes(svc Service, chosen *AddOn, granularityMinutes int) int {
	if chosen != nil && chosen.DurationMinutes > 0 {
		return chosen.DurationMinutes
	}
	if longest, ok := svc.LongestAddOn(); ok && longest.DurationMinutes > 0 {
		return longest.DurationMinutes
	}
	if svc.DefaultDurationMinutes > 0 {
		return svc.DefaultDurationMinutes
	}
	if granularityMinutes <= 0 {
		granularityMinutes = 15
	}
	return granularityMinutes
}
