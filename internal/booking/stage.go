package booking

// Stage is one step of the booking workflow.
type Stage string

const (
	StageServiceSelection       Stage = "service_selection"
	StageAddOnSelection         Stage = "addon_selection"
	StageResourceSelection      Stage = "resource_selection"
	StageDateSelection          Stage = "date_selection"
	StageWindowSelection        Stage = "window_selection"
	StageConfirmation           Stage = "confirmation"
	StagePaymentMethodSelection Stage = "payment_method_selection"
	StagePaymentInFlight        Stage = "payment_in_flight"
	StageTerminal               Stage = "terminal"
	StageAbandoned              Stage = "abandoned"
)

// forwardStages lists the workflow in order. Terminal and abandoned sit
// outside it.
var forwardStages = []Stage{
	StageServiceSelection,
	StageAddOnSelection,
	StageResourceSelection,
	StageDateSelection,
	StageWindowSelection,
	StageConfirmation,
	StagePaymentMethodSelection,
	StagePaymentInFlight,
}

// index returns the position in the forward workflow, or -1.
func (s Stage) index() int {
	for i, st := range forwardStages {
		if st == s {
			return i
		}
	}
	return -1
}

// Before reports whether s comes earlier in the forward workflow than other.
func (s Stage) Before(other Stage) bool {
	a, b := s.index(), other.index()
	return a >= 0 && b >= 0 && a < b
}

// Forward reports whether s is a resumable, non-final stage.
func (s Stage) Forward() bool {
	return s.index() >= 0
}

// Final reports whether the session has ended.
func (s Stage) Final() bool {
	return s == StageTerminal || s == StageAbandoned
}
