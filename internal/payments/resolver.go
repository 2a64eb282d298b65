package payments

import (
	"net/url"
	"strings"
)

// NextAction is what the patient is offered after a terminal outcome.
type NextAction string

const (
	NextViewAppointment           NextAction = "view_appointment"
	NextRetryFromServiceSelection NextAction = "retry_from_service_selection"
	NextContactSupport            NextAction = "contact_support"
)

var reasonMessages = map[Reason]string{
	ReasonPaid:               "Payment received. Your appointment is booked.",
	ReasonUserCancelled:      "The payment was cancelled.",
	ReasonInsufficientFunds:  "The account has insufficient funds.",
	ReasonTimeout:            "The payment session timed out.",
	ReasonAccountLocked:      "The card or account is locked.",
	ReasonAuthFailed:         "The payment could not be verified.",
	ReasonLimitExceeded:      "The payment exceeds the daily limit.",
	ReasonDeclined:           "The payment was declined.",
	ReasonGatewayUnavailable: "The payment provider is temporarily unavailable.",
	ReasonSuspectedFraud:     "The payment was flagged for review.",
	ReasonOther:              "The payment could not be completed (other failure).",
}

// MessageFor returns the shared human-readable message for a reason.
func MessageFor(reason Reason) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	return reasonMessages[ReasonOther]
}

// Resolution is the normalized result shown to the patient.
type Resolution struct {
	Gateway        string     `json:"gateway,omitempty"`
	OrderID        string     `json:"orderId,omitempty"`
	Outcome        Outcome    `json:"outcome"`
	Reason         Reason     `json:"reason"`
	Code           string     `json:"code,omitempty"`
	Message        string     `json:"message"`
	GatewayMessage string     `json:"gatewayMessage,omitempty"`
	NextAction     NextAction `json:"nextAction"`
	SupportContact string     `json:"supportContact,omitempty"`
}

// Retriable reports whether the patient may start over on their own.
func (r Resolution) Retriable() bool {
	return r.Outcome == OutcomeFailed
}

// Resolver turns terminal URLs into resolutions.
type Resolver struct {
	registry       *Registry
	supportContact string
}

// NewResolver creates a resolver. registry may be nil.
func NewResolver(registry *Registry, supportContact string) *Resolver {
	return &Resolver{registry: registry, supportContact: strings.TrimSpace(supportContact)}
}

// Resolve classifies terminal with the named gateway, falling back to the
// gateway query parameter and then to a generic reading.
func (r *Resolver) Resolve(gatewayName string, terminal *url.URL) Resolution {
	if gatewayName == "" && terminal != nil {
		gatewayName = terminal.Query().Get(ParamGateway)
	}
	var c Classification
	var g Gateway
	if r.registry != nil {
		g, _ = r.registry.Get(gatewayName)
	}
	if g != nil {
		c = g.Classify(terminal)
		gatewayName = g.Name()
	} else {
		c = genericClassify(terminal)
	}

	res := Resolution{
		Gateway:        strings.ToLower(gatewayName),
		OrderID:        c.OrderID,
		Outcome:        c.Outcome,
		Reason:         c.Reason,
		Code:           c.Code,
		Message:        MessageFor(c.Reason),
		GatewayMessage: c.Message,
	}
	switch c.Outcome {
	case OutcomeSuccess:
		res.NextAction = NextViewAppointment
	case OutcomeFailed:
		res.NextAction = NextRetryFromServiceSelection
	default:
		res.NextAction = NextContactSupport
		res.SupportContact = r.supportContact
	}
	return res
}
