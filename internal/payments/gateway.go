// Package payments bridges a held booking into an external payment gateway and
// classifies where the gateway sends the patient afterwards.
package payments

import (
	"context"
	"net/url"
	"strings"
)

// Outcome is the shared result contract every gateway maps into.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeError   Outcome = "error"
)

// ParseOutcome accepts only terminal outcomes.
func ParseOutcome(raw string) (Outcome, bool) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(raw))); o {
	case OutcomeSuccess, OutcomeFailed, OutcomeError:
		return o, true
	}
	return "", false
}

// Reason is a gateway-independent explanation of an outcome. Every gateway
// vocabulary translates into this closed set.
type Reason string

const (
	ReasonPaid               Reason = "paid"
	ReasonUserCancelled      Reason = "user_cancelled"
	ReasonInsufficientFunds  Reason = "insufficient_funds"
	ReasonTimeout            Reason = "timeout"
	ReasonAccountLocked      Reason = "account_locked"
	ReasonAuthFailed         Reason = "authentication_failed"
	ReasonLimitExceeded      Reason = "limit_exceeded"
	ReasonDeclined           Reason = "declined"
	ReasonGatewayUnavailable Reason = "gateway_unavailable"
	ReasonSuspectedFraud     Reason = "suspected_fraud"
	ReasonOther              Reason = "other_failure"
)

// Terminal result endpoint query parameters.
const (
	ParamOutcome = "outcome"
	ParamOrderID = "orderId"
	ParamCode    = "code"
	ParamMessage = "message"
	ParamGateway = "gateway"
)

// InitiateParams describes the held order a gateway should charge.
type InitiateParams struct {
	OrderID     string
	AmountCents int64
	Description string
	// ReturnURL is the application's terminal result endpoint.
	ReturnURL string
}

// Initiation is where the patient is sent to pay.
type Initiation struct {
	Gateway    string
	URL        string
	ProviderID string
}

// Classification is a gateway's reading of a terminal URL.
type Classification struct {
	Outcome Outcome
	Reason  Reason
	Code    string
	OrderID string
	Message string
}

// Attempt is one in-flight payment. It is terminal once Outcome is no longer
// pending.
type Attempt struct {
	Gateway       string  `json:"gateway"`
	InitiationURL string  `json:"initiationUrl"`
	OrderID       string  `json:"orderId"`
	Outcome       Outcome `json:"outcome"`
	ResponseCode  string  `json:"responseCode,omitempty"`
}

// Terminal reports whether the attempt has a classified outcome.
func (a Attempt) Terminal() bool {
	return a.Outcome != "" && a.Outcome != OutcomePending
}

// Gateway is one interchangeable payment provider.
type Gateway interface {
	Name() string
	Initiate(ctx context.Context, params InitiateParams) (*Initiation, error)
	Classify(terminal *url.URL) Classification
}

// codeEntry is one row of a gateway's response-code vocabulary.
type codeEntry struct {
	outcome Outcome
	reason  Reason
}

type codeTable map[string]codeEntry

// classify reads the terminal parameters and maps code through table. The
// outcome parameter written by the payment backend is authoritative when
// present; the code only refines the reason.
func (t codeTable) classify(terminal *url.URL, normalize func(string) string) Classification {
	c := Classification{Outcome: OutcomeError, Reason: ReasonOther}
	if terminal == nil {
		return c
	}
	q := terminal.Query()
	c.OrderID = strings.TrimSpace(q.Get(ParamOrderID))
	c.Message = strings.TrimSpace(q.Get(ParamMessage))
	c.Code = strings.TrimSpace(q.Get(ParamCode))

	key := c.Code
	if normalize != nil {
		key = normalize(key)
	}
	entry, known := t[key]

	outcome, ok := ParseOutcome(q.Get(ParamOutcome))
	switch {
	case ok:
		c.Outcome = outcome
	case known:
		c.Outcome = entry.outcome
	}

	switch {
	case known && (entry.outcome == OutcomeSuccess) == (c.Outcome == OutcomeSuccess):
		c.Reason = entry.reason
	case c.Outcome == OutcomeSuccess:
		c.Reason = ReasonPaid
	default:
		c.Reason = ReasonOther
	}
	return c
}

// genericClassify is used when the gateway is unknown.
func genericClassify(terminal *url.URL) Classification {
	return codeTable(nil).classify(terminal, nil)
}

func isValidBaseURL(value string) bool {
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

func defaultDescription(desc string) string {
	if strings.TrimSpace(desc) == "" {
		return "Appointment deposit"
	}
	return desc
}

// ResultURL appends terminal parameters to the result endpoint. Existing
// query parameters on base are preserved.
func ResultURL(base string, outcome Outcome, orderID, code, message, gateway string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(ParamOutcome, string(outcome))
	q.Set(ParamOrderID, orderID)
	if code != "" {
		q.Set(ParamCode, code)
	}
	if message != "" {
		q.Set(ParamMessage, message)
	}
	if gateway != "" {
		q.Set(ParamGateway, gateway)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
