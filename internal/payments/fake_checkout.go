package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

// GatewayFake is the registry name of the demo gateway.
const GatewayFake = "fake"

var fakeCodes = codeTable{
	"ok":           {OutcomeSuccess, ReasonPaid},
	"cancelled":    {OutcomeFailed, ReasonUserCancelled},
	"declined":     {OutcomeFailed, ReasonDeclined},
	"insufficient": {OutcomeFailed, ReasonInsufficientFunds},
	"timeout":      {OutcomeFailed, ReasonTimeout},
	"error":        {OutcomeError, ReasonOther},
}

// FakeGateway is a dev/demo gateway that sends the patient to an internal
// checkout page served by FakeHandler. No money moves.
//
// This MUST be gated by configuration (ALLOW_FAKE_PAYMENTS) and should never be
// enabled in production.
type FakeGateway struct {
	publicBaseURL string
	logger        *logging.Logger
}

// NewFakeGateway creates the demo gateway.
func NewFakeGateway(publicBaseURL string, logger *logging.Logger) *FakeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeGateway{
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		logger:        logger,
	}
}

// Name implements Gateway.
func (s *FakeGateway) Name() string { return GatewayFake }

// Initiate implements Gateway.
func (s *FakeGateway) Initiate(_ context.Context, params InitiateParams) (*Initiation, error) {
	if strings.TrimSpace(params.OrderID) == "" {
		return nil, fmt.Errorf("payments: fake checkout requires order id")
	}
	if s.publicBaseURL == "" {
		return nil, fmt.Errorf("payments: fake checkout requires PUBLIC_BASE_URL")
	}
	if !isValidBaseURL(s.publicBaseURL) {
		return nil, fmt.Errorf("payments: fake checkout PUBLIC_BASE_URL must be an absolute http(s) URL")
	}
	q := url.Values{}
	q.Set("amount", fmt.Sprintf("%d", params.AmountCents))
	checkoutURL := fmt.Sprintf("%s/demo/pay/%s?%s", s.publicBaseURL, url.PathEscape(params.OrderID), q.Encode())
	return &Initiation{Gateway: GatewayFake, URL: checkoutURL, ProviderID: "fake:" + params.OrderID}, nil
}

// Classify implements Gateway.
func (s *FakeGateway) Classify(terminal *url.URL) Classification {
	return fakeCodes.classify(terminal, strings.ToLower)
}
