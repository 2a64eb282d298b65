package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

var stripeTracer = otel.Tracer("booking.internal.payments.stripe")

// GatewayStripe is the registry name of the Stripe Checkout gateway.
const GatewayStripe = "stripe"

var stripeCodes = codeTable{
	"paid":                    {OutcomeSuccess, ReasonPaid},
	"canceled":                {OutcomeFailed, ReasonUserCancelled},
	"card_declined":           {OutcomeFailed, ReasonDeclined},
	"expired_card":            {OutcomeFailed, ReasonDeclined},
	"incorrect_cvc":           {OutcomeFailed, ReasonAuthFailed},
	"authentication_required": {OutcomeFailed, ReasonAuthFailed},
	"insufficient_funds":      {OutcomeFailed, ReasonInsufficientFunds},
	"card_velocity_exceeded":  {OutcomeFailed, ReasonLimitExceeded},
	"fraudulent":              {OutcomeError, ReasonSuspectedFraud},
	"processing_error":        {OutcomeError, ReasonGatewayUnavailable},
}

// StripeGateway creates Stripe Checkout Sessions for the held amount.
type StripeGateway struct {
	secretKey  string
	baseURL    string
	apiVersion string
	currency   string
	httpClient *http.Client
	logger     *logging.Logger
	dryRun     bool
}

// NewStripeGateway creates a Stripe Checkout gateway.
func NewStripeGateway(secretKey string, logger *logging.Logger) *StripeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	dryRun := strings.EqualFold(os.Getenv("STRIPE_DRY_RUN"), "true") || os.Getenv("STRIPE_DRY_RUN") == "1"
	return &StripeGateway{
		secretKey:  secretKey,
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		currency:   "usd",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		dryRun:     dryRun,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (s *StripeGateway) WithBaseURL(baseURL string) *StripeGateway {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// WithDryRun enables dry-run mode (returns fake URLs without calling Stripe).
func (s *StripeGateway) WithDryRun(enabled bool) *StripeGateway {
	s.dryRun = enabled
	return s
}

// WithCurrency sets the ISO currency code charged.
func (s *StripeGateway) WithCurrency(currency string) *StripeGateway {
	if c := strings.ToLower(strings.TrimSpace(currency)); c != "" {
		s.currency = c
	}
	return s
}

// Name implements Gateway.
func (s *StripeGateway) Name() string { return GatewayStripe }

// Initiate implements Gateway.
func (s *StripeGateway) Initiate(ctx context.Context, params InitiateParams) (*Initiation, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_checkout_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.order_id", params.OrderID),
		attribute.Int64("booking.amount_cents", params.AmountCents),
	)

	if strings.TrimSpace(params.OrderID) == "" {
		return nil, fmt.Errorf("payments: stripe: order id required")
	}

	if s.dryRun {
		fakeID := "cs_dryrun_" + uuid.New().String()[:8]
		s.logger.Info("stripe dry run: skipping checkout session creation",
			"order_id", params.OrderID, "amount_cents", params.AmountCents)
		return &Initiation{
			Gateway:    GatewayStripe,
			URL:        fmt.Sprintf("https://checkout.stripe.com/dry-run/%s", fakeID),
			ProviderID: fakeID,
		}, nil
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", params.OrderID)
	form.Set("line_items[0][price_data][currency]", s.currency)
	form.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", params.AmountCents))
	form.Set("line_items[0][price_data][product_data][name]", defaultDescription(params.Description))
	form.Set("line_items[0][quantity]", "1")
	if params.ReturnURL != "" {
		form.Set("success_url", ResultURL(params.ReturnURL, OutcomeSuccess, params.OrderID, "paid", "", GatewayStripe))
		form.Set("cancel_url", ResultURL(params.ReturnURL, OutcomeFailed, params.OrderID, "canceled", "", GatewayStripe))
	}
	form.Set("metadata[order_id]", params.OrderID)
	form.Set("payment_intent_data[metadata][order_id]", params.OrderID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("payments: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Stripe-Version", s.apiVersion)
	req.Header.Set("Idempotency-Key", "booking-"+params.OrderID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("payments: stripe http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("payments: stripe api status %d: %s", resp.StatusCode, readStripeError(resp.Body))
	}

	var parsed stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("payments: stripe decode: %w", err)
	}
	if parsed.URL == "" {
		return nil, fmt.Errorf("payments: stripe response missing checkout url")
	}
	return &Initiation{Gateway: GatewayStripe, URL: parsed.URL, ProviderID: parsed.ID}, nil
}

// Classify implements Gateway.
func (s *StripeGateway) Classify(terminal *url.URL) Classification {
	return stripeCodes.classify(terminal, strings.ToLower)
}

// stripeCheckoutSession is the subset of Stripe's Checkout Session we need.
type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func readStripeError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 8192))
	if err != nil {
		return "unknown error"
	}
	var parsed stripeErrorResponse
	if json.Unmarshal(data, &parsed) == nil && parsed.Error.Message != "" {
		if parsed.Error.Code != "" {
			return parsed.Error.Code + ": " + parsed.Error.Message
		}
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(data))
}
