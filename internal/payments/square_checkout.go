package payments

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

var squareTracer = otel.Tracer("booking.internal.payments.square")

// GatewaySquare is the registry name of the Square payment-link gateway.
const GatewaySquare = "square"

var squareCodes = codeTable{
	"COMPLETED":          {OutcomeSuccess, ReasonPaid},
	"CANCELED":           {OutcomeFailed, ReasonUserCancelled},
	"CARD_DECLINED":      {OutcomeFailed, ReasonDeclined},
	"GENERIC_DECLINE":    {OutcomeFailed, ReasonDeclined},
	"CARD_EXPIRED":       {OutcomeFailed, ReasonDeclined},
	"CVV_FAILURE":        {OutcomeFailed, ReasonAuthFailed},
	"INSUFFICIENT_FUNDS": {OutcomeFailed, ReasonInsufficientFunds},
	"TRANSACTION_LIMIT":  {OutcomeFailed, ReasonLimitExceeded},
	"TEMPORARY_ERROR":    {OutcomeError, ReasonGatewayUnavailable},
}

// SquareGateway creates hosted Square payment links.
type SquareGateway struct {
	accessToken string
	locationID  string
	currency    string
	baseURL     string
	httpClient  *http.Client
	logger      *logging.Logger
}

// NewSquareGateway creates a Square gateway for one location.
func NewSquareGateway(accessToken, locationID string, logger *logging.Logger) *SquareGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &SquareGateway{
		accessToken: accessToken,
		locationID:  locationID,
		currency:    "USD",
		baseURL:     "https://connect.squareup.com",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

// WithBaseURL overrides the Square API host (e.g., sandbox).
func (s *SquareGateway) WithBaseURL(baseURL string) *SquareGateway {
	if baseURL == "" {
		return s
	}
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

// Name implements Gateway.
func (s *SquareGateway) Name() string { return GatewaySquare }

// Initiate implements Gateway.
func (s *SquareGateway) Initiate(ctx context.Context, params InitiateParams) (*Initiation, error) {
	if s.accessToken == "" {
		return nil, fmt.Errorf("payments: no square credentials configured")
	}
	if s.locationID == "" {
		return nil, fmt.Errorf("payments: no square location_id configured")
	}
	if strings.TrimSpace(params.OrderID) == "" {
		return nil, fmt.Errorf("payments: square: order id required")
	}

	ctx, span := squareTracer.Start(ctx, "square.create_link")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.order_id", params.OrderID),
		attribute.Int64("booking.amount_cents", params.AmountCents),
	)

	meta := map[string]string{"order_id": params.OrderID}
	checkout := map[string]any{"ask_for_shipping_address": false}
	if params.ReturnURL != "" {
		// Square redirects only after a completed payment.
		checkout["redirect_url"] = ResultURL(params.ReturnURL, OutcomeSuccess, params.OrderID, "COMPLETED", "", GatewaySquare)
	}
	body := map[string]any{
		"idempotency_key": buildIdempotencyKey(params.OrderID, params.AmountCents),
		"order": map[string]any{
			"location_id":  s.locationID,
			"reference_id": params.OrderID,
			"metadata":     meta,
			"line_items": []map[string]any{
				{
					"name":     defaultDescription(params.Description),
					"quantity": "1",
					"base_price_money": map[string]any{
						"amount":   params.AmountCents,
						"currency": s.currency,
					},
				},
			},
		},
		"checkout_options": checkout,
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("payments: square payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/online-checkout/payment-links", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("payments: square request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("payments: square http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("payments: square api status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		PaymentLink struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"payment_link"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("payments: square decode: %w", err)
	}
	if parsed.PaymentLink.URL == "" {
		return nil, fmt.Errorf("payments: square response missing url")
	}
	return &Initiation{Gateway: GatewaySquare, URL: parsed.PaymentLink.URL, ProviderID: parsed.PaymentLink.ID}, nil
}

// Classify implements Gateway.
func (s *SquareGateway) Classify(terminal *url.URL) Classification {
	return squareCodes.classify(terminal, strings.ToUpper)
}

// buildIdempotencyKey is stable for one order and amount so a retried
// initiation returns the same link.
func buildIdempotencyKey(orderID string, amount int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", orderID, amount)))
	return hex.EncodeToString(sum[:])
}
