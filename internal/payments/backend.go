package payments

import (
	"bytes"
	"context"
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

var backendTracer = otel.Tracer("booking.internal.payments.backend")

// BackendGateway initiates payments through the clinic payment backend, which
// signs requests for the gateway and later processes its callback before
// redirecting to the result endpoint.
type BackendGateway struct {
	name       string
	baseURL    string
	codes      codeTable
	normalize  func(string) string
	httpClient *http.Client
	logger     *logging.Logger
}

func newBackendGateway(name, baseURL string, codes codeTable, logger *logging.Logger) *BackendGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &BackendGateway{
		name:       name,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		codes:      codes,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithHTTPClient overrides the HTTP client (for testing).
func (g *BackendGateway) WithHTTPClient(client *http.Client) *BackendGateway {
	if client != nil {
		g.httpClient = client
	}
	return g
}

// Name implements Gateway.
func (g *BackendGateway) Name() string { return g.name }

type backendCreateRequest struct {
	OrderID     string `json:"orderId"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	ReturnURL   string `json:"returnUrl,omitempty"`
}

type backendCreateResponse struct {
	PaymentURL    string `json:"paymentUrl"`
	TransactionID string `json:"transactionId"`
}

// Initiate implements Gateway.
func (g *BackendGateway) Initiate(ctx context.Context, params InitiateParams) (*Initiation, error) {
	if strings.TrimSpace(params.OrderID) == "" {
		return nil, fmt.Errorf("payments: %s: order id required", g.name)
	}
	if params.AmountCents <= 0 {
		return nil, fmt.Errorf("payments: %s: amount must be positive", g.name)
	}
	if !isValidBaseURL(g.baseURL) {
		return nil, fmt.Errorf("payments: %s: PAYMENT_BACKEND_URL must be an absolute http(s) URL", g.name)
	}

	ctx, span := backendTracer.Start(ctx, g.name+".create_payment")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.order_id", params.OrderID),
		attribute.Int64("booking.amount_cents", params.AmountCents),
	)

	payload, err := json.Marshal(backendCreateRequest{
		OrderID:     params.OrderID,
		Amount:      params.AmountCents,
		Description: defaultDescription(params.Description),
		ReturnURL:   params.ReturnURL,
	})
	if err != nil {
		return nil, fmt.Errorf("payments: %s payload: %w", g.name, err)
	}
	endpoint := fmt.Sprintf("%s/payments/%s/create", g.baseURL, url.PathEscape(g.name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("payments: %s request: %w", g.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("payments: %s http: %w", g.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("payments: %s backend status %d: %s", g.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed backendCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("payments: %s decode: %w", g.name, err)
	}
	if parsed.PaymentURL == "" {
		return nil, fmt.Errorf("payments: %s response missing payment url", g.name)
	}

	g.logger.Info("payment initiated", "gateway", g.name, "order_id", params.OrderID)
	return &Initiation{Gateway: g.name, URL: parsed.PaymentURL, ProviderID: parsed.TransactionID}, nil
}

// Classify implements Gateway.
func (g *BackendGateway) Classify(terminal *url.URL) Classification {
	return g.codes.classify(terminal, g.normalize)
}
