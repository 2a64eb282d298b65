package holds

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

var holdsTracer = otel.Tracer("booking.internal.holds")

// Client calls the external hold service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient constructs a hold-service client.
func NewClient(baseURL string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type holdResponse struct {
	OrderID   string    `json:"orderId"`
	Amount    int64     `json:"amount"`
	SlotIDs   []string  `json:"slotIds"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type conflictResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	SlotIDs []string `json:"slotIds"`
}

// Create implements Service. A 409 becomes *ConflictError.
func (c *Client) Create(ctx context.Context, req Request) (*Hold, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, span := holdsTracer.Start(ctx, "holds.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.resource_id", req.ResourceID),
		attribute.Int("booking.slot_count", len(req.SlotIDs)),
	)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("holds: marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/holds", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("holds: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("holds: http: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		var conflict conflictResponse
		_ = json.NewDecoder(resp.Body).Decode(&conflict)
		span.SetAttributes(attribute.Bool("booking.hold_conflict", true))
		c.logger.Info("hold conflict", "resource_id", req.ResourceID, "slot_ids", conflict.SlotIDs, "code", conflict.Code)
		return nil, &ConflictError{SlotIDs: conflict.SlotIDs, Reason: conflict.Message}
	case resp.StatusCode >= http.StatusMultipleChoices:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("holds: service status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed holdResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("holds: decode: %w", err)
	}
	if parsed.OrderID == "" || parsed.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("holds: response missing order id or expiry")
	}
	slotIDs := parsed.SlotIDs
	if len(slotIDs) == 0 {
		slotIDs = append([]string(nil), req.SlotIDs...)
	}
	return &Hold{
		OrderID:     parsed.OrderID,
		AmountCents: parsed.Amount,
		SlotIDs:     slotIDs,
		ExpiresAt:   parsed.ExpiresAt,
	}, nil
}

// Release implements Service.
func (c *Client) Release(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return nil
	}
	endpoint := fmt.Sprintf("%s/holds/%s", c.baseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("holds: build release: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("holds: release http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("holds: release status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
