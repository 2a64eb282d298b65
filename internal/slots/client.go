package slots

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

const defaultClientTimeout = 10 * time.Second

// Client queries the external scheduling service for atomic slots.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

// NewClient constructs a scheduling-service client.
func NewClient(baseURL string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultClientTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// WithHTTPClient overrides the transport (tests, custom timeouts).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// Slots implements Source. Inactive entries are dropped here since they are
// never eligible for booking.
func (c *Client) Slots(ctx context.Context, q Query) ([]AtomicSlot, error) {
	if strings.TrimSpace(q.ResourceID) == "" || strings.TrimSpace(q.Date) == "" {
		return nil, fmt.Errorf("slots: resource and date required")
	}
	params := url.Values{}
	params.Set("date", q.Date)
	if q.ServiceID != "" {
		params.Set("serviceId", q.ServiceID)
	}
	endpoint := fmt.Sprintf("%s/resources/%s/slots?%s", c.baseURL, url.PathEscape(q.ResourceID), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("slots: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slots: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("slots: scheduling service status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var wrapped struct {
		Slots []AtomicSlot `json:"slots"`
		Data  []AtomicSlot `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		return nil, fmt.Errorf("slots: decode: %w", err)
	}
	raw := wrapped.Slots
	if len(raw) == 0 {
		raw = wrapped.Data
	}

	out := make([]AtomicSlot, 0, len(raw))
	for _, s := range raw {
		if !s.IsActive {
			continue
		}
		if !s.Status.Valid() {
			c.logger.Warn("slots: unknown slot status", "slot_id", s.ID, "status", s.Status)
		}
		out = append(out, s)
	}
	c.logger.Debug("slots fetched", "resource_id", q.ResourceID, "date", q.Date, "count", len(out), "dropped", len(raw)-len(out))
	return out, nil
}
