package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

const defaultClientTimeout = 10 * time.Second

// Client reads the clinic catalog and patient indications from the content
// service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

// NewClient constructs a catalog client.
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

// Service implements Source.
func (c *Client) Service(ctx context.Context, id string) (Service, error) {
	var svc Service
	if strings.TrimSpace(id) == "" {
		return svc, fmt.Errorf("%w: empty service id", ErrNotFound)
	}
	if err := c.get(ctx, "/services/"+url.PathEscape(id), &svc); err != nil {
		return Service{}, fmt.Errorf("catalog: service %q: %w", id, err)
	}
	return svc, nil
}

// Resource implements Source.
func (c *Client) Resource(ctx context.Context, id string) (Resource, error) {
	var res Resource
	if strings.TrimSpace(id) == "" {
		return res, fmt.Errorf("%w: empty resource id", ErrNotFound)
	}
	if err := c.get(ctx, "/resources/"+url.PathEscape(id), &res); err != nil {
		return Resource{}, fmt.Errorf("catalog: resource %q: %w", id, err)
	}
	return res, nil
}

// Indication implements Source. A missing record is not an error.
func (c *Client) Indication(ctx context.Context, patientID, serviceID string) (string, error) {
	if strings.TrimSpace(patientID) == "" {
		return "", nil
	}
	var body struct {
		Indication string `json:"indication"`
	}
	path := fmt.Sprintf("/patients/%s/indications?serviceId=%s", url.PathEscape(patientID), url.QueryEscape(serviceID))
	err := c.get(ctx, path, &body)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("catalog: indication: %w", err)
	}
	return strings.TrimSpace(body.Indication), nil
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("content service status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
