package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

// ErrGatewayNotFound is returned for a gateway name nobody registered.
var ErrGatewayNotFound = errors.New("payments: gateway not configured")

// Registry holds the gateways enabled for this deployment, keyed by name.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	order    []string
	logger   *logging.Logger
}

// NewRegistry creates a registry. Nil gateways are skipped so optional
// providers can be passed straight from configuration.
func NewRegistry(logger *logging.Logger, gateways ...Gateway) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Registry{gateways: make(map[string]Gateway), logger: logger}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds or replaces a gateway.
func (r *Registry) Register(g Gateway) {
	if g == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(g.Name()))
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.gateways[key]; !exists {
		r.order = append(r.order, key)
	}
	r.gateways[key] = g
	r.logger.Debug("payment gateway registered", "gateway", key)
}

// Get looks a gateway up by case-insensitive name.
func (r *Registry) Get(name string) (Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	return g, ok
}

// Names lists registered gateways in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Initiate delegates to the named gateway.
func (r *Registry) Initiate(ctx context.Context, name string, params InitiateParams) (*Initiation, error) {
	g, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGatewayNotFound, name)
	}
	return g.Initiate(ctx, params)
}
