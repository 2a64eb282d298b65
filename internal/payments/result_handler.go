package payments

import (
	"encoding/json"
	"net/http"

	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

// ResultHandler serves the terminal result endpoint. It renders the resolved
// outcome; the booking session itself is settled by the navigation observer.
type ResultHandler struct {
	resolver *Resolver
	logger   *logging.Logger
}

// NewResultHandler creates the result endpoint handler.
func NewResultHandler(resolver *Resolver, logger *logging.Logger) *ResultHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ResultHandler{resolver: resolver, logger: logger}
}

func (h *ResultHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := h.resolver.Resolve("", r.URL)
	h.logger.Info("payment result rendered", "order_id", res.OrderID, "outcome", res.Outcome, "reason", res.Reason, "gateway", res.Gateway)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}
