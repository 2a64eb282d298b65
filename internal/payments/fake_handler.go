package payments

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

// FakeHandler exposes a tiny demo checkout. Completing it goes through an
// intermediate callback hop, the way real gateways return to the payment
// backend, before the final redirect to the result endpoint.
// Only mount this handler when ALLOW_FAKE_PAYMENTS=true.
type FakeHandler struct {
	resultEndpoint string
	logger         *logging.Logger
}

// NewFakeHandler creates the demo checkout handler.
func NewFakeHandler(resultEndpoint string, logger *logging.Logger) *FakeHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeHandler{resultEndpoint: resultEndpoint, logger: logger}
}

// Routes is mounted under /demo.
func (h *FakeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/pay/{orderID}", h.HandleCheckout)
	r.Post("/pay/{orderID}/complete", h.HandleComplete)
	r.Get("/callback/{orderID}", h.HandleCallback)
	return r
}

func (h *FakeHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	cents, _ := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	escaped := html.EscapeString(orderID)
	action := "/demo/pay/" + url.PathEscape(orderID) + "/complete"

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Demo Checkout</title>
    <style>
      body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:680px;margin:40px auto;padding:0 16px;}
      .card{border:1px solid #e5e7eb;border-radius:12px;padding:18px;}
      .btn{display:inline-block;background:#111827;color:#fff;padding:12px 16px;border-radius:10px;border:0;cursor:pointer;margin-right:8px;}
      .muted{color:#6b7280;font-size:14px;}
      code{background:#f3f4f6;padding:2px 6px;border-radius:6px;}
    </style>
  </head>
  <body>
    <h1>Demo Checkout</h1>
    <div class="card">
      <p><strong>Amount:</strong> %.2f</p>
      <p class="muted">This is a demo-only payment page (no real payment is processed).</p>
      <form method="POST" action="%s">
        <button class="btn" type="submit" name="result" value="ok">Pay</button>
        <button class="btn" type="submit" name="result" value="declined">Decline</button>
        <button class="btn" type="submit" name="result" value="cancelled">Cancel</button>
      </form>
      <p class="muted">Order: <code>%s</code></p>
    </div>
  </body>
</html>`, float64(cents)/100.0, action, escaped)
}

// HandleComplete simulates the gateway returning the patient to the backend
// callback with gateway-specific parameters.
func (h *FakeHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	result := strings.ToLower(strings.TrimSpace(r.PostForm.Get("result")))
	if result == "" {
		result = "ok"
	}
	q := url.Values{}
	q.Set("fake_code", result)
	q.Set("fake_txn", "txn_"+orderID)
	http.Redirect(w, r, "/demo/callback/"+url.PathEscape(orderID)+"?"+q.Encode(), http.StatusSeeOther)
}

// HandleCallback plays the payment backend: it settles the callback and only
// then redirects to the application's result endpoint.
func (h *FakeHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	code := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("fake_code")))
	outcome := OutcomeError
	if entry, ok := fakeCodes[code]; ok {
		outcome = entry.outcome
	}
	h.logger.Info("demo payment settled", "order_id", orderID, "code", code, "outcome", outcome)
	http.Redirect(w, r, ResultURL(h.resultEndpoint, outcome, orderID, code, "", GatewayFake), http.StatusFound)
}
