package booking

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/clinic-booking-core/internal/identity"
	"github.com/wolfman30/clinic-booking-core/internal/slots"
	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

// Handler exposes the booking workflow over HTTP. Every route expects the
// device id in the request context.
type Handler struct {
	svc      *Service
	logger   *logging.Logger
	location *time.Location
	shifts   []slots.Shift
}

// NewHandler creates the HTTP handler. loc is the clinic's timezone used for
// shift grouping.
func NewHandler(svc *Service, loc *time.Location, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, logger: logger, location: loc, shifts: slots.DefaultShifts}
}

// ConfirmLimiter wraps the hold-creating route. nil leaves it unlimited.
type ConfirmLimiter func(http.Handler) http.Handler

// Routes mounts the session endpoints.
func (h *Handler) Routes(confirmLimit ConfirmLimiter) chi.Router {
	r := chi.NewRouter()
	r.Post("/session", h.start)
	r.Get("/session", h.get)
	r.Delete("/session", h.abandon)
	r.Put("/session/service", h.selectService)
	r.Put("/session/addon", h.selectAddOn)
	r.Put("/session/resource", h.selectResource)
	r.Put("/session/date", h.selectDate)
	r.Get("/session/windows", h.windows)
	r.Put("/session/window", h.selectWindow)
	if confirmLimit != nil {
		r.With(confirmLimit).Post("/session/confirm", h.confirm)
	} else {
		r.Post("/session/confirm", h.confirm)
	}
	r.Post("/session/resume", h.resume)
	r.Get("/session/gateways", h.gateways)
	r.Post("/session/payment", h.choosePayment)
	r.Post("/session/navigation", h.navigation)
	r.Get("/session/navigation/ws", h.navigationStream)
	r.Post("/session/cancel", h.cancel)
	return r
}

// Selections carry catalog ids only; durations and indications are read
// server side.
type serviceRequest struct {
	ServiceID string `json:"serviceId"`
}

type resourceRequest struct {
	ResourceID string `json:"resourceId"`
}

type addOnRequest struct {
	AddOnID string `json:"addOnId"`
}

type dateRequest struct {
	Date string `json:"date"`
}

type windowRequest struct {
	StartTime time.Time `json:"startTime"`
}

type confirmRequest struct {
	Notes string `json:"notes,omitempty"`
}

type paymentRequest struct {
	Gateway string `json:"gateway"`
}

type navigationRequest struct {
	URL string `json:"url"`
}

type windowsResponse struct {
	Session *Session           `json:"session"`
	Windows []slots.Window     `json:"windows"`
	Shifts  []slots.ShiftGroup `json:"shifts"`
}

type errorResponse struct {
	Error     string   `json:"error"`
	Code      string   `json:"code"`
	Stage     Stage    `json:"stage,omitempty"`
	Requested Stage    `json:"requested,omitempty"`
	Session   *Session `json:"session,omitempty"`
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceFrom(r)
	sess, err := h.svc.Start(r.Context(), deviceID)
	h.respond(w, r, http.StatusOK, sess, err)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Session(r.Context(), deviceFrom(r))
	h.respond(w, r, http.StatusOK, sess, err)
}

func (h *Handler) abandon(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Abandon(r.Context(), deviceFrom(r))
	h.respond(w, r, http.StatusOK, sess, err)
}

func (h *Handler) selectService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.SelectService(r.Context(), deviceFrom(r), req.ServiceID)
	h.respond(w, r, http.StatusOK, sess, err)
}

func (h *Handler) selectAddOn(w http.ResponseWriter, r *http.Request) {
	var req addOnRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.SelectAddOn(r.Context(), deviceFrom(r), req.AddOnID)
	h.respond(w, r, http.StatusOK, sess, err)
}

func (h *Handler) selectResource(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.SelectResource(r.Context(), deviceFrom(r), req.ResourceID)
	h.respond(w, r, http.StatusOK, sess, err)
}

func (h *Handler) selectDate(w http.ResponseWriter, r *http.Request) {
	var req dateRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.SelectDate(r.Context(), deviceFrom(r), req.Date)
	h.respond(w, r, http.StatusOK, sess, err)
}

func (h *Handler) windows(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Windows(r.Context(), deviceFrom(r))
	if err != nil {
		h.respond(w, r, http.StatusOK, sess, err)
		return
	}
	windows := sess.Windows
	if windows == nil {
		windows = []slots.Window{}
	}
	writeJSON(w, http.StatusOK, windowsResponse{
		Session: sess,
		Windows: windows,
		Shifts:  slots.GroupByShift(windows, h.shifts, h.location),
	})
}

func (h *Handler) selectWindow(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.SelectWindow(r.Context(), deviceFrom(r), req.StartTime)
	h.respond(w, r, http.StatusOK, sess, err)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.Confirm(r.Context(), deviceFrom(r), req.Notes)
	h.respond(w, r, http.StatusCreated, sess, err)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Resume(r.Context(), deviceFrom(r))
	h.respond(w, r, http.StatusOK, sess, err)
}

func (h *Handler) gateways(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"gateways": h.svc.Gateways()})
}

func (h *Handler) choosePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.ChoosePaymentMethod(r.Context(), deviceFrom(r), req.Gateway)
	h.respond(w, r, http.StatusOK, sess, err)
}

func (h *Handler) navigation(w http.ResponseWriter, r *http.Request) {
	var req navigationRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.ObserveNavigation(r.Context(), deviceFrom(r), req.URL)
	if err != nil {
		var sess *Session
		if res != nil {
			sess = res.Session
		}
		h.writeError(w, r, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Cancel(r.Context(), deviceFrom(r))
	h.respond(w, r, http.StatusOK, sess, err)
}

type navigationFrame struct {
	Type string `json:"type"` // "navigation" or "ping"
	URL  string `json:"url,omitempty"`
}

type decisionFrame struct {
	Type   string            `json:"type"` // "decision", "pong" or "error"
	Result *NavigationResult `json:"result,omitempty"`
	Error  *errorResponse    `json:"error,omitempty"`
}

// navigationStream lets the embedded browsing surface push navigation events
// over one connection. Events are handled in arrival order.
func (h *Handler) navigationStream(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceFrom(r)
	websocket.Handler(func(conn *websocket.Conn) {
		// The hijacked connection keeps the server's request deadlines.
		if err := conn.SetDeadline(time.Time{}); err != nil {
			h.logger.Warn("navigation stream deadline reset failed", "device_id", deviceID, "error", err)
		}
		h.logger.Debug("navigation stream opened", "device_id", deviceID)
		for {
			var frame navigationFrame
			if err := websocket.JSON.Receive(conn, &frame); err != nil {
				h.logger.Debug("navigation stream closed", "device_id", deviceID, "error", err)
				return
			}
			switch frame.Type {
			case "ping":
				_ = websocket.JSON.Send(conn, decisionFrame{Type: "pong"})
				continue
			case "navigation":
			default:
				continue
			}

			res, err := h.svc.ObserveNavigation(r.Context(), deviceID, frame.URL)
			if err != nil {
				body, _ := describeError(err)
				if res != nil {
					body.Session = res.Session
				}
				_ = websocket.JSON.Send(conn, decisionFrame{Type: "error", Error: &body})
				continue
			}
			_ = websocket.JSON.Send(conn, decisionFrame{Type: "decision", Result: res})
		}
	}).ServeHTTP(w, r)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, sess *Session, err error) {
	if err != nil {
		h.writeError(w, r, sess, err)
		return
	}
	writeJSON(w, status, sess)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, sess *Session, err error) {
	body, status := describeError(err)
	body.Session = sess
	if status >= http.StatusInternalServerError {
		h.logger.Error("booking request failed", "path", r.URL.Path, "device_id", deviceFrom(r), "error", err)
	}
	writeJSON(w, status, body)
}

// describeError maps workflow errors onto a status and a stable code.
func describeError(err error) (errorResponse, int) {
	body := errorResponse{Error: err.Error()}
	var missing *MissingSelectionError
	switch {
	case errors.As(err, &missing):
		body.Code = "missing_selection"
		body.Stage = missing.Stage
		body.Requested = missing.Requested
		return body, http.StatusConflict
	case errors.Is(err, ErrSlotUnavailable):
		body.Code = "slot_unavailable"
		return body, http.StatusConflict
	case errors.Is(err, ErrHoldExpired):
		body.Code = "hold_expired"
		return body, http.StatusConflict
	case errors.Is(err, ErrAuthenticationRequired):
		body.Code = "authentication_required"
		return body, http.StatusUnauthorized
	case errors.Is(err, ErrNoSession):
		body.Code = "no_session"
		return body, http.StatusNotFound
	case errors.Is(err, ErrPaymentInFlight):
		body.Code = "payment_in_flight"
		return body, http.StatusConflict
	case errors.Is(err, ErrNoPaymentInFlight):
		body.Code = "no_payment_in_flight"
		return body, http.StatusConflict
	case errors.Is(err, ErrUnknownGateway):
		body.Code = "unknown_gateway"
		return body, http.StatusBadRequest
	case errors.Is(err, ErrAddOnNotSelectable), errors.Is(err, ErrIndicationRequired):
		body.Code = "addon_not_selectable"
		return body, http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidSelection), errors.Is(err, ErrInvalidDuration):
		body.Code = "invalid_selection"
		return body, http.StatusBadRequest
	default:
		body.Code = "internal"
		return body, http.StatusInternalServerError
	}
}

func deviceFrom(r *http.Request) string {
	id, _ := identity.DeviceIDFromContext(r.Context())
	return id
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "invalid payload: " + strings.TrimSpace(err.Error()),
			Code:  "invalid_payload",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
