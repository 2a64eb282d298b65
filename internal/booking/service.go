package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-core/internal/catalog"
	"github.com/wolfman30/clinic-booking-core/internal/events"
	"github.com/wolfman30/clinic-booking-core/internal/holds"
	"github.com/wolfman30/clinic-booking-core/internal/identity"
	"github.com/wolfman30/clinic-booking-core/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-core/internal/payments"
	"github.com/wolfman30/clinic-booking-core/internal/slots"
	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

var bookingTracer = otel.Tracer("booking.internal.booking")

const dateLayout = "2006-01-02"

// Config tunes the workflow.
type Config struct {
	Granularity time.Duration
	Tolerance   time.Duration
	// ResultEndpoint is the absolute URL gateways finally redirect to.
	ResultEndpoint string
}

// NavigationResult is the outcome of one observed navigation.
type NavigationResult struct {
	Decision        payments.Decision    `json:"decision"`
	GatewayCallback bool                 `json:"gatewayCallback,omitempty"`
	Resolution      *payments.Resolution `json:"resolution,omitempty"`
	Session         *Session             `json:"session,omitempty"`
}

// Service orchestrates booking sessions. Operations on one device are
// serialized; different devices proceed in parallel.
type Service struct {
	store    *Store
	catalog  catalog.Source
	source   slots.Source
	holds    holds.Service
	registry *payments.Registry
	resolver *payments.Resolver
	cfg      Config
	logger   *logging.Logger
	events   events.Publisher
	metrics  *metrics.BookingMetrics
	now      func() time.Time

	locks deviceLocks

	obsMu     sync.Mutex
	observers map[string]*payments.Observer
}

// NewService wires the workflow to its collaborators.
func NewService(store *Store, cat catalog.Source, source slots.Source, holdSvc holds.Service, registry *payments.Registry, resolver *payments.Resolver, cfg Config, logger *logging.Logger) *Service {
	if store == nil {
		panic("booking: store cannot be nil")
	}
	if cat == nil {
		panic("booking: catalog cannot be nil")
	}
	if source == nil {
		panic("booking: slot source cannot be nil")
	}
	if holdSvc == nil {
		panic("booking: hold service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if registry == nil {
		registry = payments.NewRegistry(logger)
	}
	if resolver == nil {
		resolver = payments.NewResolver(registry, "")
	}
	if cfg.Granularity <= 0 {
		cfg.Granularity = slots.DefaultGranularity
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = slots.DefaultTolerance
	}
	return &Service{
		store:     store,
		catalog:   cat,
		source:    source,
		holds:     holdSvc,
		registry:  registry,
		resolver:  resolver,
		cfg:       cfg,
		logger:    logger.WithComponent("booking"),
		now:       time.Now,
		locks:     deviceLocks{locks: make(map[string]*deviceLock)},
		observers: make(map[string]*payments.Observer),
	}
}

// WithEvents publishes settlement and abandonment events to p.
func (s *Service) WithEvents(p events.Publisher) *Service {
	s.events = p
	return s
}

// WithMetrics records workflow metrics.
func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Gateways lists the payment methods the patient may choose from.
func (s *Service) Gateways() []string {
	return s.registry.Names()
}

// Start resumes the device's session or begins a new one.
func (s *Service) Start(ctx context.Context, deviceID string) (*Session, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(deviceID)
	defer unlock()

	sess, _, err := s.load(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		s.logger.Debug("booking session resumed", "device_id", deviceID, "stage", sess.Stage)
		return sess, nil
	}
	return s.create(ctx, deviceID)
}

// Session returns the persisted session without changing it.
func (s *Service) Session(ctx context.Context, deviceID string) (*Session, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(deviceID)
	defer unlock()
	return s.loadActive(ctx, deviceID)
}

// SelectService starts the selection over with the catalog service
// serviceID. The clinical indication is read for the logged-in patient;
// anonymous callers have none. Services without selectable add-ons, and
// treatments without an indication, skip the add-on step with the longest
// active add-on chosen for duration only.
func (s *Service) SelectService(ctx context.Context, deviceID, serviceID string) (*Session, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	svc, err := s.catalog.Service(ctx, strings.TrimSpace(serviceID))
	if err != nil {
		return nil, lookupError("service", err)
	}
	if err := validateDurations(svc); err != nil {
		return nil, err
	}
	var indication ClinicalIndication
	if patientID, ok := identity.PatientIDFromContext(ctx); ok {
		raw, err := s.catalog.Indication(ctx, patientID, svc.ID)
		if err != nil {
			return nil, fmt.Errorf("booking: load indication: %w", err)
		}
		indication = ClinicalIndication(raw)
	}
	return s.mutate(ctx, deviceID, StageServiceSelection, func(sess *Session) error {
		s.releaseHold(ctx, sess)
		sess.clearFrom(StageServiceSelection)
		sess.Selection.Service = &svc
		sess.Selection.Indication = indication
		if len(svc.SelectableAddOns()) == 0 || (svc.IsTreatment() && !indication.Present()) {
			if longest, ok := svc.LongestAddOn(); ok {
				sess.Selection.AddOn = &longest
				sess.Selection.AddOnAuto = true
			}
			sess.Selection.AddOnDecided = true
		}
		return nil
	})
}

// SelectAddOn records the patient's add-on. An empty id means none.
func (s *Service) SelectAddOn(ctx context.Context, deviceID, addOnID string) (*Session, error) {
	return s.mutate(ctx, deviceID, StageAddOnSelection, func(sess *Session) error {
		svc := sess.Selection.Service
		if svc.IsTreatment() && !sess.Selection.Indication.Present() {
			return ErrIndicationRequired
		}
		if len(svc.SelectableAddOns()) == 0 {
			return ErrAddOnNotSelectable
		}
		var chosen *catalog.AddOn
		if id := strings.TrimSpace(addOnID); id != "" {
			addOn, ok := svc.FindAddOn(id)
			if !ok || !addOn.Selectable {
				return fmt.Errorf("%w: %q", ErrAddOnNotSelectable, id)
			}
			chosen = &addOn
		}
		s.releaseHold(ctx, sess)
		sess.clearFrom(StageAddOnSelection)
		sess.Selection.AddOn = chosen
		sess.Selection.AddOnDecided = true
		return nil
	})
}

// SelectResource records the catalog practitioner resourceID.
func (s *Service) SelectResource(ctx context.Context, deviceID, resourceID string) (*Session, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	res, err := s.catalog.Resource(ctx, strings.TrimSpace(resourceID))
	if err != nil {
		return nil, lookupError("resource", err)
	}
	return s.mutate(ctx, deviceID, StageResourceSelection, func(sess *Session) error {
		s.releaseHold(ctx, sess)
		sess.clearFrom(StageResourceSelection)
		sess.Selection.Resource = &res
		return nil
	})
}

// SelectDate records the appointment date (YYYY-MM-DD).
func (s *Service) SelectDate(ctx context.Context, deviceID, date string) (*Session, error) {
	date = strings.TrimSpace(date)
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date %q", ErrInvalidSelection, date)
	}
	return s.mutate(ctx, deviceID, StageDateSelection, func(sess *Session) error {
		s.releaseHold(ctx, sess)
		sess.clearFrom(StageDateSelection)
		sess.Selection.Date = date
		return nil
	})
}

// Windows fetches fresh slots and aggregates them for the session's duration.
// The session is returned with Windows populated.
func (s *Service) Windows(ctx context.Context, deviceID string) (*Session, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(deviceID)
	defer unlock()

	sess, err := s.loadActive(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, sess, StageWindowSelection); err != nil {
		return sess, err
	}
	windows, err := s.fetchWindows(ctx, sess)
	if err != nil {
		return sess, err
	}
	sess.Windows = windows
	return sess, nil
}

// SelectWindow picks the window starting at start. It must be among the
// freshly fetched windows and available.
func (s *Service) SelectWindow(ctx context.Context, deviceID string, start time.Time) (*Session, error) {
	if start.IsZero() {
		return nil, fmt.Errorf("%w: window start required", ErrInvalidSelection)
	}
	return s.mutate(ctx, deviceID, StageWindowSelection, func(sess *Session) error {
		windows, err := s.fetchWindows(ctx, sess)
		if err != nil {
			return err
		}
		w, ok := slots.FindWindow(windows, start)
		if !ok || !w.Available {
			sess.Windows = windows
			return ErrSlotUnavailable
		}
		s.releaseHold(ctx, sess)
		sess.clearFrom(StageWindowSelection)
		sess.Selection.Window = &w
		return nil
	})
}

// Confirm places a hold on the chosen window. Unauthenticated callers suspend
// the session at confirmation until Resume.
func (s *Service) Confirm(ctx context.Context, deviceID, notes string) (*Session, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	ctx, span := bookingTracer.Start(ctx, "booking.confirm")
	defer span.End()

	unlock := s.locks.lock(deviceID)
	defer unlock()

	sess, err := s.loadActive(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, sess, StageConfirmation); err != nil {
		return sess, err
	}
	if sess.Hold != nil {
		if sess.Hold.Expired(s.now()) {
			return s.backToWindows(ctx, sess, ErrHoldExpired)
		}
		return sess, nil
	}

	patientID, ok := identity.PatientIDFromContext(ctx)
	if !ok {
		sess.Suspended = true
		s.setStage(sess, StageConfirmation)
		if err := s.persist(ctx, sess); err != nil {
			return nil, err
		}
		return sess, ErrAuthenticationRequired
	}

	sel := sess.Selection
	req := holds.Request{
		PatientID:  patientID,
		ServiceID:  sel.Service.ID,
		ResourceID: sel.Resource.ID,
		SlotIDs:    sel.Window.SlotIDs(),
		Date:       sel.Date,
		Notes:      strings.TrimSpace(notes),
	}
	if sel.AddOn != nil && !sel.AddOnAuto {
		req.AddOnID = sel.AddOn.ID
	}
	span.SetAttributes(
		attribute.String("booking.resource_id", req.ResourceID),
		attribute.Int("booking.slot_count", len(req.SlotIDs)),
	)

	hold, err := s.holds.Create(ctx, req)
	if err != nil {
		if errors.Is(err, holds.ErrConflict) {
			s.metrics.ObserveHold("conflict")
			s.emit(ctx, sess, events.HoldConflictV1{
				SessionID:  sess.ID,
				ResourceID: req.ResourceID,
				SlotIDs:    req.SlotIDs,
				DetectedAt: s.now().UTC(),
			})
			return s.backToWindows(ctx, sess, fmt.Errorf("%w: %w", ErrSlotUnavailable, err))
		}
		s.metrics.ObserveHold("error")
		return sess, fmt.Errorf("booking: create hold: %w", err)
	}
	s.metrics.ObserveHold("created")

	sess.Suspended = false
	sess.Hold = hold
	sess.Selection.Notes = req.Notes
	s.setStage(sess, sess.frontier())
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("booking hold created", "device_id", deviceID, "order_id", hold.OrderID, "expires_at", hold.ExpiresAt)
	return sess, nil
}

// Resume lifts an authentication suspension once the caller is logged in.
// The session stays at the stage it was suspended in.
func (s *Service) Resume(ctx context.Context, deviceID string) (*Session, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(deviceID)
	defer unlock()

	sess, err := s.loadActive(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if _, ok := identity.PatientIDFromContext(ctx); !ok {
		return sess, ErrAuthenticationRequired
	}
	if !sess.Suspended {
		return sess, nil
	}
	sess.Suspended = false
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ChoosePaymentMethod asks the named gateway for an initiation URL and moves
// the session into payment_in_flight.
func (s *Service) ChoosePaymentMethod(ctx context.Context, deviceID, gateway string) (*Session, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	ctx, span := bookingTracer.Start(ctx, "booking.choose_payment_method")
	defer span.End()
	span.SetAttributes(attribute.String("booking.gateway", gateway))

	unlock := s.locks.lock(deviceID)
	defer unlock()

	sess, err := s.loadActive(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, sess, StagePaymentMethodSelection); err != nil {
		return sess, err
	}
	if sess.Hold.Expired(s.now()) {
		return s.backToWindows(ctx, sess, ErrHoldExpired)
	}
	desc := ""
	if sess.Selection.Service != nil {
		desc = sess.Selection.Service.Name + " deposit"
	}
	initiation, err := s.registry.Initiate(ctx, gateway, payments.InitiateParams{
		OrderID:     sess.Hold.OrderID,
		AmountCents: sess.Hold.AmountCents,
		Description: desc,
		ReturnURL:   s.cfg.ResultEndpoint,
	})
	if errors.Is(err, payments.ErrGatewayNotFound) {
		return sess, fmt.Errorf("%w: %w", ErrUnknownGateway, err)
	}
	if err != nil {
		return sess, fmt.Errorf("booking: initiate %s payment: %w", gateway, err)
	}
	name := initiation.Gateway
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(gateway))
	}
	obs, err := payments.NewObserver(s.cfg.ResultEndpoint, initiation.URL)
	if err != nil {
		return sess, fmt.Errorf("booking: %w", err)
	}

	sess.Gateway = name
	sess.Attempt = &payments.Attempt{
		Gateway:       name,
		InitiationURL: initiation.URL,
		OrderID:       sess.Hold.OrderID,
		Outcome:       payments.OutcomePending,
	}
	s.setStage(sess, StagePaymentInFlight)
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	s.setObserver(deviceID, obs)
	s.logger.Info("payment initiated", "device_id", deviceID, "gateway", name, "order_id", sess.Hold.OrderID)
	return sess, nil
}

// ObserveNavigation feeds one navigation of the embedded payment surface into
// the session. Only the first arrival at the result endpoint settles it.
func (s *Service) ObserveNavigation(ctx context.Context, deviceID, rawURL string) (*NavigationResult, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(deviceID)
	defer unlock()

	obs := s.observer(deviceID)
	if obs == nil {
		sess, err := s.loadActive(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		if sess.Stage != StagePaymentInFlight || sess.Attempt == nil {
			return nil, ErrNoPaymentInFlight
		}
		obs, err = payments.NewObserver(s.cfg.ResultEndpoint, sess.Attempt.InitiationURL)
		if err != nil {
			return nil, fmt.Errorf("booking: %w", err)
		}
		s.setObserver(deviceID, obs)
	}

	o := obs.Observe(rawURL)
	s.metrics.ObserveNavigation(string(o.Decision))
	if o.Decision != payments.DecisionTerminal {
		return &NavigationResult{Decision: o.Decision, GatewayCallback: o.GatewayCallback}, nil
	}
	res, err := s.settle(ctx, deviceID, o)
	if err != nil && res == nil {
		// Nothing settled; the next result-endpoint arrival must be terminal again.
		s.dropObserver(deviceID)
	}
	return res, err
}

func (s *Service) settle(ctx context.Context, deviceID string, o payments.Observation) (*NavigationResult, error) {
	sess, err := s.loadActive(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if sess.Stage != StagePaymentInFlight || sess.Attempt == nil {
		return nil, ErrNoPaymentInFlight
	}

	res := s.resolver.Resolve(sess.Gateway, o.URL)
	if res.OrderID != "" && res.OrderID != sess.Attempt.OrderID {
		s.logger.Warn("result endpoint order id mismatch", "device_id", deviceID, "expected", sess.Attempt.OrderID, "got", res.OrderID)
	}
	result := &NavigationResult{Decision: payments.DecisionTerminal, Resolution: &res}

	if res.Outcome == payments.OutcomeSuccess && sess.Hold.Expired(s.now()) {
		s.metrics.ObserveOutcome(sess.Gateway, "conflict", "hold_expired")
		s.logger.Warn("payment completed against expired hold", "device_id", deviceID, "order_id", sess.Hold.OrderID)
		sess, err = s.backToWindows(ctx, sess, ErrHoldExpired)
		result.Session = sess
		return result, err
	}

	sess.Attempt.Outcome = res.Outcome
	sess.Attempt.ResponseCode = res.Code
	sess.Resolution = &res
	s.setStage(sess, StageTerminal)
	if res.Outcome == payments.OutcomeFailed {
		s.releaseHold(ctx, sess)
	}
	if err := s.store.Clear(ctx, deviceID); err != nil {
		return nil, err
	}
	s.metrics.ObserveOutcome(sess.Gateway, string(res.Outcome), string(res.Reason))

	evt := events.BookingSettledV1{
		SessionID: sess.ID,
		DeviceID:  deviceID,
		OrderID:   sess.Attempt.OrderID,
		Gateway:   sess.Gateway,
		Outcome:   string(res.Outcome),
		Reason:    string(res.Reason),
		Code:      res.Code,
		SettledAt: s.now().UTC(),
	}
	if patientID, ok := identity.PatientIDFromContext(ctx); ok {
		evt.PatientID = patientID
	}
	if sel := sess.Selection; sel.Window != nil {
		evt.ServiceID = sel.Service.ID
		evt.ResourceID = sel.Resource.ID
		evt.SlotIDs = sel.Window.SlotIDs()
		evt.WindowStart = sel.Window.Start
	}
	s.emit(ctx, sess, evt)
	s.logger.Info("booking settled", "device_id", deviceID, "gateway", sess.Gateway, "outcome", res.Outcome, "reason", res.Reason)

	result.Session = sess
	return result, nil
}

// Cancel abandons an in-flight payment and releases its hold.
func (s *Service) Cancel(ctx context.Context, deviceID string) (*Session, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(deviceID)
	defer unlock()

	sess, err := s.loadActive(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if sess.Stage != StagePaymentInFlight {
		return sess, ErrNoPaymentInFlight
	}
	return s.abandon(ctx, sess)
}

// Abandon ends the session from any stage. Abandoning twice is harmless.
func (s *Service) Abandon(ctx context.Context, deviceID string) (*Session, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(deviceID)
	defer unlock()

	sess, _, err := s.load(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		s.dropObserver(deviceID)
		return &Session{Version: SchemaVersion, DeviceID: deviceID, Stage: StageAbandoned}, nil
	}
	return s.abandon(ctx, sess)
}

func (s *Service) abandon(ctx context.Context, sess *Session) (*Session, error) {
	prior := sess.Stage
	orderID := ""
	if sess.Hold != nil {
		orderID = sess.Hold.OrderID
	}
	released := s.releaseHold(ctx, sess)
	if err := s.store.Clear(ctx, sess.DeviceID); err != nil {
		return nil, err
	}
	s.dropObserver(sess.DeviceID)
	sess.Hold = nil
	sess.Suspended = false
	s.setStage(sess, StageAbandoned)
	s.emit(ctx, sess, events.BookingAbandonedV1{
		SessionID:   sess.ID,
		DeviceID:    sess.DeviceID,
		Stage:       string(prior),
		OrderID:     orderID,
		HoldRelease: released,
		AbandonedAt: s.now().UTC(),
	})
	s.logger.Info("booking abandoned", "device_id", sess.DeviceID, "stage", prior, "hold_released", released)
	return sess, nil
}

// mutate runs fn against the device's session after requiring stage, then
// advances to the earliest stage still missing input and persists.
func (s *Service) mutate(ctx context.Context, deviceID string, stage Stage, fn func(*Session) error) (*Session, error) {
	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(deviceID)
	defer unlock()

	sess, err := s.loadActive(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, sess, stage); err != nil {
		return sess, err
	}
	if err := fn(sess); err != nil {
		return sess, err
	}
	s.setStage(sess, sess.frontier())
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// require routes sess to the earliest missing stage when target cannot be
// entered yet. Selections cannot change while a payment is in flight.
func (s *Service) require(ctx context.Context, sess *Session, target Stage) error {
	if sess.Stage == StagePaymentInFlight && target != StagePaymentInFlight {
		return ErrPaymentInFlight
	}
	f := sess.frontier()
	if !f.Before(target) {
		return nil
	}
	s.setStage(sess, f)
	if err := s.persist(ctx, sess); err != nil {
		return err
	}
	return &MissingSelectionError{Stage: f, Requested: target}
}

// backToWindows drops the window and hold, re-fetches availability and
// returns cause alongside the refreshed session.
func (s *Service) backToWindows(ctx context.Context, sess *Session, cause error) (*Session, error) {
	s.releaseHold(ctx, sess)
	s.dropObserver(sess.DeviceID)
	sess.clearFrom(StageWindowSelection)
	sess.Suspended = false
	s.setStage(sess, StageWindowSelection)
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	windows, err := s.fetchWindows(ctx, sess)
	if err != nil {
		s.logger.Warn("refresh windows after conflict failed", "device_id", sess.DeviceID, "error", err)
	}
	sess.Windows = windows
	return sess, cause
}

func (s *Service) fetchWindows(ctx context.Context, sess *Session) ([]slots.Window, error) {
	sel := sess.Selection
	duration := catalog.ResolveDurationMinutes(*sel.Service, sel.AddOn, int(s.cfg.Granularity/time.Minute))
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	raw, err := s.source.Slots(ctx, slots.Query{
		ResourceID: sel.Resource.ID,
		Date:       sel.Date,
		ServiceID:  sel.Service.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("booking: fetch slots: %w", err)
	}
	windows := slots.Aggregate(raw, duration, slots.Options{Granularity: s.cfg.Granularity, Tolerance: s.cfg.Tolerance})
	if sess.Hold != nil {
		windows = slots.Unlock(windows, sess.Hold.SlotIDs)
	}
	available := 0
	for _, w := range windows {
		if w.Available {
			available++
		}
	}
	s.metrics.ObserveWindows(len(windows), available)
	return windows, nil
}

// releaseHold frees the session's hold, if any, and reports success.
func (s *Service) releaseHold(ctx context.Context, sess *Session) bool {
	if sess.Hold == nil {
		return false
	}
	orderID := sess.Hold.OrderID
	sess.Hold = nil
	if err := s.holds.Release(ctx, orderID); err != nil {
		s.logger.Warn("hold release failed", "device_id", sess.DeviceID, "order_id", orderID, "error", err)
		s.metrics.ObserveHold("release_failed")
		return false
	}
	s.metrics.ObserveHold("released")
	return true
}

// load reads the persisted session, discarding corrupt state.
func (s *Service) load(ctx context.Context, deviceID string) (*Session, bool, error) {
	sess, err := s.store.Load(ctx, deviceID)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, errCorruptSession) {
		return nil, false, err
	}
	s.logger.Warn("discarding persisted booking session", "device_id", deviceID, "error", err)
	s.metrics.ObserveDiscarded()
	if orderID, ok := s.store.HeldOrder(ctx, deviceID); ok {
		if err := s.holds.Release(ctx, orderID); err != nil {
			s.logger.Warn("hold release for discarded session failed", "device_id", deviceID, "order_id", orderID, "error", err)
			s.metrics.ObserveHold("release_failed")
		} else {
			s.metrics.ObserveHold("released")
		}
	}
	if err := s.store.Clear(ctx, deviceID); err != nil {
		return nil, false, err
	}
	s.dropObserver(deviceID)
	return nil, true, nil
}

// loadActive returns the session or ErrNoSession. Discarded state restarts
// at service selection.
func (s *Service) loadActive(ctx context.Context, deviceID string) (*Session, error) {
	sess, discarded, err := s.load(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	if discarded {
		return s.create(ctx, deviceID)
	}
	return nil, ErrNoSession
}

func (s *Service) create(ctx context.Context, deviceID string) (*Session, error) {
	now := s.now().UTC()
	sess := &Session{
		Version:   SchemaVersion,
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		CreatedAt: now,
	}
	s.dropObserver(deviceID)
	s.setStage(sess, StageServiceSelection)
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("booking session started", "device_id", deviceID, "session_id", sess.ID)
	return sess, nil
}

func (s *Service) persist(ctx context.Context, sess *Session) error {
	sess.Version = SchemaVersion
	sess.UpdatedAt = s.now().UTC()
	return s.store.Save(ctx, sess)
}

func (s *Service) setStage(sess *Session, stage Stage) {
	if sess.Stage == stage {
		return
	}
	sess.Stage = stage
	s.metrics.ObserveTransition(string(stage))
}

func (s *Service) emit(ctx context.Context, sess *Session, evt events.CanonicalEvent) {
	if _, err := events.Emit(ctx, s.events, sess.ID, sess.DeviceID, evt); err != nil {
		s.logger.Warn("booking event not published", "event_type", evt.EventType(), "error", err)
	}
}

func (s *Service) observer(deviceID string) *payments.Observer {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	return s.observers[deviceID]
}

func (s *Service) setObserver(deviceID string, obs *payments.Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers[deviceID] = obs
}

func (s *Service) dropObserver(deviceID string) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	delete(s.observers, deviceID)
}

func checkDevice(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: device id required", ErrInvalidSelection)
	}
	return nil
}

func lookupError(kind string, err error) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrInvalidSelection, err)
	}
	return fmt.Errorf("booking: look up %s: %w", kind, err)
}

func validateDurations(svc catalog.Service) error {
	if svc.DefaultDurationMinutes < 0 {
		return fmt.Errorf("%w: service %s default %d", ErrInvalidDuration, svc.ID, svc.DefaultDurationMinutes)
	}
	for _, a := range svc.AddOns {
		if a.DurationMinutes < 0 {
			return fmt.Errorf("%w: add-on %s %d", ErrInvalidDuration, a.ID, a.DurationMinutes)
		}
	}
	return nil
}

// deviceLocks hands out one mutex per device, dropped when unused.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	mu   sync.Mutex
	refs int
}

func (d *deviceLocks) lock(deviceID string) func() {
	d.mu.Lock()
	l, ok := d.locks[deviceID]
	if !ok {
		l = &deviceLock{}
		d.locks[deviceID] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, deviceID)
		}
		d.mu.Unlock()
	}
}
