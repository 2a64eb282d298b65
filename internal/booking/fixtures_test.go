package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-core/internal/catalog"
	"github.com/wolfman30/clinic-booking-core/internal/events"
	"github.com/wolfman30/clinic-booking-core/internal/holds"
	"github.com/wolfman30/clinic-booking-core/internal/identity"
	"github.com/wolfman30/clinic-booking-core/internal/payments"
	"github.com/wolfman30/clinic-booking-core/internal/slots"
)

const (
	testDate           = "2026-03-02"
	testResultEndpoint = "https://app.example.com/payments/result"
	testGatewayBase    = "https://pay.example.net"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

// morningSlots returns five available 15 minute slots from 08:00 in room-a.
func morningSlots() []slots.AtomicSlot {
	out := make([]slots.AtomicSlot, 0, 5)
	for i := 0; i < 5; i++ {
		start := at(8, 0).Add(time.Duration(i) * 15 * time.Minute)
		out = append(out, slots.AtomicSlot{
			ID:         fmt.Sprintf("s%s", start.Format("1504")),
			ResourceID: "dr-1",
			RoomID:     "room-a",
			Start:      start,
			End:        start.Add(15 * time.Minute),
			Status:     slots.StatusAvailable,
			IsActive:   true,
		})
	}
	return out
}

var (
	facial = catalog.Service{ID: "facial", Name: "Facial", Kind: catalog.KindStandard, DefaultDurationMinutes: 45, PriceCents: 9000}
	botox  = catalog.Service{
		ID: "botox", Name: "Botox", Kind: catalog.KindStandard, DefaultDurationMinutes: 30,
		AddOns: []catalog.AddOn{
			{ID: "a30", Name: "Forehead", DurationMinutes: 30, Active: true, Selectable: true},
			{ID: "a60", Name: "Full face", DurationMinutes: 60, Active: true, Selectable: true},
		},
	}
	peel = catalog.Service{
		ID: "peel", Name: "Chemical peel", Kind: catalog.KindStandard, DefaultDurationMinutes: 15,
		AddOns: []catalog.AddOn{
			{ID: "prep", Name: "Skin prep", DurationMinutes: 30, Active: true},
			{ID: "mask", Name: "Mask", DurationMinutes: 45, Active: true},
		},
	}
	laser = catalog.Service{
		ID: "laser", Name: "Laser resurfacing", Kind: catalog.KindTreatment, DefaultDurationMinutes: 30,
		AddOns: []catalog.AddOn{
			{ID: "spot", Name: "Spot", DurationMinutes: 15, Active: true, Selectable: true},
			{ID: "full", Name: "Full", DurationMinutes: 45, Active: true, Selectable: true},
		},
	}
	drOne = catalog.Resource{ID: "dr-1", Name: "Dr. One"}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeHolds claims slots in memory. Expiry is only reflected in ExpiresAt.
type fakeHolds struct {
	mu       sync.Mutex
	now      func() time.Time
	ttl      time.Duration
	owners   map[string]string
	seq      int
	requests []holds.Request
	released []string
}

func newFakeHolds(now func() time.Time) *fakeHolds {
	return &fakeHolds{now: now, ttl: 10 * time.Minute, owners: make(map[string]string)}
}

func (f *fakeHolds) Create(_ context.Context, req holds.Request) (*holds.Hold, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range req.SlotIDs {
		if _, taken := f.owners[id]; taken {
			return nil, &holds.ConflictError{SlotIDs: []string{id}, Reason: "held"}
		}
	}
	f.seq++
	orderID := fmt.Sprintf("order-%d", f.seq)
	for _, id := range req.SlotIDs {
		f.owners[id] = orderID
	}
	f.requests = append(f.requests, req)
	return &holds.Hold{
		OrderID:     orderID,
		AmountCents: 5000,
		SlotIDs:     append([]string(nil), req.SlotIDs...),
		ExpiresAt:   f.now().Add(f.ttl),
	}, nil
}

func (f *fakeHolds) Release(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for slot, owner := range f.owners {
		if owner == orderID {
			delete(f.owners, slot)
		}
	}
	f.released = append(f.released, orderID)
	return nil
}

func (f *fakeHolds) releasedOrders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type recordingPublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, env := range p.envs {
		if env.EventType == eventType {
			n++
		}
	}
	return n
}

// countingKV counts whole-session clears.
type countingKV struct {
	*MemoryKV
	clears atomic.Int32
}

func (c *countingKV) Apply(ctx context.Context, sets map[string][]byte, dels []string, ttl time.Duration) error {
	if len(sets) == 0 && len(dels) == 3 {
		c.clears.Add(1)
	}
	return c.MemoryKV.Apply(ctx, sets, dels, ttl)
}

// flakyClearKV fails the first whole-session clear.
type flakyClearKV struct {
	*MemoryKV
	failed atomic.Bool
}

func (f *flakyClearKV) Apply(ctx context.Context, sets map[string][]byte, dels []string, ttl time.Duration) error {
	if len(sets) == 0 && len(dels) == 3 && f.failed.CompareAndSwap(false, true) {
		return errors.New("connection reset")
	}
	return f.MemoryKV.Apply(ctx, sets, dels, ttl)
}

type harness struct {
	svc       *Service
	kv        KV
	mem       *MemoryKV
	catalog   *catalog.StaticSource
	source    *slots.StaticSource
	holds     *fakeHolds
	clock     *testClock
	published *recordingPublisher
	registry  *payments.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := NewMemoryKV()
	return newHarnessWithKV(t, mem, mem)
}

func newHarnessWithKV(t *testing.T, kv KV, mem *MemoryKV) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mem.WithClock(clock.Now)
	source := slots.NewStaticSource()
	source.Put("dr-1", testDate, morningSlots())
	cat := catalog.NewStaticSource()
	cat.PutService(facial, botox, peel, laser)
	cat.PutResource(drOne)
	cat.PutIndication("patient-1", laser.ID, "post-acne scarring")
	h := &harness{
		kv:        kv,
		mem:       mem,
		catalog:   cat,
		source:    source,
		holds:     newFakeHolds(clock.Now),
		clock:     clock,
		published: &recordingPublisher{},
		registry:  payments.NewRegistry(nil, payments.NewFakeGateway(testGatewayBase, nil)),
	}
	h.svc = h.newService()
	return h
}

// newService builds a fresh Service over the harness' persisted state, as a
// restarted process would.
func (h *harness) newService() *Service {
	resolver := payments.NewResolver(h.registry, "support@clinic.example")
	cfg := Config{Granularity: 15 * time.Minute, Tolerance: time.Minute, ResultEndpoint: testResultEndpoint}
	return NewService(NewStore(h.kv, time.Hour), h.catalog, h.source, h.holds, h.registry, resolver, cfg, nil).
		WithEvents(h.published).
		WithClock(h.clock.Now)
}

func authed(ctx context.Context) context.Context {
	return identity.WithPatientID(ctx, "patient-1")
}

// walkToWindows drives a fresh session for facial up to window selection.
func (h *harness) walkToWindows(t *testing.T, deviceID string) *Session {
	t.Helper()
	ctx := context.Background()
	_, err := h.svc.Start(ctx, deviceID)
	require.NoError(t, err)
	_, err = h.svc.SelectService(ctx, deviceID, facial.ID)
	require.NoError(t, err)
	_, err = h.svc.SelectResource(ctx, deviceID, drOne.ID)
	require.NoError(t, err)
	sess, err := h.svc.SelectDate(ctx, deviceID, testDate)
	require.NoError(t, err)
	require.Equal(t, StageWindowSelection, sess.Stage)
	return sess
}

// walkToPayment continues to payment_in_flight with the 08:00 window.
func (h *harness) walkToPayment(t *testing.T, deviceID string) *Session {
	t.Helper()
	h.walkToWindows(t, deviceID)
	ctx := authed(context.Background())
	_, err := h.svc.SelectWindow(ctx, deviceID, at(8, 0))
	require.NoError(t, err)
	_, err = h.svc.Confirm(ctx, deviceID, "")
	require.NoError(t, err)
	sess, err := h.svc.ChoosePaymentMethod(ctx, deviceID, payments.GatewayFake)
	require.NoError(t, err)
	require.Equal(t, StagePaymentInFlight, sess.Stage)
	return sess
}

func resultURL(outcome payments.Outcome, orderID, code string) string {
	return payments.ResultURL(testResultEndpoint, outcome, orderID, code, "", payments.GatewayFake)
}
