package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/clinic-booking-core/internal/holds"
	"github.com/wolfman30/clinic-booking-core/internal/payments"
)

const (
	keySelection = "booking:%s:selection"
	keyHold      = "booking:%s:hold"
	keyGateway   = "booking:%s:gateway"

	DefaultSessionTTL = 24 * time.Hour
)

// errCorruptSession marks persisted state that cannot be resumed.
var errCorruptSession = errors.New("booking: corrupt persisted session")

// KV is the device-scoped key-value surface sessions persist into. Apply must
// write sets and deletes together.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Apply(ctx context.Context, sets map[string][]byte, dels []string, ttl time.Duration) error
}

// sessionRecord is the layout of the selection key.
type sessionRecord struct {
	Version   int       `json:"version"`
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	Stage     Stage     `json:"stage"`
	Suspended bool      `json:"suspended,omitempty"`
	Selection Selection `json:"selection"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// gatewayRecord is the layout of the gateway key.
type gatewayRecord struct {
	Gateway string            `json:"gateway"`
	Attempt *payments.Attempt `json:"attempt,omitempty"`
}

// Store persists sessions as three keys that are written and cleared
// together.
type Store struct {
	kv  KV
	ttl time.Duration
}

// NewStore wraps kv. A non-positive ttl uses DefaultSessionTTL.
func NewStore(kv KV, ttl time.Duration) *Store {
	if kv == nil {
		panic("booking: kv store cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{kv: kv, ttl: ttl}
}

func sessionKeys(deviceID string) (selection, hold, gateway string) {
	return fmt.Sprintf(keySelection, deviceID), fmt.Sprintf(keyHold, deviceID), fmt.Sprintf(keyGateway, deviceID)
}

// Load returns the persisted session, nil when nothing is stored, or an error
// wrapping errCorruptSession for unusable state.
func (s *Store) Load(ctx context.Context, deviceID string) (*Session, error) {
	selKey, holdKey, gwKey := sessionKeys(deviceID)

	rawSel, okSel, err := s.kv.Get(ctx, selKey)
	if err != nil {
		return nil, fmt.Errorf("booking: load selection: %w", err)
	}
	rawHold, okHold, err := s.kv.Get(ctx, holdKey)
	if err != nil {
		return nil, fmt.Errorf("booking: load hold: %w", err)
	}
	rawGw, okGw, err := s.kv.Get(ctx, gwKey)
	if err != nil {
		return nil, fmt.Errorf("booking: load gateway: %w", err)
	}

	if !okSel {
		if okHold || okGw {
			return nil, fmt.Errorf("%w: orphaned hold or gateway key", errCorruptSession)
		}
		return nil, nil
	}

	var rec sessionRecord
	if err := json.Unmarshal(rawSel, &rec); err != nil {
		return nil, fmt.Errorf("%w: selection: %v", errCorruptSession, err)
	}
	if rec.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d", errCorruptSession, rec.Version)
	}
	if rec.ID == "" || rec.DeviceID != deviceID {
		return nil, fmt.Errorf("%w: identity mismatch", errCorruptSession)
	}

	sess := &Session{
		Version:   rec.Version,
		ID:        rec.ID,
		DeviceID:  rec.DeviceID,
		Stage:     rec.Stage,
		Suspended: rec.Suspended,
		Selection: rec.Selection,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if okHold {
		var h holds.Hold
		if err := json.Unmarshal(rawHold, &h); err != nil || h.OrderID == "" {
			return nil, fmt.Errorf("%w: hold", errCorruptSession)
		}
		sess.Hold = &h
	}
	if okGw {
		var gw gatewayRecord
		if err := json.Unmarshal(rawGw, &gw); err != nil || gw.Gateway == "" {
			return nil, fmt.Errorf("%w: gateway", errCorruptSession)
		}
		sess.Gateway = gw.Gateway
		sess.Attempt = gw.Attempt
	}
	if !sess.consistent() {
		return nil, fmt.Errorf("%w: stage %s not backed by selections", errCorruptSession, sess.Stage)
	}
	return sess, nil
}

// Save writes all keys of sess. Absent parts are deleted in the same write.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.DeviceID == "" {
		return fmt.Errorf("booking: save: device id required")
	}
	selKey, holdKey, gwKey := sessionKeys(sess.DeviceID)

	rec := sessionRecord{
		Version:   SchemaVersion,
		ID:        sess.ID,
		DeviceID:  sess.DeviceID,
		Stage:     sess.Stage,
		Suspended: sess.Suspended,
		Selection: sess.Selection,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("booking: marshal selection: %w", err)
	}
	sets := map[string][]byte{selKey: data}
	var dels []string

	if sess.Hold != nil {
		data, err := json.Marshal(sess.Hold)
		if err != nil {
			return fmt.Errorf("booking: marshal hold: %w", err)
		}
		sets[holdKey] = data
	} else {
		dels = append(dels, holdKey)
	}
	if sess.Gateway != "" {
		data, err := json.Marshal(gatewayRecord{Gateway: sess.Gateway, Attempt: sess.Attempt})
		if err != nil {
			return fmt.Errorf("booking: marshal gateway: %w", err)
		}
		sets[gwKey] = data
	} else {
		dels = append(dels, gwKey)
	}

	if err := s.kv.Apply(ctx, sets, dels, s.ttl); err != nil {
		return fmt.Errorf("booking: save session: %w", err)
	}
	return nil
}

// HeldOrder reads just the hold key and reports its order id. It serves
// cleanup of sessions that failed to load as a whole.
func (s *Store) HeldOrder(ctx context.Context, deviceID string) (string, bool) {
	_, holdKey, _ := sessionKeys(deviceID)
	raw, ok, err := s.kv.Get(ctx, holdKey)
	if err != nil || !ok {
		return "", false
	}
	var h holds.Hold
	if err := json.Unmarshal(raw, &h); err != nil || h.OrderID == "" {
		return "", false
	}
	return h.OrderID, true
}

// Clear removes every key for the device.
func (s *Store) Clear(ctx context.Context, deviceID string) error {
	selKey, holdKey, gwKey := sessionKeys(deviceID)
	if err := s.kv.Apply(ctx, nil, []string{selKey, holdKey, gwKey}, 0); err != nil {
		return fmt.Errorf("booking: clear session: %w", err)
	}
	return nil
}

// MemoryKV is an in-process KV for local development and tests.
type MemoryKV struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{items: make(map[string]memoryItem), now: time.Now}
}

// WithClock overrides the time source used for expiry.
func (m *MemoryKV) WithClock(now func() time.Time) *MemoryKV {
	if now != nil {
		m.now = now
	}
	return m
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return nil, false, nil
	}
	return append([]byte(nil), item.value...), true, nil
}

// Apply implements KV.
func (m *MemoryKV) Apply(_ context.Context, sets map[string][]byte, dels []string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}
	for _, key := range dels {
		delete(m.items, key)
	}
	for key, value := range sets {
		m.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expiresAt}
	}
	return nil
}

// Put writes a raw value. It lets tools seed or damage state directly.
func (m *MemoryKV) Put(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{value: append([]byte(nil), value...)}
}

// Len returns the number of live keys.
func (m *MemoryKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := m.now()
	for _, item := range m.items {
		if item.expiresAt.IsZero() || now.Before(item.expiresAt) {
			n++
		}
	}
	return n
}
