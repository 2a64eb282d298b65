package holds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

const (
	// hold:slot:{slot_id} -> order id, expires with the hold
	keySlotHold = "hold:slot:%s"
	// hold:order:{order_id} -> hold JSON
	keyOrderHold = "hold:order:%s"

	DefaultHoldTTL = 10 * time.Minute
)

// acquireScript claims every slot key or none. KEYS[1..n-1] are slot keys,
// KEYS[n] is the order key. Returns 0 on success or the 1-based index of the
// first slot already held by another order.
var acquireScript = redis.NewScript(`
local n = #KEYS - 1
for i = 1, n do
  local owner = redis.call('GET', KEYS[i])
  if owner and owner ~= ARGV[1] then
    return i
  end
end
for i = 1, n do
  redis.call('SET', KEYS[i], ARGV[1], 'PX', ARGV[2])
end
redis.call('SET', KEYS[#KEYS], ARGV[3], 'PX', ARGV[2])
return 0
`)

// releaseScript deletes slot keys still owned by ARGV[1] and the order key.
var releaseScript = redis.NewScript(`
local n = #KEYS - 1
for i = 1, n do
  if redis.call('GET', KEYS[i]) == ARGV[1] then
    redis.call('DEL', KEYS[i])
  end
end
redis.call('DEL', KEYS[#KEYS])
return 0
`)

// Pricer quotes the amount due for a hold.
type Pricer interface {
	Quote(ctx context.Context, req Request) (int64, error)
}

// PricerFunc adapts a function to Pricer.
type PricerFunc func(ctx context.Context, req Request) (int64, error)

// Quote implements Pricer.
func (f PricerFunc) Quote(ctx context.Context, req Request) (int64, error) {
	return f(ctx, req)
}

// FlatPricer quotes the same amount for every hold.
func FlatPricer(amountCents int64) Pricer {
	return PricerFunc(func(context.Context, Request) (int64, error) {
		return amountCents, nil
	})
}

// RedisService is a sandbox hold service backed by Redis key expiry: each
// slot key is owned by at most one order and vanishes with the hold's TTL.
type RedisService struct {
	redis  *redis.Client
	ttl    time.Duration
	pricer Pricer
	logger *logging.Logger
	now    func() time.Time
}

// NewRedisService creates a Redis-backed hold service.
func NewRedisService(client *redis.Client, ttl time.Duration, pricer Pricer, logger *logging.Logger) *RedisService {
	if client == nil {
		panic("holds: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}
	if pricer == nil {
		pricer = FlatPricer(0)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisService{redis: client, ttl: ttl, pricer: pricer, logger: logger, now: time.Now}
}

// WithClock overrides the time source used for ExpiresAt.
func (s *RedisService) WithClock(now func() time.Time) *RedisService {
	if now != nil {
		s.now = now
	}
	return s
}

// Create implements Service.
func (s *RedisService) Create(ctx context.Context, req Request) (*Hold, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, span := holdsTracer.Start(ctx, "holds.redis.create")
	defer span.End()
	span.SetAttributes(attribute.Int("booking.slot_count", len(req.SlotIDs)))

	amount, err := s.pricer.Quote(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("holds: quote: %w", err)
	}

	hold := Hold{
		OrderID:     uuid.NewString(),
		AmountCents: amount,
		SlotIDs:     append([]string(nil), req.SlotIDs...),
		ExpiresAt:   s.now().Add(s.ttl).UTC(),
	}
	payload, err := json.Marshal(hold)
	if err != nil {
		return nil, fmt.Errorf("holds: marshal: %w", err)
	}

	keys := make([]string, 0, len(req.SlotIDs)+1)
	for _, id := range req.SlotIDs {
		keys = append(keys, fmt.Sprintf(keySlotHold, id))
	}
	keys = append(keys, fmt.Sprintf(keyOrderHold, hold.OrderID))

	idx, err := acquireScript.Run(ctx, s.redis, keys, hold.OrderID, s.ttl.Milliseconds(), string(payload)).Int()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("holds: acquire: %w", err)
	}
	if idx > 0 {
		slotID := req.SlotIDs[idx-1]
		s.logger.Info("hold conflict", "slot_id", slotID, "resource_id", req.ResourceID)
		return nil, &ConflictError{SlotIDs: []string{slotID}, Reason: "held by another session"}
	}

	s.logger.Info("hold created", "order_id", hold.OrderID, "slot_count", len(hold.SlotIDs), "expires_at", hold.ExpiresAt)
	return &hold, nil
}

// Get returns an active hold.
func (s *RedisService) Get(ctx context.Context, orderID string) (*Hold, error) {
	raw, err := s.redis.Get(ctx, fmt.Sprintf(keyOrderHold, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("holds: get: %w", err)
	}
	var hold Hold
	if err := json.Unmarshal([]byte(raw), &hold); err != nil {
		return nil, fmt.Errorf("holds: decode: %w", err)
	}
	return &hold, nil
}

// Release implements Service.
func (s *RedisService) Release(ctx context.Context, orderID string) error {
	hold, err := s.Get(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(hold.SlotIDs)+1)
	for _, id := range hold.SlotIDs {
		keys = append(keys, fmt.Sprintf(keySlotHold, id))
	}
	keys = append(keys, fmt.Sprintf(keyOrderHold, orderID))
	if err := releaseScript.Run(ctx, s.redis, keys, orderID).Err(); err != nil {
		return fmt.Errorf("holds: release: %w", err)
	}
	s.logger.Info("hold released", "order_id", orderID)
	return nil
}

// HeldSlots reports which of slotIDs currently carry an active hold.
func (s *RedisService) HeldSlots(ctx context.Context, slotIDs []string) (map[string]bool, error) {
	held := make(map[string]bool, len(slotIDs))
	if len(slotIDs) == 0 {
		return held, nil
	}
	keys := make([]string, 0, len(slotIDs))
	for _, id := range slotIDs {
		keys = append(keys, fmt.Sprintf(keySlotHold, id))
	}
	vals, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("holds: mget: %w", err)
	}
	for i, v := range vals {
		if v != nil {
			held[slotIDs[i]] = true
		}
	}
	return held, nil
}
