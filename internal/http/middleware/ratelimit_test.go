package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/clinic-booking-core/internal/identity"
)

func TestKeyedLimiter_PerKeyBuckets(t *testing.T) {
	l := NewKeyedLimiter(PerMinute(1), 2)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "burst exhausted")
	assert.True(t, l.Allow("b"), "other keys are independent")

	now = now.Add(time.Minute)
	assert.True(t, l.Allow("a"), "one token refilled")
}

func TestKeyedLimiter_Sweep(t *testing.T) {
	l := NewKeyedLimiter(PerMinute(10), 1)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.Allow("old")
	now = now.Add(20 * time.Minute)
	l.Allow("fresh")

	assert.Equal(t, 1, l.Sweep(10*time.Minute))
}

func TestRateLimitMiddleware_KeysByDevice(t *testing.T) {
	mw := RateLimit(NewKeyedLimiter(PerMinute(1), 1))
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	send := func(device string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/booking/session/confirm", nil)
		req = req.WithContext(identity.WithDeviceID(req.Context(), device))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("device-a-123"))
	assert.Equal(t, http.StatusTooManyRequests, send("device-a-123"))
	assert.Equal(t, http.StatusOK, send("device-b-123"))
}

func TestPerMinuteZeroIsUnlimited(t *testing.T) {
	l := NewKeyedLimiter(PerMinute(0), 1)
	for i := 0; i < 50; i++ {
		assert.True(t, l.Allow("k"))
	}
}
