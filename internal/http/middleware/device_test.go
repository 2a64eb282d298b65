package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-core/internal/identity"
)

func captureDevice(got *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, _ = identity.DeviceIDFromContext(r.Context())
	})
}

func TestDeviceID_HeaderWins(t *testing.T) {
	var got string
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DeviceHeader, "ios-device-0001")
	rec := httptest.NewRecorder()

	DeviceID(NewDeviceCookieCodec("hash-key-0123456789abcdef", ""), false)(captureDevice(&got)).ServeHTTP(rec, req)

	assert.Equal(t, "ios-device-0001", got)
	assert.Empty(t, rec.Result().Cookies())
}

func TestDeviceID_RejectsMalformedHeader(t *testing.T) {
	var got string
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DeviceHeader, "bad id!")
	rec := httptest.NewRecorder()

	DeviceID(nil, false)(captureDevice(&got)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeviceID_IssuesAndReadsSignedCookie(t *testing.T) {
	codec := NewDeviceCookieCodec("hash-key-0123456789abcdef", "")
	mw := DeviceID(codec, true)

	var first string
	rec := httptest.NewRecorder()
	mw(captureDevice(&first)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, first)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)

	var second string
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	mw(captureDevice(&second)).ServeHTTP(rec, req)
	assert.Equal(t, first, second)
	assert.Empty(t, rec.Result().Cookies())
}

func TestDeviceID_TamperedCookieGetsFreshID(t *testing.T) {
	mw := DeviceID(NewDeviceCookieCodec("hash-key-0123456789abcdef", ""), false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookie, Value: "forged"})
	rec := httptest.NewRecorder()

	var got string
	mw(captureDevice(&got)).ServeHTTP(rec, req)
	assert.NotEmpty(t, got)
	assert.Len(t, rec.Result().Cookies(), 1)
}

func TestDeviceID_NoHeaderNoCodec(t *testing.T) {
	var got string
	rec := httptest.NewRecorder()
	DeviceID(nil, false)(captureDevice(&got)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
