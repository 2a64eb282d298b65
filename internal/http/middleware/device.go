package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"github.com/wolfman30/clinic-booking-core/internal/identity"
)

const (
	// DeviceHeader lets native clients supply their own stable device id.
	DeviceHeader = "X-Device-ID"
	// DeviceCookie carries the signed device id for browser clients.
	DeviceCookie = "booking_device"
)

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

// NewDeviceCookieCodec builds the signed cookie codec. Empty keys produce a
// process-local random hash key, which only suits development.
func NewDeviceCookieCodec(hashKey, blockKey string) *securecookie.SecureCookie {
	hk := []byte(hashKey)
	if len(hk) == 0 {
		hk = securecookie.GenerateRandomKey(32)
	}
	var bk []byte
	if blockKey != "" {
		bk = []byte(blockKey)
	}
	return securecookie.New(hk, bk)
}

// DeviceID scopes each request to a device. The header wins; otherwise a
// signed cookie is read or issued.
func DeviceID(codec *securecookie.SecureCookie, secureCookie bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID := strings.TrimSpace(r.Header.Get(DeviceHeader))
			if deviceID != "" && !deviceIDPattern.MatchString(deviceID) {
				http.Error(w, "invalid device id", http.StatusBadRequest)
				return
			}
			if deviceID == "" && codec != nil {
				if c, err := r.Cookie(DeviceCookie); err == nil {
					var decoded string
					if codec.Decode(DeviceCookie, c.Value, &decoded) == nil && deviceIDPattern.MatchString(decoded) {
						deviceID = decoded
					}
				}
				if deviceID == "" {
					deviceID = uuid.NewString()
					if encoded, err := codec.Encode(DeviceCookie, deviceID); err == nil {
						http.SetCookie(w, &http.Cookie{
							Name:     DeviceCookie,
							Value:    encoded,
							Path:     "/",
							HttpOnly: true,
							Secure:   secureCookie,
							SameSite: http.SameSiteLaxMode,
							Expires:  time.Now().Add(365 * 24 * time.Hour),
						})
					}
				}
			}
			if deviceID == "" {
				http.Error(w, "missing device id", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithDeviceID(r.Context(), deviceID)))
		})
	}
}
