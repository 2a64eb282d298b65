package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/securecookie"

	"github.com/wolfman30/clinic-booking-core/internal/booking"
	httpmiddleware "github.com/wolfman30/clinic-booking-core/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-core/internal/payments"
	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Booking        *booking.Handler
	Results        *payments.ResultHandler
	FakePayments   *payments.FakeHandler
	MetricsHandler http.Handler

	// ResultPath is where Results is mounted; it must match the result
	// endpoint handed to gateways.
	ResultPath         string
	CORSAllowedOrigins []string
	DeviceCodec        *securecookie.SecureCookie
	SecureCookies      bool
	PatientJWTSecret   string
	ConfirmLimiter     *httpmiddleware.KeyedLimiter

	// ReadyCheck backs /ready; nil always reports ready.
	ReadyCheck func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Use(httpmiddleware.RequestLogger(logger))
		public.Get("/health", health)
		public.Get("/ready", ready(cfg.ReadyCheck))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Results != nil {
			path := cfg.ResultPath
			if path == "" {
				path = "/payments/result"
			}
			public.Handle(path, cfg.Results)
		}
		if cfg.FakePayments != nil {
			public.Mount("/demo", cfg.FakePayments.Routes())
		}
	})

	// Device-scoped booking API
	if cfg.Booking != nil {
		r.Group(func(api chi.Router) {
			api.Use(httpmiddleware.DeviceID(cfg.DeviceCodec, cfg.SecureCookies))
			api.Use(httpmiddleware.RequestLogger(logger))
			api.Use(httpmiddleware.PatientJWT(cfg.PatientJWTSecret))
			var limit booking.ConfirmLimiter
			if cfg.ConfirmLimiter != nil {
				limit = httpmiddleware.RateLimit(cfg.ConfirmLimiter)
			}
			api.Mount("/v1/booking", cfg.Booking.Routes(limit))
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func ready(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
