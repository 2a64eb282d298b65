package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking-core/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-core/internal/api/router"
	"github.com/wolfman30/clinic-booking-core/internal/booking"
	"github.com/wolfman30/clinic-booking-core/internal/catalog"
	appconfig "github.com/wolfman30/clinic-booking-core/internal/config"
	"github.com/wolfman30/clinic-booking-core/internal/events"
	"github.com/wolfman30/clinic-booking-core/internal/holds"
	httpmiddleware "github.com/wolfman30/clinic-booking-core/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-core/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-core/internal/payments"
	"github.com/wolfman30/clinic-booking-core/internal/slots"
	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

const limiterIdle = 10 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic booking API",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Error("invalid clinic timezone", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := connectRedis(cfg)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "error", err)
	}

	metricsHandler, bookingMetrics := setupMetrics()

	cat, err := setupCatalog(cfg, logger)
	if err != nil {
		logger.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}
	holdSvc, source := setupHolds(cfg, rdb, logger)
	registry := payments.NewRegistry(logger, setupGateways(cfg, logger)...)
	resolver := payments.NewResolver(registry, cfg.SupportContact)

	publisher, closePublisher, err := setupEvents(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to configure event sink", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closePublisher(); err != nil {
			logger.Warn("event sink close failed", "error", err)
		}
	}()

	store := booking.NewStore(booking.NewRedisKV(rdb), cfg.SessionTTL)
	svc := booking.NewService(store, cat, source, holdSvc, registry, resolver, booking.Config{
		Granularity:    cfg.SlotGranularity,
		Tolerance:      cfg.SlotContinuityTolerance,
		ResultEndpoint: cfg.ResultEndpoint(),
	}, logger).
		WithEvents(publisher).
		WithMetrics(bookingMetrics)
	logger.Info("payment gateways enabled", "gateways", svc.Gateways())

	limiter := httpmiddleware.NewKeyedLimiter(httpmiddleware.PerMinute(cfg.HoldRatePerMinute), cfg.HoldRatePerMinute)
	go sweepLimiter(ctx, limiter, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		Booking:            booking.NewHandler(svc, loc, logger),
		Results:            payments.NewResultHandler(resolver, logger),
		FakePayments:       setupFakePayments(cfg, logger),
		MetricsHandler:     metricsHandler,
		ResultPath:         cfg.ResultEndpointPath,
		CORSAllowedOrigins: cfg.AllowedOrigins(),
		DeviceCodec:        httpmiddleware.NewDeviceCookieCodec(cfg.DeviceCookieHashKey, cfg.DeviceCookieBlockKey),
		SecureCookies:      cfg.IsProduction(),
		PatientJWTSecret:   cfg.PatientJWTSecret,
		ConfirmLimiter:     limiter,
		ReadyCheck: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func connectRedis(cfg *appconfig.Config) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewBookingMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

// setupCatalog prefers the remote catalog service, then a JSON file. With
// neither, every lookup fails as not found.
func setupCatalog(cfg *appconfig.Config, logger *logging.Logger) (catalog.Source, error) {
	if cfg.CatalogServiceURL != "" {
		return catalog.NewClient(cfg.CatalogServiceURL, logger), nil
	}
	if cfg.CatalogFile == "" {
		logger.Warn("CATALOG_SERVICE_URL and CATALOG_FILE not set; serving an empty catalog")
		return catalog.NewStaticSource(), nil
	}
	f, err := os.Open(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()
	src, err := catalog.LoadStatic(f)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// setupHolds picks the remote hold service or the Redis sandbox. The sandbox
// also overlays its own holds on the slot source so held slots read as booked.
func setupHolds(cfg *appconfig.Config, rdb *redis.Client, logger *logging.Logger) (holds.Service, slots.Source) {
	var source slots.Source
	if cfg.SlotSourceURL != "" {
		source = slots.NewClient(cfg.SlotSourceURL, logger)
	} else {
		logger.Warn("SLOT_SOURCE_URL not set; serving an empty static slot source")
		source = slots.NewStaticSource()
	}

	if !cfg.HoldSandbox {
		return holds.NewClient(cfg.HoldServiceURL, logger), source
	}
	logger.Warn("hold sandbox enabled; reservations are kept in redis only")
	sandbox := holds.NewRedisService(rdb, cfg.HoldTTL, holds.FlatPricer(int64(cfg.DepositAmountCents)), logger)
	return sandbox, holds.NewOverlaySource(source, sandbox, logger)
}

// setupGateways returns only the configured gateways so the registry never
// sees a typed nil.
func setupGateways(cfg *appconfig.Config, logger *logging.Logger) []payments.Gateway {
	var gateways []payments.Gateway
	if cfg.VNPayEnabled || cfg.MoMoEnabled {
		if cfg.PaymentBackendURL == "" {
			logger.Warn("PAYMENT_BACKEND_URL not set; backend gateways disabled")
		} else {
			if cfg.VNPayEnabled {
				gateways = append(gateways, payments.NewVNPayGateway(cfg.PaymentBackendURL, logger))
			}
			if cfg.MoMoEnabled {
				gateways = append(gateways, payments.NewMoMoGateway(cfg.PaymentBackendURL, logger))
			}
		}
	}
	if cfg.StripeSecretKey != "" {
		gateways = append(gateways, payments.NewStripeGateway(cfg.StripeSecretKey, logger))
	}
	if cfg.SquareAccessToken != "" && cfg.SquareLocationID != "" {
		gateways = append(gateways, payments.NewSquareGateway(cfg.SquareAccessToken, cfg.SquareLocationID, logger).
			WithBaseURL(cfg.SquareBaseURL))
	}
	if cfg.AllowFakePayments {
		if cfg.IsProduction() {
			logger.Warn("ALLOW_FAKE_PAYMENTS ignored in production")
		} else {
			gateways = append(gateways, payments.NewFakeGateway(cfg.PublicBaseURL, logger))
		}
	}
	return gateways
}

// setupFakePayments mounts the demo payment pages under the same rule as the
// fake gateway: opted in and never in production.
func setupFakePayments(cfg *appconfig.Config, logger *logging.Logger) *payments.FakeHandler {
	if !cfg.AllowFakePayments || cfg.IsProduction() {
		return nil
	}
	return payments.NewFakeHandler(cfg.ResultEndpoint(), logger)
}

// setupEvents builds the outcome sink named by EVENTS_SINK. The returned
// closer is always non-nil.
func setupEvents(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (events.Publisher, func() error, error) {
	noop := func() error { return nil }
	switch cfg.EventsSink {
	case "sqs":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, noop, fmt.Errorf("load aws config: %w", err)
		}
		logger.Info("publishing booking events to sqs", "queue_url", cfg.OutcomeQueueURL)
		return events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.OutcomeQueueURL), noop, nil
	case "kafka":
		pub := events.NewKafkaPublisher(cfg.KafkaBrokerList(), cfg.KafkaTopic)
		logger.Info("publishing booking events to kafka", "topic", cfg.KafkaTopic)
		return pub, pub.Close, nil
	default:
		return events.NewLogPublisher(logger), noop, nil
	}
}

func sweepLimiter(ctx context.Context, limiter *httpmiddleware.KeyedLimiter, logger *logging.Logger) {
	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Sweep(limiterIdle); n > 0 {
				logger.Debug("rate limiter swept", "keys", n)
			}
		}
	}
}
