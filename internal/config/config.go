package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	PublicBaseURL  string
	LogLevel       string
	ClinicTimezone string

	// Slot aggregation
	ResultEndpointPath      string
	SlotGranularity         time.Duration
	SlotContinuityTolerance time.Duration
	SlotSourceURL           string

	// Catalog lookups
	CatalogServiceURL string
	CatalogFile       string

	// Reservation holds
	HoldServiceURL     string
	HoldTTL            time.Duration
	HoldSandbox        bool
	DepositAmountCents int
	HoldRatePerMinute  int

	// Session persistence
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SessionTTL    time.Duration

	// Identity
	PatientJWTSecret     string
	DeviceCookieHashKey  string
	DeviceCookieBlockKey string
	CORSAllowedOrigins   string

	// Payment gateways
	PaymentBackendURL string
	VNPayEnabled      bool
	MoMoEnabled       bool
	StripeSecretKey   string
	SquareAccessToken string
	SquareLocationID  string
	SquareBaseURL     string
	AllowFakePayments bool
	SupportContact    string

	// Outcome events
	EventsSink          string
	OutcomeQueueURL     string
	KafkaBrokers        string
	KafkaTopic          string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ClinicTimezone: getEnv("CLINIC_TIMEZONE", "UTC"),

		ResultEndpointPath:      getEnv("RESULT_ENDPOINT_PATH", "/payments/result"),
		SlotGranularity:         getEnvAsDuration("SLOT_GRANULARITY", 15*time.Minute),
		SlotContinuityTolerance: getEnvAsDuration("SLOT_CONTINUITY_TOLERANCE", time.Minute),
		SlotSourceURL:           getEnv("SLOT_SOURCE_URL", ""),

		CatalogServiceURL: getEnv("CATALOG_SERVICE_URL", ""),
		CatalogFile:       getEnv("CATALOG_FILE", ""),

		HoldServiceURL:     getEnv("HOLD_SERVICE_URL", ""),
		HoldTTL:            getEnvAsDuration("HOLD_TTL", 10*time.Minute),
		HoldSandbox:        getEnvAsBool("HOLD_SANDBOX", false),
		DepositAmountCents: getEnvAsInt("DEPOSIT_AMOUNT_CENTS", 5000),
		HoldRatePerMinute:  getEnvAsInt("HOLD_RATE_PER_MINUTE", 6),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 24*time.Hour),

		PatientJWTSecret:     getEnv("PATIENT_JWT_SECRET", ""),
		DeviceCookieHashKey:  getEnv("DEVICE_COOKIE_HASH_KEY", ""),
		DeviceCookieBlockKey: getEnv("DEVICE_COOKIE_BLOCK_KEY", ""),
		CORSAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", ""),

		PaymentBackendURL: getEnv("PAYMENT_BACKEND_URL", ""),
		VNPayEnabled:      getEnvAsBool("VNPAY_ENABLED", false),
		MoMoEnabled:       getEnvAsBool("MOMO_ENABLED", false),
		StripeSecretKey:   getEnv("STRIPE_SECRET_KEY", ""),
		SquareAccessToken: getEnv("SQUARE_ACCESS_TOKEN", ""),
		SquareLocationID:  getEnv("SQUARE_LOCATION_ID", ""),
		SquareBaseURL:     getEnv("SQUARE_BASE_URL", ""),
		AllowFakePayments: getEnvAsBool("ALLOW_FAKE_PAYMENTS", false),
		SupportContact:    getEnv("SUPPORT_CONTACT", ""),

		EventsSink:          strings.ToLower(strings.TrimSpace(getEnv("EVENTS_SINK", "log"))),
		OutcomeQueueURL:     getEnv("OUTCOME_QUEUE_URL", ""),
		KafkaBrokers:        getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "booking-outcomes"),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// ResultEndpoint is the absolute URL gateways redirect to when a payment
// finishes.
func (c *Config) ResultEndpoint() string {
	path := c.ResultEndpointPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.PublicBaseURL + path
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// KafkaBrokerList splits KAFKA_BROKERS on commas.
func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// Validate reports settings the API cannot start without.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ResultEndpoint())
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: PUBLIC_BASE_URL must be an absolute URL, got %q", c.PublicBaseURL)
	}
	if c.SlotGranularity <= 0 {
		return fmt.Errorf("config: SLOT_GRANULARITY must be positive")
	}
	if c.SlotContinuityTolerance < 0 {
		return fmt.Errorf("config: SLOT_CONTINUITY_TOLERANCE must not be negative")
	}
	if c.HoldServiceURL == "" && !c.HoldSandbox {
		return fmt.Errorf("config: HOLD_SERVICE_URL is required unless HOLD_SANDBOX is set")
	}
	switch c.EventsSink {
	case "log", "":
	case "sqs":
		if c.OutcomeQueueURL == "" {
			return fmt.Errorf("config: OUTCOME_QUEUE_URL is required for the sqs sink")
		}
	case "kafka":
		if len(c.KafkaBrokerList()) == 0 {
			return fmt.Errorf("config: KAFKA_BROKERS is required for the kafka sink")
		}
	default:
		return fmt.Errorf("config: unknown EVENTS_SINK %q", c.EventsSink)
	}
	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		return fmt.Errorf("config: CLINIC_TIMEZONE: %w", err)
	}
	return nil
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
