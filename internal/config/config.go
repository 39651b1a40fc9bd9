package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CurrencyCode       string
	CORSAllowedOrigins []string

	CatalogFile string
	PromoFile   string

	SnapshotTTL     time.Duration
	SessionIdleTTL  time.Duration
	SweepInterval   time.Duration
	IdempotencyTTL  time.Duration
	ShutdownTimeout time.Duration

	PromoRemoteURL      string
	PromoRemoteTimeout  time.Duration
	PromoRetryAttempts  int
	PromoRetryBackoff   time.Duration
	PromoRetryJitter    float64
	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration

	RateLimitGlobal     string
	RateLimitCodeMax    int
	RateLimitCodeWindow time.Duration

	NotifyEmailEnabled bool
	NotifyEmailMode    string
	NotifyTopics       map[string]bool
	QueueConcurrency   int
	QueueName          string

	PaymentWebhookSecret string
	PaymentIntentTTL     time.Duration
	WebhookReplayTTL     time.Duration
	LockTTL              time.Duration

	Obs ObsConfig
}

// ObsConfig groups logging, metrics and tracing settings.
type ObsConfig struct {
	LogFormat      string
	LogLevel       string
	MetricsEnabled bool
	Namespace      string
	Buckets        string
	PprofEnabled   bool
	PprofUser      string
	PprofPass      string
	TracingEnabled bool
	OTLPEndpoint   string
	TraceExporter  string
	SampleRatio    float64
	ServiceName    string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	p := &envParser{k: k}
	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CurrencyCode:       strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "GBP")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CatalogFile: strings.TrimSpace(k.String("CATALOG_FILE")),
		PromoFile:   strings.TrimSpace(k.String("PROMO_FILE")),

		SnapshotTTL:     p.duration("SNAPSHOT_TTL", "720h"),
		SessionIdleTTL:  p.duration("SESSION_IDLE_TTL", "30m"),
		SweepInterval:   p.duration("SESSION_SWEEP_INTERVAL", "5m"),
		IdempotencyTTL:  p.duration("IDEMPOTENCY_TTL", "24h"),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", "15s"),

		PromoRemoteURL:      strings.TrimSpace(k.String("PROMO_REMOTE_URL")),
		PromoRemoteTimeout:  p.duration("PROMO_REMOTE_TIMEOUT", "3s"),
		PromoRetryAttempts:  p.positiveInt("PROMO_RETRY_ATTEMPTS", 3),
		PromoRetryBackoff:   p.duration("PROMO_RETRY_BACKOFF", "200ms"),
		PromoRetryJitter:    p.fraction("PROMO_RETRY_JITTER", 0.2, true),
		CircuitMinRequests:  p.positiveInt("CIRCUIT_MIN_REQUESTS", 10),
		CircuitFailureRatio: p.fraction("CIRCUIT_FAILURE_RATIO", 0.5, false),
		CircuitOpenFor:      p.duration("CIRCUIT_OPEN_FOR", "30s"),

		RateLimitGlobal:     valueOrDefault(k.String("RATE_LIMIT_GLOBAL"), "300-M"),
		RateLimitCodeMax:    p.positiveInt("RATE_LIMIT_CODE_MAX", 10),
		RateLimitCodeWindow: p.duration("RATE_LIMIT_CODE_WINDOW", "1m"),

		NotifyEmailEnabled: p.boolean("NOTIFY_EMAIL_ENABLED", true),
		NotifyEmailMode:    strings.ToLower(valueOrDefault(k.String("NOTIFY_EMAIL_MODE"), "inline")),
		NotifyTopics:       parseToggles(k.String("NOTIFY_TOPICS_DISABLED")),
		QueueConcurrency:   p.positiveInt("QUEUE_CONCURRENCY", 10),
		QueueName:          valueOrDefault(k.String("QUEUE_NAME"), "notifications"),

		PaymentWebhookSecret: strings.TrimSpace(k.String("PAYMENT_WEBHOOK_SECRET")),
		PaymentIntentTTL:     p.duration("PAYMENT_INTENT_TTL", "24h"),
		WebhookReplayTTL:     p.duration("WEBHOOK_REPLAY_TTL", "72h"),
		LockTTL:              p.duration("LOCK_TTL", "15s"),

		Obs: ObsConfig{
			LogFormat:      strings.ToLower(valueOrDefault(k.String("OBS_LOG_FORMAT"), "json")),
			LogLevel:       strings.ToLower(valueOrDefault(k.String("OBS_LOG_LEVEL"), "info")),
			MetricsEnabled: p.boolean("OBS_METRICS_ENABLED", true),
			Namespace:      valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "dental_quote"),
			Buckets:        k.String("OBS_METRICS_BUCKETS"),
			PprofEnabled:   p.boolean("OBS_PPROF_ENABLED", false),
			PprofUser:      strings.TrimSpace(k.String("OBS_PPROF_USER")),
			PprofPass:      k.String("OBS_PPROF_PASS"),
			TracingEnabled: p.boolean("OBS_TRACING_ENABLED", false),
			OTLPEndpoint:   strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			TraceExporter:  valueOrDefault(k.String("OBS_TRACE_EXPORTER"), "otlp"),
			SampleRatio:    p.fraction("OBS_TRACE_SAMPLE_RATIO", 0.1, true),
			ServiceName:    valueOrDefault(k.String("OBS_SERVICE_NAME"), "dental-quote"),
		},
	}

	if err := p.err(); err != nil {
		return nil, err
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.NotifyEmailMode {
	case "inline", "queue":
	default:
		return nil, fmt.Errorf("NOTIFY_EMAIL_MODE must be inline or queue, got %q", cfg.NotifyEmailMode)
	}
	if len(cfg.CurrencyCode) != 3 {
		return nil, fmt.Errorf("CURRENCY_CODE must be an ISO 4217 code, got %q", cfg.CurrencyCode)
	}
	if cfg.IsProduction() && cfg.PaymentWebhookSecret == "" {
		return nil, errors.New("PAYMENT_WEBHOOK_SECRET is required in production")
	}

	return cfg, nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.AppEnv))
	return env == "production" || env == "prod"
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseToggles turns a list of disabled topics into a toggle map.
func parseToggles(value string) map[string]bool {
	disabled := splitAndTrim(value)
	if len(disabled) == 0 {
		return nil
	}
	toggles := make(map[string]bool, len(disabled))
	for _, topic := range disabled {
		toggles[topic] = false
	}
	return toggles
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

// envParser reads typed values and collects every malformed one.
// Unset keys take the default.
type envParser struct {
	k    *koanf.Koanf
	errs []error
}

func (p *envParser) raw(key string) string {
	return strings.TrimSpace(p.k.String(key))
}

func (p *envParser) fail(key, value, want string) {
	p.errs = append(p.errs, fmt.Errorf("%s: %q is not %s", key, value, want))
}

func (p *envParser) duration(key, fallback string) time.Duration {
	value := p.raw(key)
	if value == "" {
		value = fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		p.fail(key, value, "a positive duration")
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func (p *envParser) positiveInt(key string, fallback int) int {
	value := p.raw(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		p.fail(key, value, "a positive integer")
		return fallback
	}
	return n
}

// fraction accepts values in (0,1], or [0,1] when zero is allowed.
func (p *envParser) fraction(key string, fallback float64, allowZero bool) float64 {
	value := p.raw(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f > 1 || f < 0 || (f == 0 && !allowZero) {
		want := "a fraction in (0,1]"
		if allowZero {
			want = "a fraction in [0,1]"
		}
		p.fail(key, value, want)
		return fallback
	}
	return f
}

func (p *envParser) boolean(key string, fallback bool) bool {
	value := p.raw(key)
	switch strings.ToLower(value) {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		p.fail(key, value, "a boolean")
		return fallback
	}
}

func (p *envParser) err() error {
	return errors.Join(p.errs...)
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
