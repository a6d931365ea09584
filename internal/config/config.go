package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	NotifyModeInline = "inline"
	NotifyModeQueue  = "queue"

	MinBcryptCost = 10
	MaxBcryptCost = 14
)

type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`

	DatabaseURL string `env:"DATABASE_URL"`

	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"account-lifecycle-service"`
	JWTAudience      string        `env:"JWT_AUDIENCE" envDefault:"account-lifecycle-service-api"`
	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET"`
	JWTAccessTTL     time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	JWTRefreshTTL    time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`

	AuthBcryptCost           int           `env:"AUTH_BCRYPT_COST" envDefault:"10"`
	AuthPasswordResetTTL     time.Duration `env:"AUTH_PASSWORD_RESET_TTL" envDefault:"1h"`
	AuthFrontendURL          string        `env:"AUTH_FRONTEND_URL" envDefault:"http://localhost:5173"`
	AuthRequireVerifiedLogin bool          `env:"AUTH_REQUIRE_VERIFIED_LOGIN" envDefault:"false"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	AuthRateLimitPerMin  int    `env:"AUTH_RATE_LIMIT_PER_MIN" envDefault:"30"`
	APIRateLimitPerMin   int    `env:"API_RATE_LIMIT_PER_MIN" envDefault:"120"`
	RateLimitRedisPrefix string `env:"RATE_LIMIT_REDIS_PREFIX" envDefault:"rl"`

	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	NotifyMode              string        `env:"NOTIFY_MODE" envDefault:"inline"`
	NotifyQueueKey          string        `env:"NOTIFY_QUEUE_KEY" envDefault:"notifications:outbox"`
	NotifyWorkerPollTimeout time.Duration `env:"NOTIFY_WORKER_POLL_TIMEOUT" envDefault:"5s"`
	NotifyOutboxMaxBacklog  int64         `env:"NOTIFY_OUTBOX_MAX_BACKLOG" envDefault:"1000"`

	SMTPEnabled      bool          `env:"SMTP_ENABLED" envDefault:"false"`
	SMTPHost         string        `env:"SMTP_HOST"`
	SMTPPort         int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername     string        `env:"SMTP_USERNAME"`
	SMTPPassword     string        `env:"SMTP_PASSWORD"`
	SMTPFrom         string        `env:"SMTP_FROM"`
	SMTPTLSPolicy    string        `env:"SMTP_TLS_POLICY" envDefault:"mandatory"`
	SMTPTimeout      time.Duration `env:"SMTP_TIMEOUT" envDefault:"10s"`
	SMTPMaxRetries   uint64        `env:"SMTP_MAX_RETRIES" envDefault:"2"`
	SMTPRetryBackoff time.Duration `env:"SMTP_RETRY_BACKOFF" envDefault:"500ms"`

	OTELServiceName           string        `env:"OTEL_SERVICE_NAME" envDefault:"account-lifecycle-service"`
	OTELEnvironment           string        `env:"OTEL_ENVIRONMENT"`
	OTELExporterOTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELMetricsExportInterval time.Duration `env:"OTEL_METRICS_EXPORT_INTERVAL" envDefault:"10s"`
	OTELTraceSamplingRatio    float64       `env:"OTEL_TRACE_SAMPLING_RATIO" envDefault:"1.0"`
	OTELMetricsEnabled        bool          `env:"OTEL_METRICS_ENABLED" envDefault:"true"`
	OTELTracingEnabled        bool          `env:"OTEL_TRACING_ENABLED" envDefault:"true"`
	OTELLogsEnabled           bool          `env:"OTEL_LOGS_ENABLED" envDefault:"true"`
	OTELLogLevel              string        `env:"OTEL_LOG_LEVEL" envDefault:"info"`

	ReadinessProbeTimeout        time.Duration `env:"READINESS_PROBE_TIMEOUT" envDefault:"1s"`
	ServerStartGracePeriod       time.Duration `env:"SERVER_START_GRACE_PERIOD" envDefault:"2s"`
	ShutdownTimeout              time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
	ShutdownHTTPDrainTimeout     time.Duration `env:"SHUTDOWN_HTTP_DRAIN_TIMEOUT" envDefault:"10s"`
	ShutdownObservabilityTimeout time.Duration `env:"SHUTDOWN_OBSERVABILITY_TIMEOUT" envDefault:"8s"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.OTELEnvironment == "" {
		c.OTELEnvironment = c.Env
	}
	c.OTELLogLevel = strings.ToLower(strings.TrimSpace(c.OTELLogLevel))
	c.NotifyMode = strings.ToLower(strings.TrimSpace(c.NotifyMode))
	c.SMTPTLSPolicy = strings.ToLower(strings.TrimSpace(c.SMTPTLSPolicy))
	c.AuthFrontendURL = strings.TrimRight(strings.TrimSpace(c.AuthFrontendURL), "/")
	c.CORSAllowedOrigins = trimAll(c.CORSAllowedOrigins)
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 chars")
	}
	if len(c.JWTRefreshSecret) < 32 {
		errs = append(errs, "JWT_REFRESH_SECRET must be at least 32 chars")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		errs = append(errs, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.JWTAccessTTL <= 0 || c.JWTAccessTTL > time.Hour {
		errs = append(errs, "JWT_ACCESS_TTL must be between 1s and 1h")
	}
	if c.JWTRefreshTTL <= 0 || c.JWTRefreshTTL > (30*24*time.Hour) {
		errs = append(errs, "JWT_REFRESH_TTL must be between 1s and 30d")
	}
	if c.AuthBcryptCost < MinBcryptCost || c.AuthBcryptCost > MaxBcryptCost {
		errs = append(errs, fmt.Sprintf("AUTH_BCRYPT_COST must be between %d and %d", MinBcryptCost, MaxBcryptCost))
	}
	if c.AuthPasswordResetTTL <= 0 || c.AuthPasswordResetTTL > 24*time.Hour {
		errs = append(errs, "AUTH_PASSWORD_RESET_TTL must be between 1s and 24h")
	}
	if u, err := url.Parse(c.AuthFrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "AUTH_FRONTEND_URL must be an absolute URL")
	}
	if c.AuthRateLimitPerMin <= 0 {
		errs = append(errs, "AUTH_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.APIRateLimitPerMin <= 0 {
		errs = append(errs, "API_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.RedisEnabled && c.RedisAddr == "" {
		errs = append(errs, "REDIS_ADDR is required when REDIS_ENABLED=true")
	}
	switch c.NotifyMode {
	case NotifyModeInline:
	case NotifyModeQueue:
		if !c.RedisEnabled {
			errs = append(errs, "NOTIFY_MODE=queue requires REDIS_ENABLED=true")
		}
		if c.NotifyQueueKey == "" {
			errs = append(errs, "NOTIFY_QUEUE_KEY is required when NOTIFY_MODE=queue")
		}
		if c.NotifyWorkerPollTimeout <= 0 {
			errs = append(errs, "NOTIFY_WORKER_POLL_TIMEOUT must be > 0")
		}
		if c.NotifyOutboxMaxBacklog < 0 {
			errs = append(errs, "NOTIFY_OUTBOX_MAX_BACKLOG must be >= 0")
		}
	default:
		errs = append(errs, "NOTIFY_MODE must be one of inline, queue")
	}
	if c.SMTPEnabled {
		if c.SMTPHost == "" {
			errs = append(errs, "SMTP_HOST is required when SMTP_ENABLED=true")
		}
		if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
			errs = append(errs, "SMTP_PORT must be a valid port")
		}
		if c.SMTPFrom == "" {
			errs = append(errs, "SMTP_FROM is required when SMTP_ENABLED=true")
		}
		if !isValidTLSPolicy(c.SMTPTLSPolicy) {
			errs = append(errs, "SMTP_TLS_POLICY must be one of mandatory, opportunistic, none")
		}
		if c.SMTPTimeout <= 0 {
			errs = append(errs, "SMTP_TIMEOUT must be > 0")
		}
		if c.SMTPMaxRetries > 0 && c.SMTPRetryBackoff <= 0 {
			errs = append(errs, "SMTP_RETRY_BACKOFF must be > 0 when SMTP_MAX_RETRIES > 0")
		}
	}
	if (c.OTELMetricsEnabled || c.OTELTracingEnabled || c.OTELLogsEnabled) && c.OTELExporterOTLPEndpoint == "" {
		errs = append(errs, "OTEL_EXPORTER_OTLP_ENDPOINT is required when OTel is enabled")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if c.OTELMetricsExportInterval <= 0 {
		errs = append(errs, "OTEL_METRICS_EXPORT_INTERVAL must be > 0")
	}
	if !isValidLogLevel(c.OTELLogLevel) {
		errs = append(errs, "OTEL_LOG_LEVEL must be one of debug, info, warn, error")
	}
	if c.ReadinessProbeTimeout <= 0 {
		errs = append(errs, "READINESS_PROBE_TIMEOUT must be > 0")
	}
	if c.ShutdownTimeout <= 0 || c.ShutdownHTTPDrainTimeout <= 0 || c.ShutdownObservabilityTimeout <= 0 {
		errs = append(errs, "shutdown timeouts must be > 0")
	} else if c.ShutdownHTTPDrainTimeout > c.ShutdownTimeout {
		errs = append(errs, "SHUTDOWN_HTTP_DRAIN_TIMEOUT must not exceed SHUTDOWN_TIMEOUT")
	}
	if isProdLikeEnv(c.Env) {
		if c.OTELExporterOTLPInsecure && (c.OTELMetricsEnabled || c.OTELTracingEnabled || c.OTELLogsEnabled) {
			errs = append(errs, "OTEL_EXPORTER_OTLP_INSECURE must be false in production")
		}
		if !c.SMTPEnabled {
			errs = append(errs, "SMTP_ENABLED must be true in production")
		}
		if c.SMTPEnabled && c.SMTPTLSPolicy == "none" {
			errs = append(errs, "SMTP_TLS_POLICY=none is not allowed in production")
		}
		if strings.HasPrefix(c.AuthFrontendURL, "http://") {
			errs = append(errs, "AUTH_FRONTEND_URL must use https in production")
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func isProdLikeEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "staging":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidTLSPolicy(v string) bool {
	switch v {
	case "mandatory", "opportunistic", "none":
		return true
	default:
		return false
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trim := strings.TrimSpace(v)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
