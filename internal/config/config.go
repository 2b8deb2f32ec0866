// Package config provides configuration loading using koanf.
// Precedence: environment variables over compiled defaults. Secrets that live
// in AWS (service key, pepper, test number list) are resolved by the
// composition root after Load, using the *_secret_id / *_parameter keys.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/hur-delivery/otpauth/internal/domain"
)

// EnvPrefix scopes the environment variables this service reads. Nested keys
// use a double underscore: OTPAUTH_IDENTITY__SERVICE_KEY -> identity.service_key.
const EnvPrefix = "OTPAUTH_"

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	HTTP     HTTPConfig     `koanf:"http"`
	Phone    PhoneConfig    `koanf:"phone"`
	OTP      OTPConfig      `koanf:"otp"`
	Identity IdentityConfig `koanf:"identity"`
	Delivery DeliveryConfig `koanf:"delivery"`

	// Infrastructure configurations
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Postgres PostgresConfig `koanf:"postgres"`
	Redis    RedisConfig    `koanf:"redis"`
	AWS      AWSConfig      `koanf:"aws"`

	OTEL OTELConfig `koanf:"otel"`
}

// HTTPConfig holds the listener configuration.
type HTTPConfig struct {
	Port int `koanf:"port"`
}

// PhoneConfig is the dialing plan used by the normalizer.
type PhoneConfig struct {
	CountryCode  string `koanf:"country_code"`
	MobilePrefix string `koanf:"mobile_prefix"`
}

// Normalizer builds the domain normalizer for this dialing plan.
func (p PhoneConfig) Normalizer() domain.PhoneNormalizer {
	n := domain.DefaultPhoneNormalizer()
	if p.CountryCode != "" {
		n.CountryCode = p.CountryCode
	}
	if p.MobilePrefix != "" {
		n.MobilePrefix = p.MobilePrefix[0]
	}
	return n
}

// OTPConfig holds one-time code issuing and checking settings.
type OTPConfig struct {
	CodeTTL     time.Duration `koanf:"code_ttl"`
	MaxAttempts int           `koanf:"max_attempts"`

	TestNumbers          []string `koanf:"test_numbers"`
	TestNumbersParameter string   `koanf:"test_numbers_parameter"` // SSM parameter, comma separated
	TestCode             string   `koanf:"test_code"`

	Pepper         domain.SecretString `koanf:"pepper"`
	PepperSecretID string              `koanf:"pepper_secret_id"`

	SendRateLimit  int           `koanf:"send_rate_limit"`
	SendRateWindow time.Duration `koanf:"send_rate_window"`

	DeleteRequiresCode bool `koanf:"delete_requires_code"`
}

// IdentityConfig holds the identity provider (GoTrue admin API) settings.
type IdentityConfig struct {
	URL                string              `koanf:"url"`
	ServiceKey         domain.SecretString `koanf:"service_key"`
	ServiceKeySecretID string              `koanf:"service_key_secret_id"`
	LoginDomain        string              `koanf:"login_domain"`
	Timeout            time.Duration       `koanf:"timeout"`
	VerifyDelay        time.Duration       `koanf:"verify_delay"`
	LockTTL            time.Duration       `koanf:"lock_ttl"`
	LockWait           time.Duration       `koanf:"lock_wait"`
}

// DeliveryConfig selects and configures the code delivery provider.
type DeliveryConfig struct {
	Provider   string              `koanf:"provider"` // "log", "sns" or "gateway"
	Timeout    time.Duration       `koanf:"timeout"`
	GatewayURL string              `koanf:"gateway_url"`
	GatewayKey domain.SecretString `koanf:"gateway_key"`
	Channel    string              `koanf:"channel"` // gateway channel: "whatsapp" or "sms"
	Sender     string              `koanf:"sender"`
}

// DynamoDBConfig holds DynamoDB configuration.
type DynamoDBConfig struct {
	Endpoint   string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Timeout    time.Duration `koanf:"timeout"`
	CodesTable string        `koanf:"codes_table"`
}

// PostgresConfig holds the profile store connection.
type PostgresConfig struct {
	URL      string        `koanf:"url"`
	Timeout  time.Duration `koanf:"timeout"`
	MaxConns int32         `koanf:"max_conns"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",

		HTTP: HTTPConfig{Port: 8080},
		Phone: PhoneConfig{
			CountryCode:  domain.DefaultCountryCode,
			MobilePrefix: string(domain.DefaultMobilePrefix),
		},
		OTP: OTPConfig{
			CodeTTL:        domain.OTPValidityDuration,
			MaxAttempts:    domain.MaxOTPVerifyAttempts,
			TestCode:       domain.DefaultTestOTPCode,
			SendRateLimit:  domain.OTPRequestRateLimitPerPhone,
			SendRateWindow: domain.OTPRateLimitWindow,
		},
		Identity: IdentityConfig{
			LoginDomain: domain.DefaultLoginDomain,
			Timeout:     domain.IdentityCallTimeout,
			VerifyDelay: domain.CredentialVerifyDelay,
			LockTTL:     domain.IdentityLockTTL,
			LockWait:    domain.IdentityLockWait,
		},
		Delivery: DeliveryConfig{
			Provider: "log",
			Timeout:  domain.DeliveryTimeout,
			Channel:  "whatsapp",
		},
		DynamoDB: DynamoDBConfig{
			Timeout:    domain.CodeStoreWriteTimeout,
			CodesTable: "otp_codes",
		},
		Postgres: PostgresConfig{
			Timeout:  domain.ProfileStoreTimeout,
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Timeout: domain.RedisTimeout,
		},
		AWS: AWSConfig{
			Region: "me-south-1",
		},
		OTEL: OTELConfig{
			ServiceName: "otpauth",
		},
	}
}

// Load loads configuration: environment variables (highest), then compiled
// defaults. Required keys missing -> startup failure.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")
	cfg := defaults()

	err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envKey maps OTPAUTH_OTP__CODE_TTL to otp.code_ttl.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// validateRequired checks that required configuration is present.
func validateRequired(cfg *Config) error {
	if cfg.Environment == "local" {
		return nil
	}

	if cfg.OTP.MaxAttempts < 1 {
		return fmt.Errorf("%w: otp.max_attempts must be positive", domain.ErrConfigRequired)
	}
	if cfg.OTP.CodeTTL <= 0 {
		return fmt.Errorf("%w: otp.code_ttl must be positive", domain.ErrConfigRequired)
	}

	if cfg.Environment == "prod" {
		switch {
		case cfg.Identity.URL == "":
			return fmt.Errorf("%w: identity.url", domain.ErrConfigRequired)
		case cfg.Identity.ServiceKey.IsEmpty() && cfg.Identity.ServiceKeySecretID == "":
			return fmt.Errorf("%w: identity.service_key or identity.service_key_secret_id", domain.ErrConfigRequired)
		case cfg.OTP.Pepper.IsEmpty() && cfg.OTP.PepperSecretID == "":
			return fmt.Errorf("%w: otp.pepper or otp.pepper_secret_id", domain.ErrConfigRequired)
		case cfg.Postgres.URL == "":
			return fmt.Errorf("%w: postgres.url", domain.ErrConfigRequired)
		case cfg.Redis.Addr == "":
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		case cfg.Delivery.Provider == "log":
			return fmt.Errorf("%w: delivery.provider must not be log in prod", domain.ErrConfigRequired)
		}
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}

// IdentityConfigured reports whether the identity provider can be called.
// Actions other than ping answer NOT_CONFIGURED until it is.
func (c *Config) IdentityConfigured() bool {
	return c.Identity.URL != "" && !c.Identity.ServiceKey.IsEmpty()
}
