package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/hur-delivery/otpauth/internal/auth"
	"github.com/hur-delivery/otpauth/internal/awsconf"
	"github.com/hur-delivery/otpauth/internal/config"
	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/dynamo"
	"github.com/hur-delivery/otpauth/internal/otpauth/adapter"
	"github.com/hur-delivery/otpauth/internal/otpauth/app"
	"github.com/hur-delivery/otpauth/internal/otpauth/port"
	"github.com/hur-delivery/otpauth/internal/postgres"
	"github.com/hur-delivery/otpauth/internal/redis"
	"github.com/hur-delivery/otpauth/internal/server"
)

// devPepper is the HMAC pepper used in local development when none is
// configured.
var devPepper = domain.SecretString("local-dev-pepper-32-bytes-ok!!")

// setup is the otpauth composition root. It creates infrastructure clients,
// adapters and the login service, and mounts the action endpoint.
func setup(ctx context.Context, deps server.Deps) (server.Cleanup, error) {
	cfg := deps.Config
	logger := deps.Logger

	// 1. Infrastructure clients.
	awsCfg, err := awsconf.Load(ctx, awsconf.Config{
		Region:   cfg.AWS.Region,
		Endpoint: cfg.AWS.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("otpauth setup: %w", err)
	}

	dynamoEndpoint := cfg.DynamoDB.Endpoint
	if dynamoEndpoint == "" {
		dynamoEndpoint = cfg.AWS.Endpoint
	}
	dynamoClient := dynamo.NewClient(awsCfg, dynamoEndpoint)

	pool, err := postgres.NewPool(ctx, postgres.Config{
		URL:            cfg.Postgres.URL,
		MaxConns:       cfg.Postgres.MaxConns,
		ConnectTimeout: cfg.Postgres.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("otpauth setup: %w", err)
	}

	redisClient := redis.NewClient(redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Timeout:  cfg.Redis.Timeout,
	})
	if err := redisClient.Ping(ctx); err != nil {
		// Rate limiting and locking fail open, so a cold Redis is not fatal.
		logger.Warn("redis unreachable at startup", "addr", cfg.Redis.Addr, "error", err)
	}

	cleanup := func(context.Context) error {
		pool.Close()
		return redisClient.Close()
	}

	// 2. Secrets and the test-number list.
	secrets := adapter.NewSecretSource(
		awsconf.NewSecretsManager(awsCfg, cfg.AWS.Endpoint),
		awsconf.NewSSM(awsCfg, cfg.AWS.Endpoint),
	)

	serviceKey, err := resolveSecret(ctx, secrets, cfg.Identity.ServiceKey, cfg.Identity.ServiceKeySecretID)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("otpauth setup: service key: %w", err), cleanup(ctx))
	}
	pepper, err := resolveSecret(ctx, secrets, cfg.OTP.Pepper, cfg.OTP.PepperSecretID)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("otpauth setup: pepper: %w", err), cleanup(ctx))
	}
	if pepper.IsEmpty() {
		logger.Warn("no pepper configured, using the development pepper")
		pepper = devPepper
	}

	testNumbers, err := loadTestNumbers(ctx, cfg, secrets)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("otpauth setup: %w", err), cleanup(ctx))
	}

	// 3. Adapters.
	clock := domain.RealClock{}
	normalizer := cfg.Phone.Normalizer()

	codeStore := adapter.NewCodeStore(dynamoClient.DB, cfg.DynamoDB.CodesTable)
	profileStore := adapter.NewProfileStore(pool)
	rateLimiter := adapter.NewRateLimiter(redisClient.RDB)
	locker := adapter.NewPhoneLocker(redisClient.RDB)
	identities := adapter.NewIdentityClient(adapter.IdentityClientConfig{
		BaseURL:    cfg.Identity.URL,
		ServiceKey: serviceKey,
		MaxPages:   domain.IdentitySearchMaxPages,
		PageSize:   domain.IdentitySearchPageSize,
	}, &http.Client{Timeout: cfg.Identity.Timeout})

	sender, err := createSender(cfg, awsCfg, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("otpauth setup: %w", err), cleanup(ctx))
	}

	// 4. Login service.
	settings := app.DefaultSettings()
	settings.CodeTTL = cfg.OTP.CodeTTL
	settings.MaxAttempts = cfg.OTP.MaxAttempts
	settings.TestCode = cfg.OTP.TestCode
	settings.SendRateLimit = cfg.OTP.SendRateLimit
	settings.SendRateWindow = cfg.OTP.SendRateWindow
	settings.DeleteRequiresCode = cfg.OTP.DeleteRequiresCode
	settings.LoginDomain = cfg.Identity.LoginDomain
	settings.VerifyDelay = cfg.Identity.VerifyDelay
	settings.IdentityTimeout = cfg.Identity.Timeout
	settings.LockTTL = cfg.Identity.LockTTL
	settings.LockWait = cfg.Identity.LockWait
	settings.DeliveryTimeout = cfg.Delivery.Timeout
	settings.CodeWriteTimeout = cfg.DynamoDB.Timeout
	settings.ProfileTimeout = cfg.Postgres.Timeout
	settings.LockTimeout = cfg.Redis.Timeout

	svc := app.NewService(app.ServiceConfig{
		Codes:       codeStore,
		Profiles:    profileStore,
		Identities:  identities,
		Sender:      sender,
		RateLimiter: rateLimiter,
		Locker:      locker,
		Normalizer:  normalizer,
		TestNumbers: testNumbers,
		Pepper:      pepper,
		Settings:    settings,
		Clock:       clock,
		Logger:      logger,
	})

	// 5. Action endpoint.
	handler := port.NewHandler(port.HandlerConfig{
		Service: svc,
		Status: port.PingStatus{
			IdentityProviderURL: cfg.Identity.URL != "",
			ServiceKey:          !serviceKey.IsEmpty(),
			CodeStore:           cfg.DynamoDB.CodesTable != "",
			ProfileStore:        cfg.Postgres.URL != "",
			DeliveryProvider:    cfg.Delivery.Provider != "",
			LockStore:           cfg.Redis.Addr != "",
		},
		Clock:  clock,
		Logger: logger,
	})
	handler.Routes(deps.Router)

	logger.Info("otpauth setup complete",
		"delivery_provider", cfg.Delivery.Provider,
		"test_numbers", testNumbers.Len(),
		"lock_ttl", settings.EffectiveLockTTL(),
		"identity_configured", cfg.Identity.URL != "" && !serviceKey.IsEmpty(),
	)

	return cleanup, nil
}

// resolveSecret prefers an inline value and falls back to Secrets Manager.
// Neither configured yields an empty secret.
func resolveSecret(ctx context.Context, src *adapter.SecretSource, inline domain.SecretString, secretID string) (domain.SecretString, error) {
	if !inline.IsEmpty() || secretID == "" {
		return inline, nil
	}
	return src.Secret(ctx, secretID)
}

// loadTestNumbers merges the configured list with the SSM parameter, when
// one is named.
func loadTestNumbers(ctx context.Context, cfg *config.Config, src *adapter.SecretSource) (auth.TestNumbers, error) {
	entries := append([]string(nil), cfg.OTP.TestNumbers...)
	if cfg.OTP.TestNumbersParameter != "" {
		fromSSM, err := src.StringList(ctx, cfg.OTP.TestNumbersParameter)
		if err != nil {
			return auth.TestNumbers{}, fmt.Errorf("load test numbers: %w", err)
		}
		entries = append(entries, fromSSM...)
	}
	return auth.NewTestNumbers(entries, cfg.Phone.Normalizer().Normalize), nil
}

// createSender returns the delivery provider selected by configuration.
func createSender(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (auth.CodeSender, error) {
	switch cfg.Delivery.Provider {
	case "log":
		logger.Info("using log-only code delivery")
		return adapter.NewLogSender(logger), nil
	case "sns":
		return adapter.NewSNSSender(awsconf.NewSNS(awsCfg, cfg.AWS.Endpoint), cfg.Delivery.Sender), nil
	case "gateway":
		if cfg.Delivery.GatewayURL == "" {
			return nil, fmt.Errorf("%w: delivery.gateway_url", domain.ErrConfigRequired)
		}
		return adapter.NewGatewaySender(adapter.GatewayConfig{
			URL:     cfg.Delivery.GatewayURL,
			APIKey:  cfg.Delivery.GatewayKey,
			Channel: cfg.Delivery.Channel,
			Sender:  cfg.Delivery.Sender,
		}, &http.Client{Timeout: cfg.Delivery.Timeout}), nil
	default:
		return nil, fmt.Errorf("unknown delivery provider %q", cfg.Delivery.Provider)
	}
}
