// Package app holds the phone login use cases: issuing and checking one-time
// codes, and reconciling the identity provider account with the profile row
// for a phone.
package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/hur-delivery/otpauth/internal/auth"
	"github.com/hur-delivery/otpauth/internal/domain"
)

var tracer = otel.Tracer("otpauth/app")

var (
	otpSentTotal             metric.Int64Counter
	otpChecksTotal           metric.Int64Counter
	rateLimitsTotal          metric.Int64Counter
	identityResolutionsTotal metric.Int64Counter
	profileMigrationsTotal   metric.Int64Counter
	credentialChecksTotal    metric.Int64Counter
)

func init() {
	m := otel.Meter("otpauth/app")

	otpSentTotal, _ = m.Int64Counter("otp_sent_total",
		metric.WithDescription("One-time codes issued"))
	otpChecksTotal, _ = m.Int64Counter("otp_checks_total",
		metric.WithDescription("One-time code checks by result"))
	rateLimitsTotal, _ = m.Int64Counter("security_rate_limits_total",
		metric.WithDescription("Requests rejected by a rate limit"))
	identityResolutionsTotal, _ = m.Int64Counter("identity_resolutions_total",
		metric.WithDescription("Identity resolutions by outcome"))
	profileMigrationsTotal, _ = m.Int64Counter("profile_migrations_total",
		metric.WithDescription("Profile key migrations by outcome"))
	credentialChecksTotal, _ = m.Int64Counter("credential_checks_total",
		metric.WithDescription("Password sign-in round trips by result"))
}

// CodeRecord is a stored one-time code. The code itself is never kept; only
// its MAC bound to phone, purpose and expiry.
type CodeRecord struct {
	ID        string
	Phone     string
	Purpose   domain.Purpose
	CodeMAC   string
	CreatedAt time.Time
	ExpiresAt time.Time
	Attempts  int
	Consumed  bool
}

// Profile is the application's user row.
type Profile struct {
	ID         string
	Phone      string
	Name       string
	Role       string
	IDNumber   string // empty when unset
	Attributes map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IdentityMetadata is the part of the provider's user metadata this service
// reads and writes.
type IdentityMetadata struct {
	Phone     string
	CreatedAt string
	TestUser  bool
}

// IdentityAccount is an account in the identity provider.
type IdentityAccount struct {
	ID              string
	LoginIdentifier string
	Metadata        IdentityMetadata
	CreatedAt       time.Time
}

// NewIdentity holds the fields for creating an identity account.
type NewIdentity struct {
	LoginIdentifier string
	Password        string
	Metadata        IdentityMetadata
}

// CodeStore persists one-time codes.
type CodeStore interface {
	Insert(ctx context.Context, rec CodeRecord) error
	// LatestUnconsumed returns the most recently created unconsumed code for
	// (phone, purpose), or domain.ErrNotFound.
	LatestUnconsumed(ctx context.Context, phone string, purpose domain.Purpose) (*CodeRecord, error)
	// RecordAttempt increments attempts and sets consumed=matched in one
	// atomic write, conditional on the code still being unconsumed and under
	// maxAttempts. A lost race returns domain.ErrOTPNotFound.
	RecordAttempt(ctx context.Context, rec CodeRecord, matched bool, maxAttempts int) error
}

// ProfileStore reads and writes profile rows.
type ProfileStore interface {
	// FindByPhone returns the first profile whose phone equals any of forms,
	// or domain.ErrNotFound.
	FindByPhone(ctx context.Context, forms ...string) (*Profile, error)
	GetByID(ctx context.Context, id string) (*Profile, error)
	// Insert creates a row; an existing row at p.ID yields domain.ErrAlreadyExists.
	Insert(ctx context.Context, p Profile) error
	Delete(ctx context.Context, id string) error
}

// IdentityProvider is the admin surface of the external identity provider.
type IdentityProvider interface {
	GetIdentity(ctx context.Context, id string) (*IdentityAccount, error)
	// SearchIdentities returns accounts whose login identifier or phone
	// contains query. Callers filter the result.
	SearchIdentities(ctx context.Context, query string) ([]IdentityAccount, error)
	CreateIdentity(ctx context.Context, in NewIdentity) (*IdentityAccount, error)
	SetPassword(ctx context.Context, id, password string) error
	DeleteIdentity(ctx context.Context, id string) error
	// SignInWithPassword performs a password grant. (false, nil) means the
	// provider rejected the credentials.
	SignInWithPassword(ctx context.Context, loginIdentifier, password string) (bool, error)
}

// RateLimiter checks and enforces fixed-window rate limits.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, key string, limit, windowSeconds int) (bool, error)
}

// PhoneLocker provides short-lived mutual exclusion per key.
type PhoneLocker interface {
	// TryLock returns ok=false without error when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Settings are the tunables of the login flow.
type Settings struct {
	CodeTTL     time.Duration
	MaxAttempts int
	TestCode    string

	SendRateLimit  int
	SendRateWindow time.Duration

	LoginDomain string
	// VerifyDelay is waited before each credential round trip.
	VerifyDelay time.Duration
	// RetryDelay separates the two attempts of an identity write.
	RetryDelay time.Duration

	CodeWriteTimeout time.Duration
	DeliveryTimeout  time.Duration
	IdentityTimeout  time.Duration
	ProfileTimeout   time.Duration
	LockTimeout      time.Duration

	LockTTL  time.Duration
	LockWait time.Duration

	DeleteRequiresCode bool
}

// DefaultSettings returns the compiled defaults.
func DefaultSettings() Settings {
	return Settings{
		CodeTTL:          domain.OTPValidityDuration,
		MaxAttempts:      domain.MaxOTPVerifyAttempts,
		TestCode:         domain.DefaultTestOTPCode,
		SendRateLimit:    domain.OTPRequestRateLimitPerPhone,
		SendRateWindow:   domain.OTPRateLimitWindow,
		LoginDomain:      domain.DefaultLoginDomain,
		VerifyDelay:      domain.CredentialVerifyDelay,
		RetryDelay:       200 * time.Millisecond,
		CodeWriteTimeout: domain.CodeStoreWriteTimeout,
		DeliveryTimeout:  domain.DeliveryTimeout,
		IdentityTimeout:  domain.IdentityCallTimeout,
		ProfileTimeout:   domain.ProfileStoreTimeout,
		LockTimeout:      domain.RedisTimeout,
		LockTTL:          domain.IdentityLockTTL,
		LockWait:         domain.IdentityLockWait,
	}
}

// Bounded collaborator calls one locked identity flow can make at most:
// checking the code, profile lookup and migration, and identity lookups,
// creation, re-lookups, password writes and the stabilize round trips.
const (
	flowCodeCalls     = 2
	flowProfileCalls  = 5
	flowIdentityCalls = 10
	flowVerifyWaits   = 2
)

// lockReleaseMargin keeps the lock alive past the flow deadline so the
// holder's own release is what frees it.
const lockReleaseMargin = 5 * time.Second

// IdentityFlowBudget is the worst-case duration of a locked identity flow
// under these timeouts. Zero means the flow is unbounded.
func (s Settings) IdentityFlowBudget() time.Duration {
	return flowCodeCalls*s.CodeWriteTimeout +
		flowProfileCalls*s.ProfileTimeout +
		flowIdentityCalls*s.IdentityTimeout +
		flowVerifyWaits*s.VerifyDelay +
		s.RetryDelay
}

// EffectiveLockTTL is the per-phone lock lifetime: the configured LockTTL,
// raised so the lock cannot expire while a flow is still within its budget.
func (s Settings) EffectiveLockTTL() time.Duration {
	budget := s.IdentityFlowBudget()
	if budget <= 0 {
		return s.LockTTL
	}
	return max(s.LockTTL, budget+lockReleaseMargin)
}

// ServiceConfig holds the dependencies for Service. RateLimiter and Locker
// are optional; without them sends are unlimited and identity flows are not
// serialized per phone.
type ServiceConfig struct {
	Codes       CodeStore
	Profiles    ProfileStore
	Identities  IdentityProvider
	Sender      auth.CodeSender
	RateLimiter RateLimiter
	Locker      PhoneLocker

	Normalizer  domain.PhoneNormalizer
	TestNumbers auth.TestNumbers
	Pepper      domain.SecretString
	Settings    Settings

	Clock  domain.Clock
	Logger *slog.Logger

	// GenerateCode defaults to auth.GenerateOTP.
	GenerateCode func() (string, error)
}

// Service orchestrates the send, verify, authenticate, reset_password and
// delete_auth_user flows.
type Service struct {
	codes       CodeStore
	profiles    ProfileStore
	identities  IdentityProvider
	sender      auth.CodeSender
	rateLimiter RateLimiter
	locker      PhoneLocker

	normalizer  domain.PhoneNormalizer
	testNumbers auth.TestNumbers
	pepper      domain.SecretString
	settings    Settings

	clock        domain.Clock
	logger       *slog.Logger
	generateCode func() (string, error)
}

// NewService creates a new Service with the given dependencies.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		codes:        cfg.Codes,
		profiles:     cfg.Profiles,
		identities:   cfg.Identities,
		sender:       cfg.Sender,
		rateLimiter:  cfg.RateLimiter,
		locker:       cfg.Locker,
		normalizer:   cfg.Normalizer,
		testNumbers:  cfg.TestNumbers,
		pepper:       cfg.Pepper,
		settings:     cfg.Settings,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		generateCode: cfg.GenerateCode,
	}
	if s.clock == nil {
		s.clock = domain.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.generateCode == nil {
		s.generateCode = auth.GenerateOTP
	}
	if s.normalizer.CountryCode == "" {
		s.normalizer = domain.DefaultPhoneNormalizer()
	}
	return s
}

// parsePhone normalizes and validates a raw phone from a request.
func (s *Service) parsePhone(raw string) (domain.PhoneNumber, error) {
	return s.normalizer.Parse(raw)
}

// withTimeout bounds a single collaborator call; d <= 0 means no extra bound.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
