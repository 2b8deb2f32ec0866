package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/observability"
	"github.com/hur-delivery/otpauth/internal/retry"
)

// lockPollInterval is how often a contended phone lock is retried.
const lockPollInterval = 100 * time.Millisecond

// AuthResult carries the credentials the client signs in with.
type AuthResult struct {
	IdentityID       string
	LoginIdentifier  string
	Password         domain.SecretString
	HasLinkedProfile bool
}

// DeleteResult is returned by DeleteAuthUser.
type DeleteResult struct {
	Deleted int
	Message string
}

// Authenticate consumes a code and returns working credentials for the
// phone's identity, creating the identity and migrating a stale profile
// when needed.
func (s *Service) Authenticate(ctx context.Context, rawPhone, code string, purpose domain.Purpose) (*AuthResult, error) {
	return s.runIdentityFlow(ctx, "otp.authenticate", rawPhone, code,
		domain.PurposeOr(purpose, domain.PurposeSignup), resolveOptions{migrate: true})
}

// ResetPassword consumes a code and rewrites the derived password. Profiles
// are never moved.
func (s *Service) ResetPassword(ctx context.Context, rawPhone, code string, purpose domain.Purpose) (*AuthResult, error) {
	return s.runIdentityFlow(ctx, "otp.reset_password", rawPhone, code,
		domain.PurposeOr(purpose, domain.PurposeResetPassword), resolveOptions{})
}

func (s *Service) runIdentityFlow(ctx context.Context, op, rawPhone, code string, purpose domain.Purpose, opts resolveOptions) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	phone, err := s.parsePhone(rawPhone)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("otp.purpose", string(purpose)))

	unlock, err := s.lockPhone(ctx, phone)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer unlock()

	ctx, cancel := s.withFlowDeadline(ctx)
	defer cancel()

	if err := s.checkCode(ctx, phone, purpose, code); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res, err := s.resolveIdentity(ctx, phone, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

// DeleteAuthUser removes every identity that the resolver lookups would
// accept for phone. Finding nothing is success. A non-empty code is checked
// with purpose delete_account; whether an empty one is allowed depends on
// Settings.DeleteRequiresCode.
func (s *Service) DeleteAuthUser(ctx context.Context, rawPhone, code string) (*DeleteResult, error) {
	ctx, span := tracer.Start(ctx, "otp.delete_auth_user")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	phone, err := s.parsePhone(rawPhone)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	code = strings.TrimSpace(code)
	if code == "" && s.settings.DeleteRequiresCode {
		return nil, fmt.Errorf("code is required: %w", domain.ErrInvalidInput)
	}

	unlock, err := s.lockPhone(ctx, phone)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer unlock()

	ctx, cancel := s.withFlowDeadline(ctx)
	defer cancel()

	if code != "" {
		if err := s.checkCode(ctx, phone, domain.PurposeDeleteAccount, code); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	targets, err := s.deletionTargets(ctx, phone)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(targets) == 0 {
		logger.InfoContext(ctx, "identity.delete_nothing_found", "phone", phone.String())
		return &DeleteResult{Message: "no identity found for phone"}, nil
	}

	deleted := 0
	for _, id := range targets {
		callCtx, cancel := withTimeout(ctx, s.settings.IdentityTimeout)
		err := s.identities.DeleteIdentity(callCtx, id)
		cancel()
		if domain.IsNotFound(err) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("delete identity %s: %w", id, err)
		}
		deleted++
	}

	span.SetAttributes(attribute.Int("identity.deleted", deleted))
	logger.InfoContext(ctx, "identity.deleted", "phone", phone.String(), "count", deleted)

	res := &DeleteResult{Deleted: deleted}
	if deleted == 0 {
		res.Message = "identity already deleted"
	}
	return res, nil
}

// deletionTargets collects the claim-verified identities for phone: the one
// keyed like the profile plus every login-identifier match.
func (s *Service) deletionTargets(ctx context.Context, phone domain.PhoneNumber) ([]string, error) {
	res, err := s.lookupProfile(ctx, phone)
	if err != nil {
		return nil, err
	}
	if res, err = s.identityByProfile(ctx, phone, res); err != nil {
		return nil, err
	}
	candidates, err := s.claimedIdentities(ctx, phone)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if res.identity != nil {
		add(res.identity.ID)
	}
	for _, c := range candidates {
		add(c.ID)
	}
	return ids, nil
}

// lockPhone serializes identity flows for phone. It waits up to
// Settings.LockWait for a contended lock. A broken lock store is fail-open.
func (s *Service) lockPhone(ctx context.Context, phone domain.PhoneNumber) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}

	logger := observability.WithTraceID(ctx, s.logger)
	key := "identity_lock:" + phone.String()

	attempts := 1
	if s.settings.LockWait > 0 {
		attempts += int(s.settings.LockWait / lockPollInterval)
	}

	var token string
	err := retry.Do(ctx, retry.Policy{Attempts: attempts, Delay: lockPollInterval}, func(ctx context.Context, _ int) error {
		callCtx, cancel := withTimeout(ctx, s.settings.LockTimeout)
		defer cancel()

		t, ok, err := s.locker.TryLock(callCtx, key, s.settings.EffectiveLockTTL())
		if err != nil {
			return retry.Permanent(err)
		}
		if !ok {
			return domain.ErrIdentityBusy
		}
		token = t
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrIdentityBusy):
		return nil, domain.ErrIdentityBusy
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		logger.WarnContext(ctx, "phone lock unavailable, proceeding unlocked (fail-open)", "error", err)
		return noop, nil
	}

	return func() {
		unlockCtx, cancel := withTimeout(context.WithoutCancel(ctx), s.settings.LockTimeout)
		defer cancel()
		if err := s.locker.Unlock(unlockCtx, key, token); err != nil {
			logger.WarnContext(ctx, "phone lock release failed", "error", err)
		}
	}, nil
}

// withFlowDeadline bounds the work done under the phone lock so it ends
// before the lock can expire.
func (s *Service) withFlowDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.settings.IdentityFlowBudget())
}
