package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/hur-delivery/otpauth/internal/auth"
	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/observability"
	"github.com/hur-delivery/otpauth/internal/retry"
)

// resolution is the state carried between the resolver steps.
type resolution struct {
	profile  *Profile
	identity *IdentityAccount
	// created is set when step 4 provisioned the identity; its password is
	// already the derived one.
	created bool
	// needsMigration is set when a profile exists under a different key
	// than the resolved identity.
	needsMigration bool
	// needsCreation is set when no reusable identity was found.
	needsCreation bool
}

type resolveOptions struct {
	// migrate allows moving a stale profile to the identity's key.
	migrate bool
}

// resolveIdentity finds or creates the one identity that should own phone,
// aligns its password with the derived one and, when allowed, moves a stale
// profile onto the identity's key.
func (s *Service) resolveIdentity(ctx context.Context, phone domain.PhoneNumber, opts resolveOptions) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "identity.resolve")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	res, err := s.lookupProfile(ctx, phone)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if res, err = s.identityByProfile(ctx, phone, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if res, err = s.identityByLoginIdentifier(ctx, phone, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if res, err = s.createIdentity(ctx, phone, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	outcome := "reused"
	if res.created {
		outcome = "created"
	}
	identityResolutionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	span.SetAttributes(
		attribute.String("identity.outcome", outcome),
		attribute.Bool("identity.needs_migration", res.needsMigration),
	)

	linked := res.profile != nil && res.profile.ID == res.identity.ID
	if res.needsMigration && opts.migrate {
		linked = s.migrateProfile(ctx, res.profile.ID, res.identity.ID)
	}

	password := s.derivePassword(phone, res.profile)
	if !res.created {
		err := retry.Do(ctx, retry.Once(s.settings.RetryDelay), func(ctx context.Context, _ int) error {
			err := s.setPassword(ctx, res.identity.ID, password)
			if domain.IsClientError(err) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("resolve identity: set password: %w", err)
		}
	}

	s.stabilize(ctx, res.identity, password)

	logger.InfoContext(ctx, "identity.resolved",
		"phone", phone.String(),
		"identity_id", res.identity.ID,
		"outcome", outcome,
		"linked_profile", linked,
	)

	return &AuthResult{
		IdentityID:       res.identity.ID,
		LoginIdentifier:  res.identity.LoginIdentifier,
		Password:         domain.SecretString(password),
		HasLinkedProfile: linked,
	}, nil
}

// lookupProfile is step 1: the profile for phone in either stored form.
func (s *Service) lookupProfile(ctx context.Context, phone domain.PhoneNumber) (resolution, error) {
	ctx, cancel := withTimeout(ctx, s.settings.ProfileTimeout)
	defer cancel()

	p, err := s.profiles.FindByPhone(ctx, phone.String(), phone.E164())
	if domain.IsNotFound(err) {
		return resolution{}, nil
	}
	if err != nil {
		return resolution{}, fmt.Errorf("resolve identity: find profile: %w", err)
	}
	return resolution{profile: p}, nil
}

// identityByProfile is step 2: the identity keyed like the profile, used
// only when its phone claim verifies.
func (s *Service) identityByProfile(ctx context.Context, phone domain.PhoneNumber, res resolution) (resolution, error) {
	if res.identity != nil || res.profile == nil {
		return res, nil
	}

	callCtx, cancel := withTimeout(ctx, s.settings.IdentityTimeout)
	acc, err := s.identities.GetIdentity(callCtx, res.profile.ID)
	cancel()
	if domain.IsNotFound(err) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("resolve identity: get identity: %w", err)
	}

	if !s.normalizer.SamePhone(acc.Metadata.Phone, phone) {
		observability.WithTraceID(ctx, s.logger).WarnContext(ctx, "identity phone claim mismatch, not reusing",
			"phone", phone.String(),
			"identity_id", acc.ID,
			"claim", acc.Metadata.Phone,
		)
		return res, nil
	}

	res.identity = acc
	return res, nil
}

// identityByLoginIdentifier is step 3: search by login identifier,
// preferring the canonical one over the newest suffixed one.
func (s *Service) identityByLoginIdentifier(ctx context.Context, phone domain.PhoneNumber, res resolution) (resolution, error) {
	if res.identity != nil {
		return res, nil
	}

	candidates, err := s.claimedIdentities(ctx, phone)
	if err != nil {
		return res, err
	}
	if best := s.pickIdentity(phone, candidates); best != nil {
		res.identity = best
		res.needsMigration = res.profile != nil && res.profile.ID != best.ID
	}
	return res, nil
}

// createIdentity is step 4. When creation fails the lookups are re-run since
// a concurrent request may have won the race.
func (s *Service) createIdentity(ctx context.Context, phone domain.PhoneNumber, res resolution) (resolution, error) {
	if res.identity != nil {
		return res, nil
	}
	res.needsCreation = true

	now := s.clock.Now().UTC()
	in := NewIdentity{
		LoginIdentifier: auth.UniqueLoginIdentifier(phone.String(), s.settings.LoginDomain, now),
		Password:        s.derivePassword(phone, res.profile),
		Metadata: IdentityMetadata{
			Phone:     phone.String(),
			CreatedAt: now.Format(time.RFC3339),
			TestUser:  s.testNumbers.Match(phone.String()),
		},
	}

	callCtx, cancel := withTimeout(ctx, s.settings.IdentityTimeout)
	acc, createErr := s.identities.CreateIdentity(callCtx, in)
	cancel()
	if createErr == nil {
		res.identity = acc
		res.created = true
		res.needsCreation = false
		res.needsMigration = res.profile != nil && res.profile.ID != acc.ID
		return res, nil
	}

	observability.WithTraceID(ctx, s.logger).WarnContext(ctx, "identity creation failed, re-running lookups",
		"phone", phone.String(), "error", createErr)

	retried, err := s.identityByProfile(ctx, phone, res)
	if err == nil {
		retried, err = s.identityByLoginIdentifier(ctx, phone, retried)
	}
	if err == nil && retried.identity != nil {
		retried.needsCreation = false
		return retried, nil
	}

	return res, fmt.Errorf("%w: %v", domain.ErrIdentityProvisioningFailed, createErr)
}

// claimedIdentities returns the search hits that carry a login identifier
// for phone and a verified phone claim.
func (s *Service) claimedIdentities(ctx context.Context, phone domain.PhoneNumber) ([]IdentityAccount, error) {
	ctx, cancel := withTimeout(ctx, s.settings.IdentityTimeout)
	defer cancel()

	hits, err := s.identities.SearchIdentities(ctx, phone.String())
	if err != nil {
		return nil, fmt.Errorf("resolve identity: search identities: %w", err)
	}

	out := hits[:0:0]
	for _, acc := range hits {
		if !auth.IsLoginIdentifierFor(acc.LoginIdentifier, phone.String(), s.settings.LoginDomain) {
			continue
		}
		if !s.normalizer.SamePhone(acc.Metadata.Phone, phone) {
			continue
		}
		out = append(out, acc)
	}
	return out, nil
}

func (s *Service) pickIdentity(phone domain.PhoneNumber, candidates []IdentityAccount) *IdentityAccount {
	canonical := auth.CanonicalLoginIdentifier(phone.String(), s.settings.LoginDomain)

	var best *IdentityAccount
	for i := range candidates {
		c := &candidates[i]
		if c.LoginIdentifier == canonical {
			return c
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			best = c
		}
	}
	return best
}

func (s *Service) derivePassword(phone domain.PhoneNumber, p *Profile) string {
	var idNumber string
	if p != nil {
		idNumber = p.IDNumber
	}
	return auth.DerivePassword(phone.String(), idNumber, domain.PasswordFallbackDigits)
}

func (s *Service) setPassword(ctx context.Context, id, password string) error {
	ctx, cancel := withTimeout(ctx, s.settings.IdentityTimeout)
	defer cancel()
	return s.identities.SetPassword(ctx, id, password)
}
