package app

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hur-delivery/otpauth/internal/observability"
	"github.com/hur-delivery/otpauth/internal/retry"
)

var errCredentialsRejected = errors.New("credentials rejected")

// verifyCredentials signs in with the pair. Rejections and transport errors
// are both false.
func (s *Service) verifyCredentials(ctx context.Context, loginIdentifier, password string) bool {
	ctx, span := tracer.Start(ctx, "identity.verify_credentials")
	defer span.End()

	callCtx, cancel := withTimeout(ctx, s.settings.IdentityTimeout)
	ok, err := s.identities.SignInWithPassword(callCtx, loginIdentifier, password)
	cancel()

	result := "ok"
	switch {
	case err != nil:
		result = "error"
		span.RecordError(err)
	case !ok:
		result = "rejected"
	}
	span.SetAttributes(attribute.String("credentials.result", result))
	credentialChecksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	return err == nil && ok
}

// stabilize waits for the provider to accept the password it was just given.
// A rejected first check rewrites the password once. Persistent failure is
// logged only; the caller still gets the credentials.
func (s *Service) stabilize(ctx context.Context, acc *IdentityAccount, password string) {
	err := retry.Do(ctx, retry.Policy{Attempts: 2}, func(ctx context.Context, attempt int) error {
		if err := s.clock.Sleep(ctx, s.settings.VerifyDelay); err != nil {
			return retry.Permanent(err)
		}
		if attempt > 0 {
			if err := s.setPassword(ctx, acc.ID, password); err != nil {
				return err
			}
		}
		if !s.verifyCredentials(ctx, acc.LoginIdentifier, password) {
			return errCredentialsRejected
		}
		return nil
	})
	if err != nil {
		observability.WithTraceID(ctx, s.logger).WarnContext(ctx, "credentials did not verify after password write",
			"identity_id", acc.ID,
			"error", err,
		)
	}
}
