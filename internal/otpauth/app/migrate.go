package app

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/observability"
)

// migrateProfile moves the profile keyed oldID to newID. The new row is
// written before the old one is removed, and an existing row at newID is
// never overwritten. It reports whether a profile exists at newID afterwards.
// Failures are logged; the login flow continues without the migration.
func (s *Service) migrateProfile(ctx context.Context, oldID, newID string) bool {
	ctx, span := tracer.Start(ctx, "profile.migrate")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger).With("old_id", oldID, "new_id", newID)
	outcome := "failed"
	defer func() {
		span.SetAttributes(attribute.String("migration.outcome", outcome))
		profileMigrationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}()

	if oldID == newID {
		outcome = "noop"
		return true
	}

	existing, err := s.getProfile(ctx, newID)
	if err != nil {
		logger.WarnContext(ctx, "profile migration: check target failed", "error", err)
		return false
	}
	if existing != nil {
		outcome = "target_exists"
		logger.InfoContext(ctx, "profile migration aborted, target key already has a profile")
		return true
	}

	old, err := s.getProfile(ctx, oldID)
	if err != nil {
		logger.WarnContext(ctx, "profile migration: load source failed", "error", err)
		return false
	}
	if old == nil {
		outcome = "source_missing"
		return false
	}

	now := s.clock.Now().UTC()
	moved := *old
	moved.ID = newID
	moved.CreatedAt = now
	moved.UpdatedAt = now

	insCtx, cancel := withTimeout(ctx, s.settings.ProfileTimeout)
	err = s.profiles.Insert(insCtx, moved)
	cancel()
	if errors.Is(err, domain.ErrAlreadyExists) {
		outcome = "target_exists"
		logger.InfoContext(ctx, "profile migration aborted, target key taken concurrently")
		return true
	}
	if err != nil {
		span.RecordError(err)
		logger.WarnContext(ctx, "profile migration: insert failed", "error", err)
		return false
	}

	delCtx, cancel := withTimeout(ctx, s.settings.ProfileTimeout)
	err = s.profiles.Delete(delCtx, oldID)
	cancel()
	if err != nil {
		outcome = "stale_copy_kept"
		span.RecordError(err)
		logger.WarnContext(ctx, "profile migration: delete of old row failed", "error", err)
		return true
	}

	outcome = "migrated"
	logger.InfoContext(ctx, "profile migrated")
	return true
}

// getProfile returns nil without error when id has no profile.
func (s *Service) getProfile(ctx context.Context, id string) (*Profile, error) {
	ctx, cancel := withTimeout(ctx, s.settings.ProfileTimeout)
	defer cancel()

	p, err := s.profiles.GetByID(ctx, id)
	if domain.IsNotFound(err) {
		return nil, nil
	}
	return p, err
}
