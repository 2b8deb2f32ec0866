package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/hur-delivery/otpauth/internal/auth"
	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/observability"
)

// SendResult is returned by SendCode on success.
type SendResult struct {
	Phone     domain.PhoneNumber
	ExpiresAt time.Time
	// TestMode is set for designated test numbers; TestCode then carries the
	// fixed code and nothing was delivered.
	TestMode bool
	TestCode string
	// DeliveryWarning is set when the code was stored but the provider
	// failed or timed out. The code stays valid.
	DeliveryWarning string
}

// SendCode issues a one-time code for (phone, purpose). The code is stored
// before delivery is attempted; delivery failure is reported as a warning.
func (s *Service) SendCode(ctx context.Context, rawPhone string, purpose domain.Purpose) (*SendResult, error) {
	ctx, span := tracer.Start(ctx, "otp.send")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	phone, err := s.parsePhone(rawPhone)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !domain.IsValidPurpose(purpose) {
		err := fmt.Errorf("purpose %q: %w", purpose, domain.ErrInvalidInput)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	testMode := s.testNumbers.Match(phone.String())
	span.SetAttributes(
		attribute.String("otp.purpose", string(purpose)),
		attribute.Bool("otp.test_mode", testMode),
	)

	if !testMode {
		if err := s.checkSendRateLimit(ctx, phone); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	code := s.settings.TestCode
	if !testMode {
		code, err = s.generateCode()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("generate code: %w", err)
		}
	}

	now := s.clock.Now().UTC()
	expiresAt := now.Add(s.settings.CodeTTL)
	rec := CodeRecord{
		ID:        uuid.NewString(),
		Phone:     phone.String(),
		Purpose:   purpose,
		CodeMAC:   auth.ComputeOTPMAC(s.pepper.Bytes(), code, binding(phone.String(), purpose, expiresAt)),
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}

	writeCtx, cancel := withTimeout(ctx, s.settings.CodeWriteTimeout)
	err = s.codes.Insert(writeCtx, rec)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("store code: %w", err)
	}

	result := &SendResult{Phone: phone, ExpiresAt: expiresAt, TestMode: testMode}

	if testMode {
		result.TestCode = code
		otpSentTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("delivery", "test_number")))
		logger.InfoContext(ctx, "otp.issued", "phone", phone.String(), "purpose", purpose, "test_mode", true)
		return result, nil
	}

	deliverCtx, cancel := withTimeout(ctx, s.settings.DeliveryTimeout)
	err = s.sender.SendOTP(deliverCtx, phone.String(), code)
	cancel()
	if err != nil {
		span.RecordError(err)
		result.DeliveryWarning = "code stored but delivery failed: " + err.Error()
		otpSentTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("delivery", "failed")))
		logger.WarnContext(ctx, "otp.delivery_failed", "phone", phone.String(), "purpose", purpose, "error", err)
		return result, nil
	}

	otpSentTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("delivery", "sent")))
	logger.InfoContext(ctx, "otp.issued", "phone", phone.String(), "purpose", purpose)
	return result, nil
}

// checkSendRateLimit is fail-open: a broken limiter must not stop logins.
func (s *Service) checkSendRateLimit(ctx context.Context, phone domain.PhoneNumber) error {
	if s.rateLimiter == nil || s.settings.SendRateLimit <= 0 {
		return nil
	}
	ctx, cancel := withTimeout(ctx, s.settings.LockTimeout)
	defer cancel()

	allowed, err := s.rateLimiter.CheckAndIncrement(ctx,
		"otp_send:phone:"+phone.String(),
		s.settings.SendRateLimit,
		int(s.settings.SendRateWindow.Seconds()),
	)
	if err != nil {
		observability.WithTraceID(ctx, s.logger).WarnContext(ctx,
			"send rate limit check failed, proceeding (fail-open)", "error", err)
		return nil
	}
	if !allowed {
		rateLimitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("limit_type", "otp_send")))
		return domain.ErrPhoneRateLimited
	}
	return nil
}

// VerifyCode checks a code without touching any identity. A wrong code is
// (false, nil); missing, expired and throttled codes are errors.
func (s *Service) VerifyCode(ctx context.Context, rawPhone string, purpose domain.Purpose, code string) (bool, error) {
	ctx, span := tracer.Start(ctx, "otp.verify")
	defer span.End()

	phone, err := s.parsePhone(rawPhone)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	err = s.checkCode(ctx, phone, purpose, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrOTPMismatch):
		return false, nil
	default:
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
}

// checkCode validates code against the latest unconsumed code for
// (phone, purpose). Every evaluated guess burns an attempt; a match also
// consumes the code.
func (s *Service) checkCode(ctx context.Context, phone domain.PhoneNumber, purpose domain.Purpose, code string) error {
	ctx, span := tracer.Start(ctx, "otp.check")
	defer span.End()

	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("code is required: %w", domain.ErrInvalidInput)
	}
	if !domain.IsValidPurpose(purpose) {
		return fmt.Errorf("purpose %q: %w", purpose, domain.ErrInvalidInput)
	}

	result := "error"
	defer func() {
		otpChecksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}()

	readCtx, cancel := withTimeout(ctx, s.settings.CodeWriteTimeout)
	rec, err := s.codes.LatestUnconsumed(readCtx, phone.String(), purpose)
	cancel()
	if domain.IsNotFound(err) {
		result = "not_found"
		return domain.ErrOTPNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("load code: %w", err)
	}

	if s.clock.Now().After(rec.ExpiresAt) {
		result = "expired"
		return domain.ErrOTPExpired
	}
	if rec.Attempts >= s.settings.MaxAttempts {
		result = "throttled"
		return domain.ErrOTPThrottled
	}

	matched := auth.VerifyOTPMAC(s.pepper.Bytes(), code, binding(rec.Phone, rec.Purpose, rec.ExpiresAt), rec.CodeMAC)

	writeCtx, cancel := withTimeout(ctx, s.settings.CodeWriteTimeout)
	err = s.codes.RecordAttempt(writeCtx, *rec, matched, s.settings.MaxAttempts)
	cancel()
	if errors.Is(err, domain.ErrOTPNotFound) {
		result = "lost_race"
		return err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("record attempt: %w", err)
	}

	span.SetAttributes(attribute.Int("otp.attempts", rec.Attempts+1))
	if !matched {
		result = "mismatch"
		observability.WithTraceID(ctx, s.logger).InfoContext(ctx, "otp.mismatch",
			"phone", phone.String(), "purpose", purpose,
			"attempts_left", strconv.Itoa(s.settings.MaxAttempts-rec.Attempts-1))
		return domain.ErrOTPMismatch
	}
	result = "valid"
	return nil
}

func binding(phone string, purpose domain.Purpose, expiresAt time.Time) auth.CodeBinding {
	return auth.CodeBinding{Phone: phone, Purpose: string(purpose), ExpiresAt: expiresAt}
}
