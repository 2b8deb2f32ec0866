package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hur-delivery/otpauth/internal/otpauth/app"
	redisclient "github.com/hur-delivery/otpauth/internal/redis"
)

// unlockScript deletes the lock only if the caller still holds it.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// PhoneLocker is a single-instance Redis lock keyed per phone. Each holder
// gets a random token so an expired holder cannot release a newer lock.
type PhoneLocker struct {
	cmd redisclient.Cmdable
}

var _ app.PhoneLocker = (*PhoneLocker)(nil)

// NewPhoneLocker creates a PhoneLocker that uses cmd for Redis operations.
func NewPhoneLocker(cmd redisclient.Cmdable) *PhoneLocker {
	return &PhoneLocker{cmd: cmd}
}

// TryLock sets key with a fresh token if it is free.
func (l *PhoneLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "redis.lock.acquire")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET NX"),
	)

	token := uuid.NewString()
	ok, err := l.cmd.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases key if token still owns it.
func (l *PhoneLocker) Unlock(ctx context.Context, key, token string) error {
	ctx, span := tracer.Start(ctx, "redis.lock.release")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVAL"),
	)

	if err := l.cmd.Eval(ctx, unlockScript, []string{key}, token).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	return nil
}
