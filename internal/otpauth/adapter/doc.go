// Package adapter contains implementations of the ports defined in app:
// DynamoDB code store, Postgres profiles, the identity provider admin API,
// Redis rate limiting and locking, and code delivery.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("otpauth/adapter")
