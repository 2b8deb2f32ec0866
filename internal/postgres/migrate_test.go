package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hur-delivery/otpauth/internal/postgres"
)

func TestMigrationNames(t *testing.T) {
	names, err := postgres.MigrationNames()

	require.NoError(t, err)
	assert.Contains(t, names, "000001_create_profiles.up.sql")
	assert.Contains(t, names, "000001_create_profiles.down.sql")
	assert.Zero(t, len(names)%2, "every up migration needs a down migration")
}

func TestMigrateRejectsBadInput(t *testing.T) {
	assert.Error(t, postgres.Migrate("", postgres.Up))
	assert.Error(t, postgres.Migrate("postgres://localhost/app", postgres.Direction("sideways")))
}

func TestNewPoolRequiresURL(t *testing.T) {
	_, err := postgres.NewPool(context.Background(), postgres.Config{})
	assert.Error(t, err)
}

func TestNewPoolRejectsMalformedURL(t *testing.T) {
	_, err := postgres.NewPool(context.Background(), postgres.Config{URL: "postgres://%zz"})
	assert.Error(t, err)
}
