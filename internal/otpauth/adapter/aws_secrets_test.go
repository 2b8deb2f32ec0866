package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hur-delivery/otpauth/internal/domain"
)

type stubSM struct {
	getSecretValueFn func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func (s *stubSM) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return s.getSecretValueFn(ctx, params, optFns...)
}

type stubSSM struct {
	getParameterFn func(ctx context.Context, params *awsssm.GetParameterInput, optFns ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error)
}

func (s *stubSSM) GetParameter(ctx context.Context, params *awsssm.GetParameterInput, optFns ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error) {
	return s.getParameterFn(ctx, params, optFns...)
}

func TestSecretSource_Secret(t *testing.T) {
	t.Run("returns trimmed value", func(t *testing.T) {
		sm := &stubSM{getSecretValueFn: func(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			assert.Equal(t, "otpauth/identity-service-key", *params.SecretId)
			return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(" key-value\n")}, nil
		}}

		got, err := NewSecretSource(sm, nil).Secret(context.Background(), "otpauth/identity-service-key")
		require.NoError(t, err)
		assert.Equal(t, "key-value", got.Expose())
	})

	t.Run("empty secret: ErrConfigRequired", func(t *testing.T) {
		sm := &stubSM{getSecretValueFn: func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			return &secretsmanager.GetSecretValueOutput{}, nil
		}}

		_, err := NewSecretSource(sm, nil).Secret(context.Background(), "x")
		assert.ErrorIs(t, err, domain.ErrConfigRequired)
	})

	t.Run("aws error is wrapped", func(t *testing.T) {
		awsErr := errors.New("access denied")
		sm := &stubSM{getSecretValueFn: func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			return nil, awsErr
		}}

		_, err := NewSecretSource(sm, nil).Secret(context.Background(), "x")
		assert.ErrorIs(t, err, awsErr)
	})

	t.Run("no client: ErrNotConfigured", func(t *testing.T) {
		_, err := NewSecretSource(nil, nil).Secret(context.Background(), "x")
		assert.ErrorIs(t, err, domain.ErrNotConfigured)
	})
}

func TestSecretSource_StringList(t *testing.T) {
	ssm := &stubSSM{getParameterFn: func(_ context.Context, params *awsssm.GetParameterInput, _ ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error) {
		assert.Equal(t, "/otpauth/test-numbers", *params.Name)
		assert.True(t, *params.WithDecryption)
		return &awsssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{
			Value: aws.String("9647000000001, +964 750 000 0002\n96475000*,,"),
		}}, nil
	}}

	got, err := NewSecretSource(nil, ssm).StringList(context.Background(), "/otpauth/test-numbers")
	require.NoError(t, err)
	assert.Equal(t, []string{"9647000000001", "+964 750 000 0002", "96475000*"}, got)
}
