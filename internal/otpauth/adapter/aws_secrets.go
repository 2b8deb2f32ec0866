package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/hur-delivery/otpauth/internal/domain"
)

// smClient is the narrow consumer-defined interface for Secrets Manager operations.
type smClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ssmClient is the narrow consumer-defined interface for SSM Parameter Store operations.
type ssmClient interface {
	GetParameter(ctx context.Context, params *awsssm.GetParameterInput, optFns ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error)
}

// SecretSource resolves secrets and operator parameters at startup. Loading
// is synchronous; the service does not start without its secrets.
type SecretSource struct {
	sm  smClient
	ssm ssmClient
}

// NewSecretSource creates a SecretSource. Either client may be nil when the
// corresponding lookups are not configured.
func NewSecretSource(sm smClient, ssm ssmClient) *SecretSource {
	return &SecretSource{sm: sm, ssm: ssm}
}

// Secret returns the string value of the Secrets Manager secret id.
func (s *SecretSource) Secret(ctx context.Context, id string) (domain.SecretString, error) {
	if s.sm == nil {
		return "", fmt.Errorf("secret %q: %w", id, domain.ErrNotConfigured)
	}
	out, err := s.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(id)})
	if err != nil {
		return "", fmt.Errorf("secret %q: %w", id, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("secret %q: empty value: %w", id, domain.ErrConfigRequired)
	}
	return domain.SecretString(strings.TrimSpace(*out.SecretString)), nil
}

// StringList returns the SSM parameter name split on commas and newlines,
// with blanks dropped. Works for both String and StringList parameters.
func (s *SecretSource) StringList(ctx context.Context, name string) ([]string, error) {
	if s.ssm == nil {
		return nil, fmt.Errorf("parameter %q: %w", name, domain.ErrNotConfigured)
	}
	out, err := s.ssm.GetParameter(ctx, &awsssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, nil
	}

	fields := strings.FieldsFunc(*out.Parameter.Value, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	values := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			values = append(values, f)
		}
	}
	return values, nil
}
