// Package awsconf loads the shared AWS SDK configuration and builds the
// service clients used outside DynamoDB: SNS, Secrets Manager and SSM.
package awsconf

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Config holds AWS connection parameters.
type Config struct {
	Region string
	// Endpoint points every client at LocalStack (e.g. "http://localhost:4566")
	// and switches to static test credentials. Empty uses the AWS defaults.
	Endpoint string
	// Timeout is the HTTP client timeout; zero keeps the SDK default.
	Timeout time.Duration
}

// Load resolves the AWS configuration once for all clients.
func Load(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.Timeout > 0 {
		awsCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return awsCfg, nil
}

// NewSNS creates an SNS client, honouring a LocalStack endpoint.
func NewSNS(awsCfg aws.Config, endpoint string) *sns.Client {
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// NewSecretsManager creates a Secrets Manager client, honouring a LocalStack endpoint.
func NewSecretsManager(awsCfg aws.Config, endpoint string) *secretsmanager.Client {
	return secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// NewSSM creates an SSM client, honouring a LocalStack endpoint.
func NewSSM(awsCfg aws.Config, endpoint string) *ssm.Client {
	return ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}
