// Package dynamo provides the DynamoDB client factory. Only this package
// imports the DynamoDB SDK; adapters use the re-exported types and helpers.
package dynamo

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Client wraps the AWS DynamoDB SDK client.
type Client struct {
	DB *dynamodb.Client
}

// NewClient creates a DynamoDB client from the shared AWS configuration.
// A non-empty endpoint (LocalStack) overrides the service endpoint.
func NewClient(awsCfg aws.Config, endpoint string) *Client {
	return &Client{
		DB: dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
	}
}

// ---------------------------------------------------------------------------
// Type aliases: adapters import dynamo.QueryInput instead of the SDK.
// ---------------------------------------------------------------------------

type (
	PutItemInput     = dynamodb.PutItemInput
	PutItemOutput    = dynamodb.PutItemOutput
	QueryInput       = dynamodb.QueryInput
	QueryOutput      = dynamodb.QueryOutput
	UpdateItemInput  = dynamodb.UpdateItemInput
	UpdateItemOutput = dynamodb.UpdateItemOutput
)

type (
	AttributeValue           = types.AttributeValue
	AttributeValueMemberS    = types.AttributeValueMemberS
	AttributeValueMemberN    = types.AttributeValueMemberN
	AttributeValueMemberBOOL = types.AttributeValueMemberBOOL
)

// Options is re-exported so adapter interfaces can declare optFns.
type Options = dynamodb.Options

// Expression builder surface.
type (
	Expression       = expression.Expression
	ConditionBuilder = expression.ConditionBuilder
	UpdateBuilder    = expression.UpdateBuilder
	KeyCondition     = expression.KeyConditionBuilder
)

var (
	NewExpression = expression.NewBuilder
	Name          = expression.Name
	Value         = expression.Value
	Key           = expression.Key
	Set           = expression.Set
)

// ---------------------------------------------------------------------------
// AWS helper re-exports.
// ---------------------------------------------------------------------------

var (
	Bool   = aws.Bool
	String = aws.String
	Int32  = aws.Int32
)

var (
	MarshalMap   = attributevalue.MarshalMap
	UnmarshalMap = attributevalue.UnmarshalMap
)

// ---------------------------------------------------------------------------
// Error classification.
// ---------------------------------------------------------------------------

// IsConditionalCheckFailed reports whether err is a DynamoDB
// ConditionalCheckFailedException.
func IsConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
