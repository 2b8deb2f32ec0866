// Package dynamotest provides DynamoDB error values for adapter tests.
package dynamotest

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ConditionalCheckFailed returns the error DynamoDB answers a failed
// ConditionExpression with.
func ConditionalCheckFailed() error {
	return &types.ConditionalCheckFailedException{
		Message: aws.String("The conditional request failed"),
	}
}
