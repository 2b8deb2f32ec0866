package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/dynamo"
	"github.com/hur-delivery/otpauth/internal/otpauth/app"
)

// codesDynamoDB is a narrow, consumer-defined interface for the DynamoDB
// operations the code store needs. The *dynamodb.Client satisfies it.
type codesDynamoDB interface {
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

// sortKeyLayout is fixed width so sort keys order like timestamps.
const sortKeyLayout = "2006-01-02T15:04:05.000000000Z"

// codeItem is the DynamoDB item shape for the otp_codes table.
type codeItem struct {
	PhonePurpose string `dynamodbav:"phone_purpose"`
	CreatedID    string `dynamodbav:"created_id"`
	ID           string `dynamodbav:"id"`
	Phone        string `dynamodbav:"phone"`
	Purpose      string `dynamodbav:"purpose"`
	CodeMAC      string `dynamodbav:"code_mac"`
	CreatedAt    string `dynamodbav:"created_at"`
	ExpiresAt    string `dynamodbav:"expires_at"`
	Attempts     int    `dynamodbav:"attempts"`
	Consumed     bool   `dynamodbav:"consumed"`
	TTL          int64  `dynamodbav:"ttl"`
}

// CodeStore persists one-time codes in DynamoDB. Items are partitioned by
// phone and purpose and sorted by creation time, so the latest code is the
// first unconsumed item of a descending query.
type CodeStore struct {
	db        codesDynamoDB
	tableName string
}

var _ app.CodeStore = (*CodeStore)(nil)

// NewCodeStore creates a CodeStore backed by the given DynamoDB client.
func NewCodeStore(db codesDynamoDB, tableName string) *CodeStore {
	return &CodeStore{db: db, tableName: tableName}
}

func partitionKey(phone string, purpose domain.Purpose) string {
	return phone + "#" + string(purpose)
}

func sortKey(createdAt time.Time, id string) string {
	return createdAt.UTC().Format(sortKeyLayout) + "#" + id
}

// Insert writes a new code. The item expires from the table
// domain.OTPRetentionAfterTTL after the code itself.
func (s *CodeStore) Insert(ctx context.Context, rec app.CodeRecord) error {
	ctx, span := tracer.Start(ctx, "dynamo.codes.insert")
	defer span.End()

	item := codeItem{
		PhonePurpose: partitionKey(rec.Phone, rec.Purpose),
		CreatedID:    sortKey(rec.CreatedAt, rec.ID),
		ID:           rec.ID,
		Phone:        rec.Phone,
		Purpose:      string(rec.Purpose),
		CodeMAC:      rec.CodeMAC,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:    rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
		Attempts:     rec.Attempts,
		Consumed:     rec.Consumed,
		TTL:          rec.ExpiresAt.Add(domain.OTPRetentionAfterTTL).Unix(),
	}

	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("code store: marshal item: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName: &s.tableName,
		Item:      av,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("code store: insert: %w", err)
	}
	return nil
}

// LatestUnconsumed returns the newest unconsumed code for (phone, purpose).
// Returns domain.ErrNotFound when there is none.
func (s *CodeStore) LatestUnconsumed(ctx context.Context, phone string, purpose domain.Purpose) (*app.CodeRecord, error) {
	ctx, span := tracer.Start(ctx, "dynamo.codes.latest_unconsumed")
	defer span.End()

	expr, err := dynamo.NewExpression().
		WithKeyCondition(dynamo.Key("phone_purpose").Equal(dynamo.Value(partitionKey(phone, purpose)))).
		WithFilter(dynamo.Name("consumed").Equal(dynamo.Value(false))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("code store: build query: %w", err)
	}

	input := &dynamo.QueryInput{
		TableName:                 &s.tableName,
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          dynamo.Bool(false),
		ConsistentRead:            dynamo.Bool(true),
	}

	// The filter runs after the page is read, so an empty page with a
	// LastEvaluatedKey does not mean there is nothing further.
	for {
		out, err := s.db.Query(ctx, input)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("code store: query: %w", err)
		}
		if len(out.Items) > 0 {
			return decodeCode(out.Items[0])
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil, fmt.Errorf("code store: latest unconsumed: %w", domain.ErrNotFound)
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// RecordAttempt increments attempts and sets consumed=matched in a single
// conditional update. A code consumed or exhausted by a concurrent request
// yields domain.ErrOTPNotFound.
func (s *CodeStore) RecordAttempt(ctx context.Context, rec app.CodeRecord, matched bool, maxAttempts int) error {
	ctx, span := tracer.Start(ctx, "dynamo.codes.record_attempt")
	defer span.End()

	update := dynamo.Set(dynamo.Name("attempts"), dynamo.Name("attempts").Plus(dynamo.Value(1))).
		Set(dynamo.Name("consumed"), dynamo.Value(matched))
	cond := dynamo.Name("consumed").Equal(dynamo.Value(false)).
		And(dynamo.Name("attempts").LessThan(dynamo.Value(maxAttempts)))

	expr, err := dynamo.NewExpression().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("code store: build update: %w", err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"phone_purpose": &dynamo.AttributeValueMemberS{Value: partitionKey(rec.Phone, rec.Purpose)},
			"created_id":    &dynamo.AttributeValueMemberS{Value: sortKey(rec.CreatedAt, rec.ID)},
		},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("code store: record attempt: %w", domain.ErrOTPNotFound)
		}
		span.RecordError(err)
		return fmt.Errorf("code store: record attempt: %w", err)
	}
	return nil
}

func decodeCode(av map[string]dynamo.AttributeValue) (*app.CodeRecord, error) {
	var item codeItem
	if err := dynamo.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("code store: unmarshal item: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("code store: parse created_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, item.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("code store: parse expires_at: %w", err)
	}

	return &app.CodeRecord{
		ID:        item.ID,
		Phone:     item.Phone,
		Purpose:   domain.Purpose(item.Purpose),
		CodeMAC:   item.CodeMAC,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		Attempts:  item.Attempts,
		Consumed:  item.Consumed,
	}, nil
}
