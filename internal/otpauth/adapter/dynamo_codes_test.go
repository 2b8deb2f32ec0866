package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/dynamo"
	"github.com/hur-delivery/otpauth/internal/dynamo/dynamotest"
	"github.com/hur-delivery/otpauth/internal/otpauth/app"
)

// ---------------------------------------------------------------------------
// Stub implementing codesDynamoDB for unit tests.
// ---------------------------------------------------------------------------

type stubCodesDynamo struct {
	putItemFn    func(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	queryFn      func(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	updateItemFn func(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

func (s *stubCodesDynamo) PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
	return s.putItemFn(ctx, params, optFns...)
}

func (s *stubCodesDynamo) Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
	return s.queryFn(ctx, params, optFns...)
}

func (s *stubCodesDynamo) UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
	return s.updateItemFn(ctx, params, optFns...)
}

var _ codesDynamoDB = (*stubCodesDynamo)(nil)

const testCodesTable = "otp_codes"

func sampleCode() app.CodeRecord {
	created := time.Date(2026, 2, 10, 12, 0, 0, 123456789, time.UTC)
	return app.CodeRecord{
		ID:        "c-1",
		Phone:     "9647701234567",
		Purpose:   domain.PurposeSignup,
		CodeMAC:   "mac",
		CreatedAt: created,
		ExpiresAt: created.Add(domain.OTPValidityDuration),
	}
}

func marshalCode(t *testing.T, rec app.CodeRecord) map[string]dynamo.AttributeValue {
	t.Helper()
	av, err := dynamo.MarshalMap(codeItem{
		PhonePurpose: partitionKey(rec.Phone, rec.Purpose),
		CreatedID:    sortKey(rec.CreatedAt, rec.ID),
		ID:           rec.ID,
		Phone:        rec.Phone,
		Purpose:      string(rec.Purpose),
		CodeMAC:      rec.CodeMAC,
		CreatedAt:    rec.CreatedAt.Format(time.RFC3339Nano),
		ExpiresAt:    rec.ExpiresAt.Format(time.RFC3339Nano),
		Attempts:     rec.Attempts,
		Consumed:     rec.Consumed,
	})
	require.NoError(t, err)
	return av
}

func TestCodeStore_Insert(t *testing.T) {
	t.Run("writes keys, fields and retention ttl", func(t *testing.T) {
		rec := sampleCode()
		db := &stubCodesDynamo{
			putItemFn: func(_ context.Context, params *dynamo.PutItemInput, _ ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
				assert.Equal(t, testCodesTable, *params.TableName)

				var item codeItem
				require.NoError(t, dynamo.UnmarshalMap(params.Item, &item))
				assert.Equal(t, "9647701234567#signup", item.PhonePurpose)
				assert.Equal(t, "2026-02-10T12:00:00.123456789Z#c-1", item.CreatedID)
				assert.Equal(t, "mac", item.CodeMAC)
				assert.False(t, item.Consumed)
				assert.Equal(t, rec.ExpiresAt.Add(domain.OTPRetentionAfterTTL).Unix(), item.TTL)
				return &dynamo.PutItemOutput{}, nil
			},
		}

		require.NoError(t, NewCodeStore(db, testCodesTable).Insert(context.Background(), rec))
	})

	t.Run("dynamo error is wrapped", func(t *testing.T) {
		db := &stubCodesDynamo{
			putItemFn: func(context.Context, *dynamo.PutItemInput, ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
				return nil, errors.New("throughput exceeded")
			},
		}

		err := NewCodeStore(db, testCodesTable).Insert(context.Background(), sampleCode())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "throughput exceeded")
	})
}

func TestCodeStore_LatestUnconsumed(t *testing.T) {
	t.Run("descending query returns first unconsumed item", func(t *testing.T) {
		rec := sampleCode()
		db := &stubCodesDynamo{
			queryFn: func(_ context.Context, params *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				assert.False(t, *params.ScanIndexForward)
				assert.True(t, *params.ConsistentRead)
				assert.NotNil(t, params.FilterExpression)
				assert.Contains(t, params.ExpressionAttributeValues, ":0")
				return &dynamo.QueryOutput{Items: []map[string]dynamo.AttributeValue{marshalCode(t, rec)}}, nil
			},
		}

		got, err := NewCodeStore(db, testCodesTable).LatestUnconsumed(context.Background(), rec.Phone, rec.Purpose)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.Phone, got.Phone)
		assert.Equal(t, rec.Purpose, got.Purpose)
		assert.Equal(t, rec.CodeMAC, got.CodeMAC)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
		assert.Zero(t, got.Attempts)
		assert.False(t, got.Consumed)
	})

	t.Run("follows pagination past filtered-out pages", func(t *testing.T) {
		rec := sampleCode()
		calls := 0
		db := &stubCodesDynamo{
			queryFn: func(_ context.Context, params *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				calls++
				if calls == 1 {
					assert.Nil(t, params.ExclusiveStartKey)
					return &dynamo.QueryOutput{
						LastEvaluatedKey: map[string]dynamo.AttributeValue{
							"phone_purpose": &dynamo.AttributeValueMemberS{Value: "x"},
						},
					}, nil
				}
				assert.NotNil(t, params.ExclusiveStartKey)
				return &dynamo.QueryOutput{Items: []map[string]dynamo.AttributeValue{marshalCode(t, rec)}}, nil
			},
		}

		got, err := NewCodeStore(db, testCodesTable).LatestUnconsumed(context.Background(), rec.Phone, rec.Purpose)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, 2, calls)
	})

	t.Run("no items: ErrNotFound", func(t *testing.T) {
		db := &stubCodesDynamo{
			queryFn: func(context.Context, *dynamo.QueryInput, ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return &dynamo.QueryOutput{}, nil
			},
		}

		_, err := NewCodeStore(db, testCodesTable).LatestUnconsumed(context.Background(), "9647701234567", domain.PurposeSignup)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCodeStore_RecordAttempt(t *testing.T) {
	t.Run("conditional update on the record key", func(t *testing.T) {
		rec := sampleCode()
		db := &stubCodesDynamo{
			updateItemFn: func(_ context.Context, params *dynamo.UpdateItemInput, _ ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
				assert.Equal(t, &dynamo.AttributeValueMemberS{Value: "9647701234567#signup"}, params.Key["phone_purpose"])
				assert.Equal(t, &dynamo.AttributeValueMemberS{Value: sortKey(rec.CreatedAt, rec.ID)}, params.Key["created_id"])
				require.NotNil(t, params.UpdateExpression)
				require.NotNil(t, params.ConditionExpression)
				assert.Contains(t, *params.UpdateExpression, "SET")
				return &dynamo.UpdateItemOutput{}, nil
			},
		}

		require.NoError(t, NewCodeStore(db, testCodesTable).RecordAttempt(context.Background(), rec, true, 5))
	})

	t.Run("lost race: ErrOTPNotFound", func(t *testing.T) {
		db := &stubCodesDynamo{
			updateItemFn: func(context.Context, *dynamo.UpdateItemInput, ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
				return nil, dynamotest.ConditionalCheckFailed()
			},
		}

		err := NewCodeStore(db, testCodesTable).RecordAttempt(context.Background(), sampleCode(), false, 5)
		assert.ErrorIs(t, err, domain.ErrOTPNotFound)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		db := &stubCodesDynamo{
			updateItemFn: func(context.Context, *dynamo.UpdateItemInput, ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
				return nil, errors.New("network")
			},
		}

		err := NewCodeStore(db, testCodesTable).RecordAttempt(context.Background(), sampleCode(), false, 5)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrOTPNotFound)
	})
}
