package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/smallbiznis/donorflow/internal/clock"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

const (
	dynamoKeyAttr     = "counter_key"
	dynamoCountAttr   = "count"
	dynamoExpiresAttr = "expires_at"
	// ttl is in epoch seconds so DynamoDB's native TTL sweeper can reap items.
	dynamoTTLAttr = "ttl"

	dynamoMaxAttempts = 3
)

// DynamoStore keeps one item per window. Expired items are ignored by the
// condition expression long before DynamoDB's TTL reaper deletes them.
type DynamoStore struct {
	client DynamoAPI
	table  string
	clock  clock.Clock
}

func NewDynamoStore(client DynamoAPI, table string, clk clock.Clock) *DynamoStore {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &DynamoStore{client: client, table: table, clock: clk}
}

func (s *DynamoStore) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	if err := validateArgs(key, window); err != nil {
		return Counter{}, err
	}

	for attempt := 0; attempt < dynamoMaxAttempts; attempt++ {
		now := s.clock.Now()
		counter, err := s.incrementLive(ctx, key, window, now)
		if err == nil {
			return counter, nil
		}

		var condErr *types.ConditionalCheckFailedException
		if !errors.As(err, &condErr) {
			return Counter{}, err
		}

		// The stored window has ended; start a new one unless another
		// instance beat us to it.
		counter, err = s.startWindow(ctx, key, window, now)
		if err == nil {
			return counter, nil
		}
		if !errors.As(err, &condErr) {
			return Counter{}, err
		}
	}
	return Counter{}, errors.New("rate window contention: retries exhausted")
}

func (s *DynamoStore) incrementLive(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	nowMs := now.UnixMilli()
	expiresAt := now.Add(window)

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(key),
		UpdateExpression: aws.String(
			"SET #c = if_not_exists(#c, :zero) + :one, #e = if_not_exists(#e, :exp), #t = if_not_exists(#t, :ttl)",
		),
		ConditionExpression: aws.String("attribute_not_exists(#e) OR #e > :now"),
		ExpressionAttributeNames: map[string]string{
			"#c": dynamoCountAttr,
			"#e": dynamoExpiresAttr,
			"#t": dynamoTTLAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": number(0),
			":one":  number(1),
			":exp":  number(expiresAt.UnixMilli()),
			":ttl":  number(expiresAt.Unix() + 1),
			":now":  number(nowMs),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return Counter{}, err
	}
	return decodeCounter(out.Attributes, nowMs)
}

func (s *DynamoStore) startWindow(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	expiresAt := now.Add(window)
	item := s.key(key)
	item[dynamoCountAttr] = number(1)
	item[dynamoExpiresAttr] = number(expiresAt.UnixMilli())
	item[dynamoTTLAttr] = number(expiresAt.Unix() + 1)

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#e) OR #e <= :now"),
		ExpressionAttributeNames: map[string]string{"#e": dynamoExpiresAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": number(now.UnixMilli()),
		},
	})
	if err != nil {
		return Counter{}, err
	}
	return Counter{Count: 1, TTL: window}, nil
}

func (s *DynamoStore) Peek(ctx context.Context, key string) (Counter, error) {
	if key == "" {
		return Counter{}, ErrEmptyKey
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Counter{}, err
	}
	if len(out.Item) == 0 {
		return Counter{}, nil
	}
	nowMs := s.clock.Now().UnixMilli()
	counter, err := decodeCounter(out.Item, nowMs)
	if err != nil {
		return Counter{}, err
	}
	if counter.TTL <= 0 {
		return Counter{}, nil
	}
	return counter, nil
}

func (s *DynamoStore) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(key),
	})
	return err
}

func (s *DynamoStore) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
	}
}

func number(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func readNumber(attrs map[string]types.AttributeValue, name string) (int64, error) {
	raw, ok := attrs[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("rate window attribute " + name + " missing")
	}
	return strconv.ParseInt(raw.Value, 10, 64)
}

func decodeCounter(attrs map[string]types.AttributeValue, nowMs int64) (Counter, error) {
	count, err := readNumber(attrs, dynamoCountAttr)
	if err != nil {
		return Counter{}, err
	}
	expiresAt, err := readNumber(attrs, dynamoExpiresAttr)
	if err != nil {
		return Counter{}, err
	}
	return Counter{Count: count, TTL: remaining(expiresAt, nowMs)}, nil
}
