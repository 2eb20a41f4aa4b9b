package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"golang.org/x/time/rate"
)

const (
	ddbKeyAttribute  = "userid"
	ddbDataAttribute = "data"
)

// DynamoDBStore implements Store on a DynamoDB table whose hash key is the
// string attribute "userid". Payloads go in the binary attribute "data".
// Single-item writes are atomic in DynamoDB, so there's no locking here.
type DynamoDBStore struct {
	table string
	ddb   *dynamodb.DynamoDB

	// Do throttling on our side based on configured RCUs/WCUs so the
	// client doesn't have to retry.
	getLimiter *rate.Limiter
	putLimiter *rate.Limiter
}

func NewDynamoDBStore(table string, opts ...Option) (*DynamoDBStore, error) {
	sess, err := newAWSSession(opts)
	if err != nil {
		return nil, err
	}
	s := &DynamoDBStore{
		table: table,
		ddb:   dynamodb.New(sess),
	}
	if err := s.configureLimiters(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DynamoDBStore) configureLimiters() error {
	result, err := s.ddb.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err != nil {
		return fmt.Errorf("could not describe table %q: %w", s.table, err)
	}
	var rcus, wcus int64
	if pt := result.Table.ProvisionedThroughput; pt != nil {
		rcus = aws.Int64Value(pt.ReadCapacityUnits)
		wcus = aws.Int64Value(pt.WriteCapacityUnits)
	}
	s.getLimiter = capacityLimiter(rcus)
	s.putLimiter = capacityLimiter(wcus)
	return nil
}

// capacityLimiter assumes items are <= 1 kB, so that capacity units
// translate to requests per second. Payloads are capped at 8 kB, so this is
// optimistic for large ones. On-demand tables report zero capacity and are
// not throttled.
func capacityLimiter(units int64) *rate.Limiter {
	if units <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Second/time.Duration(units)), 1)
}

func (s *DynamoDBStore) key(userID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		ddbKeyAttribute: {S: aws.String(userID)},
	}
}

func (s *DynamoDBStore) Get(ctx context.Context, userID string) ([]byte, error) {
	if err := s.getLimiter.Wait(ctx); err != nil {
		return nil, unavailable("get", userID, err)
	}
	output, err := s.ddb.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get", userID, err)
	}
	if output.Item == nil {
		return nil, notFound(userID)
	}
	data, ok := output.Item[ddbDataAttribute]
	if !ok {
		return nil, unavailable("get", userID, fmt.Errorf("item has no %q attribute", ddbDataAttribute))
	}
	return dup(data.B), nil
}

func (s *DynamoDBStore) Set(ctx context.Context, userID string, payload []byte) error {
	if err := s.putLimiter.Wait(ctx); err != nil {
		return unavailable("set", userID, err)
	}
	item := s.key(userID)
	item[ddbDataAttribute] = &dynamodb.AttributeValue{B: dup(payload)}
	_, err := s.ddb.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return unavailable("set", userID, err)
	}
	return nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, userID string) error {
	if err := s.putLimiter.Wait(ctx); err != nil {
		return unavailable("delete", userID, err)
	}
	_, err := s.ddb.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(userID),
		ConditionExpression: aws.String("attribute_exists(" + ddbKeyAttribute + ")"),
	})
	if err != nil {
		if e, ok := err.(awserr.Error); ok {
			if e.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
				return notFound(userID)
			}
		}
		return unavailable("delete", userID, err)
	}
	return nil
}

func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.ddb.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err != nil {
		return fmt.Errorf("%q: %w: %w", s.table, ErrUnavailable, err)
	}
	return nil
}
