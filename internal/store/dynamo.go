package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/post-composer/internal/s3util"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "RESULT#"
	skMeta   = "META"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore implements ResultStore with record metadata in DynamoDB and
// payload bytes in S3. Items carry an expiresAt TTL attribute.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	objects   s3util.ObjectAPI
	bucket    string
	ttl       time.Duration
}

// Compile-time interface check.
var _ ResultStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore. When objects is nil payloads are not
// persisted.
func NewDynamoStore(client DynamoAPI, tableName string, objects s3util.ObjectAPI, bucket string, ttl time.Duration) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		objects:   objects,
		bucket:    bucket,
		ttl:       ttlOrDefault(ttl),
	}
}

// resultPK returns the partition key for a session.
func resultPK(sessionID string) string {
	return pkPrefix + sessionID
}

// putItem marshals a record and writes it with PK, SK, and TTL.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(s.ttl).Unix(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

func (s *DynamoStore) Put(ctx context.Context, rec *Record) error {
	if rec.SessionID == "" {
		return fmt.Errorf("put result: empty session id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if len(rec.Payload) > 0 && s.objects != nil {
		key := s3util.PayloadKey(rec.SessionID, rec.ContentType)
		if err := s3util.UploadBytes(ctx, s.objects, s.bucket, key, rec.ContentType, rec.Payload); err != nil {
			return fmt.Errorf("put result %s payload: %w", rec.SessionID, err)
		}
		rec.PayloadKey = key
	}

	if err := s.putItem(ctx, resultPK(rec.SessionID), skMeta, rec); err != nil {
		return fmt.Errorf("put result %s: %w", rec.SessionID, err)
	}

	log.Debug().
		Str("session_id", rec.SessionID).
		Str("payload_key", rec.PayloadKey).
		Msg("Result persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	var rec Record
	found, err := s.getItem(ctx, resultPK(sessionID), skMeta, &rec)
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", sessionID, err)
	}
	if !found {
		return nil, nil
	}

	if rec.PayloadKey != "" && s.objects != nil {
		payload, err := s3util.DownloadBytes(ctx, s.objects, s.bucket, rec.PayloadKey, 0)
		if err != nil {
			return nil, fmt.Errorf("get result %s payload: %w", sessionID, err)
		}
		rec.Payload = payload
	}
	return &rec, nil
}
