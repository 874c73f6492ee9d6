package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	err   error
}

func itemKey(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value + "|" + key["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

type fakeObjects struct {
	objects map[string][]byte
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestDynamoStore_PutGet(t *testing.T) {
	db := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	objects := &fakeObjects{objects: map[string][]byte{}}
	s := NewDynamoStore(db, "results", objects, "payloads", time.Hour)
	ctx := context.Background()

	rec := &Record{SessionID: "s1", TemplateName: "post", ContentType: "video/mp4", Score: 0.5, Fallback: true, Payload: []byte("mp4")}
	require.NoError(t, s.Put(ctx, rec))
	assert.Equal(t, "results/s1/composed.mp4", rec.PayloadKey)
	assert.Equal(t, []byte("mp4"), objects.objects["results/s1/composed.mp4"])

	item := db.items["RESULT#s1|META"]
	require.NotNil(t, item)
	_, hasPayload := item["Payload"]
	assert.False(t, hasPayload, "payload bytes must not be written to DynamoDB")
	exp, err := strconv.ParseInt(item["expiresAt"].(*types.AttributeValueMemberN).Value, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), exp, 5)

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "post", got.TemplateName)
	assert.True(t, got.Fallback)
	assert.Equal(t, []byte("mp4"), got.Payload)
}

func TestDynamoStore_Missing(t *testing.T) {
	s := NewDynamoStore(&fakeDynamo{items: map[string]map[string]types.AttributeValue{}}, "results", nil, "", 0)
	got, err := s.Get(context.Background(), "none")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDynamoStore_Errors(t *testing.T) {
	boom := errors.New("throttled")
	s := NewDynamoStore(&fakeDynamo{err: boom}, "results", nil, "", 0)

	err := s.Put(context.Background(), &Record{SessionID: "x"})
	assert.ErrorIs(t, err, boom)
	_, err = s.Get(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.Error(t, s.Put(context.Background(), &Record{}))
}
