package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	resultKeyPrefix  = "composer:result:"  // record JSON: composer:result:{session_id}
	payloadKeyPrefix = "composer:payload:" // zstd payload: composer:payload:{session_id}
)

// RedisStore implements ResultStore in Redis. Payloads are zstd-compressed
// and stored beside the record under the same TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// Compile-time interface check.
var _ ResultStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &RedisStore{client: client, ttl: ttlOrDefault(ttl), enc: enc, dec: dec}, nil
}

func (r *RedisStore) Put(ctx context.Context, rec *Record) error {
	if rec.SessionID == "" {
		return fmt.Errorf("put result: empty session id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, resultKeyPrefix+rec.SessionID, data, r.ttl)
	if len(rec.Payload) > 0 {
		pipe.Set(ctx, payloadKeyPrefix+rec.SessionID, r.enc.EncodeAll(rec.Payload, nil), r.ttl)
	} else {
		pipe.Del(ctx, payloadKeyPrefix+rec.SessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store result %s: %w", rec.SessionID, err)
	}

	log.Debug().
		Str("session_id", rec.SessionID).
		Int("payload_bytes", len(rec.Payload)).
		Msg("Result persisted to Redis")
	return nil
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	pipe := r.client.Pipeline()
	metaCmd := pipe.Get(ctx, resultKeyPrefix+sessionID)
	payloadCmd := pipe.Get(ctx, payloadKeyPrefix+sessionID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get result %s: %w", sessionID, err)
	}

	data, err := metaCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result %s: %w", sessionID, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result %s: %w", sessionID, err)
	}

	compressed, err := payloadCmd.Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, fmt.Errorf("failed to get payload %s: %w", sessionID, err)
	default:
		if rec.Payload, err = r.dec.DecodeAll(compressed, nil); err != nil {
			return nil, fmt.Errorf("failed to decompress payload %s: %w", sessionID, err)
		}
	}
	return &rec, nil
}
