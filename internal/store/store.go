// Package store persists composed results keyed by session id so a post can
// be reopened after the process that built it has gone away.
//
// Two backends share the ResultStore contract: DynamoDB for metadata with
// payload bytes in S3, and Redis with zstd-compressed payloads. Both expire
// records after a configurable TTL.
package store

import (
	"context"
	"time"
)

// DefaultTTL is how long results are kept when no TTL is configured.
const DefaultTTL = 7 * 24 * time.Hour

// Record is one composed result.
type Record struct {
	SessionID    string    `json:"session_id" dynamodbav:"sessionId"`
	Query        string    `json:"query,omitempty" dynamodbav:"query,omitempty"`
	TemplateName string    `json:"template_name" dynamodbav:"templateName"`
	SourceURL    string    `json:"source_url,omitempty" dynamodbav:"sourceUrl,omitempty"`
	SourceSite   string    `json:"source_site,omitempty" dynamodbav:"sourceSite,omitempty"`
	CitationLink string    `json:"citation_link,omitempty" dynamodbav:"citationLink,omitempty"`
	ContentType  string    `json:"content_type" dynamodbav:"contentType"`
	Score        float64   `json:"score" dynamodbav:"score"`
	Fallback     bool      `json:"fallback,omitempty" dynamodbav:"fallback,omitempty"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"createdAt"`

	// PayloadKey locates the payload in object storage, when it lives there.
	PayloadKey string `json:"payload_key,omitempty" dynamodbav:"payloadKey,omitempty"`
	Payload    []byte `json:"-" dynamodbav:"-"`
}

// ResultStore persists records. Get returns (nil, nil) when no record exists.
// Put performs full replacement.
type ResultStore interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, sessionID string) (*Record, error)
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
