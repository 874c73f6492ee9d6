// Package main is the Lambda entry point for post composition.
//
// A "run" event sources a background for a query and composes the post onto
// it; a "compose" event composes onto media already uploaded to the payload
// bucket. The composed file is written to the payload bucket, recorded in
// DynamoDB when a table is configured, and returned as a presigned URL.
//
// Container: includes headless Chrome and ffmpeg.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/post-composer/internal/compositor"
	"github.com/fpang/post-composer/internal/config"
	"github.com/fpang/post-composer/internal/lambdaboot"
	"github.com/fpang/post-composer/internal/logging"
	"github.com/fpang/post-composer/internal/pipeline"
	"github.com/fpang/post-composer/internal/render"
	"github.com/fpang/post-composer/internal/s3util"
	"github.com/fpang/post-composer/internal/scoring"
	"github.com/fpang/post-composer/internal/selection"
	"github.com/fpang/post-composer/internal/store"
)

// commitHash is set at build time with -ldflags.
var commitHash = "dev"

const presignExpiry = time.Hour

// Initialized at cold start.
var (
	composer  *pipeline.Pipeline
	s3Clients lambdaboot.S3Clients
	results   store.ResultStore
	maxMedia  int64
)

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	aws := lambdaboot.InitAWS()
	ctx := context.Background()
	lambdaboot.LoadSecret(ctx, aws.SSM, "GEMINI_API_KEY", "SSM_API_KEY_PARAM", "gemini-api-key", true)
	switch cfg.Search.Provider {
	case "serper":
		lambdaboot.LoadSecret(ctx, aws.SSM, "SERPER_API_KEY", "SSM_SERPER_KEY_PARAM", "serper-api-key", true)
		cfg.Search.SerperAPIKey = os.Getenv("SERPER_API_KEY")
	case "social":
		lambdaboot.LoadSecret(ctx, aws.SSM, "RAPIDAPI_KEY", "SSM_RAPIDAPI_KEY_PARAM", "rapidapi-key", true)
		cfg.Search.RapidAPIKey = os.Getenv("RAPIDAPI_KEY")
	}

	s3Clients = lambdaboot.InitS3(aws.Config, cfg.Store.PayloadBucket)
	if cfg.Store.DynamoTable != "" {
		results = lambdaboot.InitDynamo(aws.Config, cfg.Store.DynamoTable, s3Clients, cfg.Store.TTL)
	}
	maxMedia = cfg.Search.MaxItemBytes

	client, err := scoring.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	classifier := scoring.NewGeminiClassifier(client, cfg.Scoring.Model)

	// The handler uploads payloads and records results itself.
	composer, err = pipeline.FromConfig(cfg, pipeline.Deps{Classifier: classifier})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build pipeline")
	}

	lambdaboot.StartupLog("compose-lambda", initStart).
		CommitHash(commitHash).
		Provider("search", cfg.Search.Provider).
		Engine("render", "chromedp").
		Store("payloads", "s3://"+s3Clients.Bucket).
		Store("results", cfg.Store.DynamoTable).
		Feature("result_records", results != nil).
		Config("model", classifier.Model()).
		Config("threshold", fmt.Sprintf("%.2f", cfg.Scoring.Threshold)).
		Log()
}

// ComposeEvent is the Lambda input.
type ComposeEvent struct {
	// Action is "run" (default) or "compose".
	Action        string        `json:"action"`
	Query         string        `json:"query,omitempty"`
	Subject       string        `json:"subject,omitempty"`
	MaxCandidates int           `json:"max_candidates,omitempty"`
	MediaKey      string        `json:"media_key,omitempty"`
	ContentType   string        `json:"content_type,omitempty"`
	Post          pipeline.Post `json:"post"`
}

// ComposeResponse is the Lambda output.
type ComposeResponse struct {
	SessionID    string  `json:"session_id"`
	PayloadKey   string  `json:"payload_key"`
	URL          string  `json:"url"`
	ContentType  string  `json:"content_type"`
	Candidates   int     `json:"candidates,omitempty"`
	Position     int     `json:"position,omitempty"`
	Score        float64 `json:"score,omitempty"`
	Fallback     bool    `json:"fallback,omitempty"`
	SourceURL    string  `json:"source_url,omitempty"`
	CitationLink string  `json:"citation_link,omitempty"`
}

func handler(ctx context.Context, event ComposeEvent) (*ComposeResponse, error) {
	logger := log.With().Str("action", event.Action).Str("query", event.Query).Logger()

	var (
		res *pipeline.Result
		err error
	)
	switch event.Action {
	case "", "run":
		if event.Query == "" {
			return nil, fmt.Errorf("query is required")
		}
		res, err = composer.Run(ctx, pipeline.Request{
			Query:         event.Query,
			Subject:       event.Subject,
			MaxCandidates: event.MaxCandidates,
			Post:          event.Post,
		})
	case "compose":
		if event.MediaKey == "" || event.ContentType == "" {
			return nil, fmt.Errorf("media_key and content_type are required")
		}
		var media []byte
		media, err = s3util.DownloadBytes(ctx, s3Clients.Client, s3Clients.Bucket, event.MediaKey, maxMedia)
		if err != nil {
			return nil, err
		}
		res, err = composer.Compose(ctx, pipeline.ComposeRequest{Media: media, ContentType: event.ContentType, Post: event.Post})
	default:
		return nil, fmt.Errorf("unknown action %q", event.Action)
	}
	if err != nil {
		logger.Error().Err(err).Str("kind", errorKind(err)).Msg("Composition failed")
		return nil, err
	}

	key := s3util.PayloadKey(res.SessionID, res.ContentType)
	if err := s3util.UploadBytes(ctx, s3Clients.Client, s3Clients.Bucket, key, res.ContentType, res.Output); err != nil {
		return nil, err
	}
	if results != nil {
		rec := pipeline.NewRecord(event.Query, event.Post.Template.Name, res)
		rec.Payload = nil
		rec.PayloadKey = key
		if err := results.Put(ctx, rec); err != nil {
			logger.Warn().Err(err).Str("session_id", res.SessionID).Msg("Failed to record result")
		}
	}

	url, err := s3util.GeneratePresignedURL(ctx, s3Clients.Presigner, s3Clients.Bucket, key, presignExpiry)
	if err != nil {
		return nil, err
	}

	resp := &ComposeResponse{
		SessionID:   res.SessionID,
		PayloadKey:  key,
		URL:         url,
		ContentType: res.ContentType,
		Candidates:  res.Candidates,
	}
	if c := res.Chosen; c != nil {
		resp.Position = c.Position
		resp.Score = c.Candidate.Score
		resp.Fallback = c.Fallback
		resp.SourceURL = c.Candidate.SourceURL
		resp.CitationLink = c.Candidate.CitationLink
	}
	logger.Info().Str("session_id", res.SessionID).Str("payload_key", key).Msg("Post composed")
	return resp, nil
}

// errorKind labels a failure for logs.
func errorKind(err error) string {
	var (
		rerr *render.RenderError
		cerr *compositor.CompositeError
	)
	switch {
	case errors.Is(err, selection.ErrSelectionEmpty):
		return "selection_empty"
	case errors.As(err, &rerr):
		return "render_" + rerr.Kind.String()
	case errors.As(err, &cerr):
		return "composite_" + cerr.Kind.String()
	}
	return "other"
}

func main() {
	lambda.Start(handler)
}
