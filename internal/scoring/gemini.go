package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/post-composer/internal/assets"
	"github.com/fpang/post-composer/internal/metrics"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// GeminiClassifier scores candidates with a Gemini multimodal model.
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini API client for the given key.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

// NewGeminiClassifier wraps a client. An empty model uses DefaultModel.
func NewGeminiClassifier(client *genai.Client, model string) *GeminiClassifier {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClassifier{client: client, model: model}
}

// Model returns the configured model id.
func (g *GeminiClassifier) Model() string { return g.model }

// Classify sends the candidate bytes inline with the post text and returns
// the raw response text.
func (g *GeminiClassifier) Classify(ctx context.Context, req ClassifyRequest) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.ScoreSystemPrompt}},
		},
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
	}

	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mimeType(req.Candidate.ContentType), Data: req.Candidate.Data}},
		{Text: BuildPrompt(req)},
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	elapsed := time.Since(start)

	m := metrics.New("classify").
		Dimension("Model", g.model).
		Metric("GeminiApiLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("GeminiApiCalls")
	if err != nil {
		m.Count("GeminiApiErrors")
	}
	if resp != nil && resp.UsageMetadata != nil {
		m.Metric("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount)
		m.Metric("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}
	m.Flush()

	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("empty response from Gemini API")
	}

	text := resp.Text()
	log.Debug().
		Int("candidate", req.Candidate.Index).
		Int("response_length", len(text)).
		Dur("elapsed", elapsed).
		Msg("Candidate classified")
	return text, nil
}

// BuildPrompt assembles the per-candidate user prompt.
func BuildPrompt(req ClassifyRequest) string {
	return assets.RenderScorePrompt(assets.ScorePromptData{
		Context:  req.Context,
		Kind:     string(req.Candidate.Kind),
		Title:    req.Candidate.Title,
		Source:   req.Candidate.SourceSite,
		Metadata: req.Candidate.Metadata.Describe(),
	})
}

// mimeType strips parameters such as charset from a content type.
func mimeType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
}
