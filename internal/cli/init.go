package cli

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fpang/post-composer/internal/auth"
	"github.com/fpang/post-composer/internal/scoring"
)

// InitClassifier creates a Gemini classifier for model. An empty apiKey is
// resolved through auth.GetAPIKey. When validate is set the key is checked
// with one minimal call first. Exits fatally on failure.
func InitClassifier(ctx context.Context, apiKey, model string, validate bool) *scoring.GeminiClassifier {
	if apiKey == "" {
		key, err := auth.GetAPIKey(auth.GeminiKeyEnv)
		if err != nil {
			HandleValidationError(&auth.ValidationError{Type: auth.ErrTypeNoKey, Message: "no Gemini API key", Err: err})
		}
		apiKey = key
	}

	client, err := scoring.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	classifier := scoring.NewGeminiClassifier(client, model)
	if validate {
		if err := auth.ValidateAPIKey(ctx, client, classifier.Model()); err != nil {
			HandleValidationError(err)
		}
	}

	log.Debug().Str("model", classifier.Model()).Msg("Gemini classifier ready")
	return classifier
}
