package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/post-composer/internal/metrics"
)

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates no API key was found.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the key is malformed, invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates the API could not be reached or failed
	// server-side.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the key is rate limited.
	ErrTypeQuotaExceeded
	// ErrTypeUnknown covers everything else.
	ErrTypeUnknown
)

func (t ValidationErrorType) String() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	}
	return "unknown"
}

// ValidationError is a key validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ValidateAPIKey makes one minimal generation call against model. It returns
// nil when the key works and a *ValidationError otherwise.
func ValidateAPIKey(ctx context.Context, client *genai.Client, model string) error {
	if client == nil {
		return &ValidationError{Type: ErrTypeNoKey, Message: "no Gemini client configured"}
	}
	log.Debug().Str("model", model).Msg("Validating Gemini API key")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	var verr *ValidationError
	switch {
	case err != nil:
		verr = classifyError(err)
	case resp == nil || len(resp.Candidates) == 0:
		verr = &ValidationError{Type: ErrTypeUnknown, Message: "Gemini returned an empty response"}
	}

	result := "success"
	if verr != nil {
		result = verr.Type.String()
	}
	metrics.New("validate_key").
		Dimension("Result", result).
		Metric("KeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("KeyValidations").
		Flush()

	if verr != nil {
		log.Error().Err(verr).Str("result", result).Dur("elapsed", elapsed).Msg("API key validation failed")
		return verr
	}
	log.Info().Str("model", model).Dur("elapsed", elapsed).Msg("API key validated")
	return nil
}

// messagePatterns maps substrings of transport errors to a failure type.
// Order matters: the first match wins.
var messagePatterns = []struct {
	typ      ValidationErrorType
	message  string
	patterns []string
}{
	{ErrTypeInvalidKey, "API key is invalid or has been revoked",
		[]string{"api key not valid", "invalid api key", "api_key_invalid", "permission denied"}},
	{ErrTypeQuotaExceeded, "API quota exceeded or rate limited",
		[]string{"quota", "resource exhausted", "rate limit"}},
	{ErrTypeNetworkError, "network error reaching the Gemini API",
		[]string{"connection", "network", "timeout", "dial", "no such host", "unreachable"}},
}

func classifyError(err error) *ValidationError {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	lower := strings.ToLower(err.Error())
	for _, mp := range messagePatterns {
		for _, p := range mp.patterns {
			if strings.Contains(lower, p) {
				return &ValidationError{Type: mp.typ, Message: mp.message, Err: err}
			}
		}
	}
	return &ValidationError{Type: ErrTypeUnknown, Message: "failed to validate API key", Err: err}
}

func classifyAPIError(err *genai.APIError) *ValidationError {
	switch err.Code {
	case 400:
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "bad request, API key may be malformed", Err: err}
	case 401, 403:
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "API key is invalid, expired or lacks permissions", Err: err}
	case 429:
		return &ValidationError{Type: ErrTypeQuotaExceeded, Message: "API rate limit exceeded", Err: err}
	case 500, 502, 503, 504:
		return &ValidationError{Type: ErrTypeNetworkError, Message: "Gemini API server error", Err: err}
	}
	return &ValidationError{Type: ErrTypeUnknown, Message: err.Message, Err: err}
}
