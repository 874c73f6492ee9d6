package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/genai"
)

func TestGetAPIKeyFromEnv(t *testing.T) {
	t.Setenv(SerperKeyEnv, "  serper-key-123 \n")

	key, err := GetAPIKey(SerperKeyEnv)
	if err != nil {
		t.Fatalf("GetAPIKey() error = %v", err)
	}
	if key != "serper-key-123" {
		t.Errorf("GetAPIKey() = %q", key)
	}
}

func TestGetAPIKeyNoSource(t *testing.T) {
	t.Setenv(GeminiKeyEnv, "")
	t.Setenv("HOME", t.TempDir())

	_, err := GetAPIKey(GeminiKeyEnv)
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("GetAPIKey() error = %v, want ErrKeyNotFound", err)
	}
}

func TestCredentialPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := credentialPath(RapidAPIKeyEnv)
	if err != nil {
		t.Fatalf("credentialPath() error = %v", err)
	}
	if want := filepath.Join(home, ".post-composer", "rapidapi_key.gpg"); path != want {
		t.Errorf("credentialPath() = %q, want %q", path, want)
	}
}

func TestFromGPGFileNotFound(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := fromGPG(GeminiKeyEnv); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("fromGPG() error = %v, want not-exist", err)
	}
}

func TestPassphrasePathSkipsInsecureFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, passphraseFile)
	if err := os.WriteFile(path, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, ok := passphrasePath(); ok && got == path {
		t.Error("world-readable passphrase file should be skipped")
	}

	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}
	got, ok := passphrasePath()
	if !ok {
		t.Fatal("passphrasePath() found nothing")
	}
	if filepath.Base(got) != passphraseFile {
		t.Errorf("passphrasePath() = %q", got)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ValidationErrorType
	}{
		{"api 401", &genai.APIError{Code: 401, Message: "unauthenticated"}, ErrTypeInvalidKey},
		{"api 400", &genai.APIError{Code: 400}, ErrTypeInvalidKey},
		{"api 429", &genai.APIError{Code: 429}, ErrTypeQuotaExceeded},
		{"api 503", &genai.APIError{Code: 503}, ErrTypeNetworkError},
		{"api other", &genai.APIError{Code: 418, Message: "teapot"}, ErrTypeUnknown},
		{"wrapped api", fmt.Errorf("generate: %w", &genai.APIError{Code: 403}), ErrTypeInvalidKey},
		{"message key", errors.New("API key not valid. Please pass a valid API key."), ErrTypeInvalidKey},
		{"message quota", errors.New("RESOURCE EXHAUSTED"), ErrTypeQuotaExceeded},
		{"message dial", errors.New("dial tcp: lookup generativelanguage.googleapis.com: no such host"), ErrTypeNetworkError},
		{"other", errors.New("boom"), ErrTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			if got.Type != tt.want {
				t.Errorf("classifyError() type = %s, want %s", got.Type, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classifyError() should wrap the cause")
			}
		})
	}
}
