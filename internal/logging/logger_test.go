package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestUseJSON(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	t.Setenv("LOG_FORMAT", "")
	if useJSON() {
		t.Error("useJSON() = true outside Lambda, want false")
	}

	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "compose-lambda")
	if !useJSON() {
		t.Error("useJSON() = false under Lambda, want true")
	}

	t.Setenv("LOG_FORMAT", "console")
	if useJSON() {
		t.Error("useJSON() = true with LOG_FORMAT=console, want false")
	}
}
