// Package auth resolves provider API keys for local runs and checks that a
// Gemini key actually works before a batch of scoring calls depends on it.
package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Environment variables holding provider keys.
const (
	GeminiKeyEnv   = "GEMINI_API_KEY"
	SerperKeyEnv   = "SERPER_API_KEY"
	RapidAPIKeyEnv = "RAPIDAPI_KEY"
)

const (
	credentialDir  = ".post-composer"
	passphraseFile = ".gpg-passphrase"
)

// ErrKeyNotFound is returned when no source holds the requested key.
var ErrKeyNotFound = errors.New("api key not found")

// GetAPIKey returns the key stored in envVar. When the variable is unset it
// falls back to ~/.post-composer/<envVar lowercased>.gpg decrypted with gpg.
func GetAPIKey(envVar string) (string, error) {
	if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
		log.Debug().Str("source", "env").Str("var", envVar).Msg("API key resolved")
		return key, nil
	}

	key, err := fromGPG(envVar)
	if err == nil && key != "" {
		log.Debug().Str("source", "gpg").Str("var", envVar).Msg("API key resolved")
		return key, nil
	}

	log.Debug().Err(err).Str("var", envVar).Msg("No API key source available")
	return "", fmt.Errorf("%w: set %s or store it in %s", ErrKeyNotFound, envVar, credentialHint(envVar))
}

func fromGPG(envVar string) (string, error) {
	credPath, err := credentialPath(envVar)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(credPath); err != nil {
		return "", fmt.Errorf("credential file %s: %w", credPath, err)
	}

	args := []string{"--decrypt", "--quiet"}
	if pass, ok := passphrasePath(); ok {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", pass)
	}
	args = append(args, credPath)

	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("gpg decrypt %s: %s", credPath, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gpg decrypt %s: %w", credPath, err)
	}
	return strings.TrimSpace(string(output)), nil
}

func credentialPath(envVar string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, strings.ToLower(envVar)+".gpg"), nil
}

func credentialHint(envVar string) string {
	return filepath.Join("~", credentialDir, strings.ToLower(envVar)+".gpg")
}

// passphrasePath finds a passphrase file next to the executable or in the
// working directory. Files readable by group or others are ignored.
func passphrasePath() (string, bool) {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}

	for _, dir := range dirs {
		path := filepath.Join(dir, passphraseFile)
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if mode := fi.Mode().Perm(); mode&0o077 != 0 {
			log.Warn().
				Str("passphrase_file", path).
				Str("permissions", fmt.Sprintf("%04o", mode)).
				Msg("Passphrase file has insecure permissions, skipping")
			continue
		}
		return path, true
	}
	return "", false
}
