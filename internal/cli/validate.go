package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/post-composer/internal/assets"
	"github.com/fpang/post-composer/internal/auth"
	"github.com/fpang/post-composer/internal/pipeline"
	"github.com/fpang/post-composer/internal/render"
)

// ValidateAndResolveFile checks that path exists and is a regular file, then
// returns its absolute path. Exits fatally on failure.
func ValidateAndResolveFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Fatal().Str("path", path).Msg("File not found")
		}
		log.Fatal().Err(err).Str("path", path).Msg("Failed to access file")
	}
	if info.IsDir() {
		log.Fatal().Str("path", path).Msg("Path is a directory")
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}

// postFile is the on-disk form of a post. MarkupFile, relative to the post
// file, replaces an inline template markup.
type postFile struct {
	pipeline.Post
	MarkupFile string `json:"markup_file,omitempty"`
}

// LoadPost reads a JSON post definition: template, fields, edits and
// background slot.
func LoadPost(path string) (pipeline.Post, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Post{}, fmt.Errorf("read post file: %w", err)
	}
	pf, err := parsePost(data, path)
	if err != nil {
		return pipeline.Post{}, err
	}

	if pf.MarkupFile != "" {
		markupPath := pf.MarkupFile
		if !filepath.IsAbs(markupPath) {
			markupPath = filepath.Join(filepath.Dir(path), markupPath)
		}
		markup, err := os.ReadFile(markupPath)
		if err != nil {
			return pipeline.Post{}, fmt.Errorf("read markup file: %w", err)
		}
		pf.Template.Markup = string(markup)
	}
	if pf.Template.Name == "" {
		pf.Template.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return pf.Post, nil
}

// LoadBuiltinPost loads one of the embedded post templates.
func LoadBuiltinPost(name string) (pipeline.Post, error) {
	def, markup, err := assets.PostTemplate(name)
	if err != nil {
		return pipeline.Post{}, err
	}
	pf, err := parsePost(def, name)
	if err != nil {
		return pipeline.Post{}, err
	}
	pf.Template.Markup = markup
	if pf.Template.Name == "" {
		pf.Template.Name = name
	}
	return pf.Post, nil
}

func parsePost(data []byte, source string) (*postFile, error) {
	var pf postFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse post %s: %w", source, err)
	}
	if pf.Fields == nil {
		pf.Fields = render.FieldSet{}
	}
	return &pf, nil
}

// ApplyFieldFlags sets fields from name=value pairs. The value is read
// according to the slot's kind; names without a slot become rich text.
func ApplyFieldFlags(post *pipeline.Post, pairs []string) error {
	if post.Fields == nil {
		post.Fields = render.FieldSet{}
	}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return fmt.Errorf("field %q is not name=value", pair)
		}

		switch post.Template.Slots[name].Kind {
		case render.KindFlag:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			post.Fields[name] = render.Flag(b)
		case render.KindChoice:
			post.Fields[name] = render.Choice(value)
		case render.KindText:
			post.Fields[name] = render.Text(value)
		default:
			post.Fields[name] = render.RichText(value)
		}
	}
	return nil
}

// HandleValidationError logs an auth.ValidationError with advice for its
// type and exits.
func HandleValidationError(err error) {
	var validationErr *auth.ValidationError
	if !errors.As(err, &validationErr) {
		log.Fatal().Err(err).Msg("Unexpected error during API key validation")
	}
	switch validationErr.Type {
	case auth.ErrTypeNoKey:
		log.Fatal().Err(err).Msg("No API key configured. Set GEMINI_API_KEY or store it in ~/.post-composer/gemini_api_key.gpg")
	case auth.ErrTypeInvalidKey:
		log.Fatal().Err(err).Msg("Invalid API key. Check the key and try again")
	case auth.ErrTypeNetworkError:
		log.Fatal().Err(err).Msg("Network error. Check your internet connection")
	case auth.ErrTypeQuotaExceeded:
		log.Fatal().Err(err).Msg("API quota exceeded. Try again later or check your usage limits")
	default:
		log.Fatal().Err(err).Msg("API key validation failed")
	}
	os.Exit(1)
}
