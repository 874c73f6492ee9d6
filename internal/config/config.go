// Package config loads composer settings from an optional .env file and the
// process environment. Every setting has a default so a bare environment
// yields a working local configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the full composer configuration.
type Config struct {
	Search  SearchConfig
	Scoring ScoringConfig
	Render  RenderConfig
	Video   VideoConfig
	Scratch ScratchConfig
	Store   StoreConfig

	// MediaConcurrency bounds concurrent render/encode work per process.
	MediaConcurrency int
}

// SearchConfig configures candidate sourcing.
type SearchConfig struct {
	Provider      string // serper, social, feed
	SerperAPIKey  string
	SerperURL     string
	RapidAPIKey   string
	RapidAPIHost  string
	// SocialMaxAge drops social posts older than this; 0 keeps all.
	SocialMaxAge  time.Duration
	FeedURLs      []string
	Region        string
	PageSize      int
	MaxPages      int
	ItemTimeout   time.Duration
	MaxItemBytes  int64
	Concurrency   int
	RequestsPerS  float64
	CacheTTL      time.Duration
	MediaFamilies []string
}

// ScoringConfig configures classifier calls and the fallback scores used when
// a call cannot produce a usable score.
type ScoringConfig struct {
	GeminiAPIKey string
	Model        string
	CallTimeout  time.Duration
	MaxParallel  int
	Threshold    float64

	DefaultCallFailed   float64
	DefaultScoreMissing float64
	DefaultUnparseable  float64
}

// RenderConfig configures the headless browser.
type RenderConfig struct {
	ChromePath     string
	ViewportWidth  int
	ViewportHeight int
	SettleDelay    time.Duration
	Timeout        time.Duration
}

// VideoConfig is the encode policy and default output geometry.
type VideoConfig struct {
	Width         int
	Height        int
	FPS           int
	VideoBitrate  string
	AudioBitrate  string
	Preset        string
	GradientRatio float64
	Timeout       time.Duration
}

// ScratchConfig locates session scratch space.
type ScratchConfig struct {
	BaseDir   string
	Whitelist []string
}

// StoreConfig selects and locates the result store.
type StoreConfig struct {
	Backend       string // none, dynamo, redis
	DynamoTable   string
	PayloadBucket string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := &Config{
		Search: SearchConfig{
			Provider:      getEnv("SEARCH_PROVIDER", "serper"),
			SerperAPIKey:  getEnv("SERPER_API_KEY", ""),
			SerperURL:     getEnv("SERPER_URL", "https://google.serper.dev"),
			RapidAPIKey:   getEnv("RAPIDAPI_KEY", ""),
			RapidAPIHost:  getEnv("RAPIDAPI_HOST", "media-api4.p.rapidapi.com"),
			SocialMaxAge:  getEnvAsDuration("SOCIAL_MAX_AGE", 0),
			FeedURLs:      getEnvAsList("FEED_URLS", nil),
			Region:        getEnv("SEARCH_REGION", "in"),
			PageSize:      getEnvAsInt("SEARCH_PAGE_SIZE", 20),
			MaxPages:      getEnvAsInt("SEARCH_MAX_PAGES", 3),
			ItemTimeout:   getEnvAsDuration("FETCH_ITEM_TIMEOUT", 10*time.Second),
			MaxItemBytes:  int64(getEnvAsInt("FETCH_MAX_BYTES", 25<<20)),
			Concurrency:   getEnvAsInt("FETCH_CONCURRENCY", 8),
			RequestsPerS:  getEnvAsFloat("SEARCH_RPS", 2),
			CacheTTL:      getEnvAsDuration("SEARCH_CACHE_TTL", 30*time.Minute),
			MediaFamilies: getEnvAsList("FETCH_MEDIA_FAMILIES", []string{"image/"}),
		},
		Scoring: ScoringConfig{
			GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
			Model:               getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			CallTimeout:         getEnvAsDuration("SCORE_CALL_TIMEOUT", 30*time.Second),
			MaxParallel:         getEnvAsInt("SCORE_MAX_PARALLEL", 0),
			Threshold:           getEnvAsFloat("SCORE_THRESHOLD", 0.6),
			DefaultCallFailed:   getEnvAsFloat("SCORE_DEFAULT_CALL_FAILED", 0.5),
			DefaultScoreMissing: getEnvAsFloat("SCORE_DEFAULT_SCORE_MISSING", 0.1),
			DefaultUnparseable:  getEnvAsFloat("SCORE_DEFAULT_UNPARSEABLE", 0.0),
		},
		Render: RenderConfig{
			ChromePath:     getEnv("CHROME_PATH", ""),
			ViewportWidth:  getEnvAsInt("RENDER_VIEWPORT_WIDTH", 1080),
			ViewportHeight: getEnvAsInt("RENDER_VIEWPORT_HEIGHT", 1350),
			SettleDelay:    getEnvAsDuration("RENDER_SETTLE_DELAY", 500*time.Millisecond),
			Timeout:        getEnvAsDuration("RENDER_TIMEOUT", 60*time.Second),
		},
		Video: VideoConfig{
			Width:         getEnvAsInt("VIDEO_WIDTH", 576),
			Height:        getEnvAsInt("VIDEO_HEIGHT", 720),
			FPS:           getEnvAsInt("VIDEO_FPS", 15),
			VideoBitrate:  getEnv("VIDEO_BITRATE", "1500k"),
			AudioBitrate:  getEnv("AUDIO_BITRATE", "128k"),
			Preset:        getEnv("VIDEO_PRESET", "ultrafast"),
			GradientRatio: getEnvAsFloat("VIDEO_GRADIENT_RATIO", 0.35),
			Timeout:       getEnvAsDuration("VIDEO_TIMEOUT", 5*time.Minute),
		},
		Scratch: ScratchConfig{
			BaseDir:   getEnv("SCRATCH_DIR", os.TempDir()),
			Whitelist: getEnvAsList("SCRATCH_WHITELIST", []string{"logo.png"}),
		},
		Store: StoreConfig{
			Backend:       getEnv("STORE_BACKEND", "none"),
			DynamoTable:   getEnv("DYNAMO_TABLE_NAME", ""),
			PayloadBucket: getEnv("PAYLOAD_BUCKET", ""),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			TTL:           getEnvAsDuration("STORE_TTL", 7*24*time.Hour),
		},
		MediaConcurrency: getEnvAsInt("MEDIA_CONCURRENCY", 2),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"SCORE_THRESHOLD":             c.Scoring.Threshold,
		"SCORE_DEFAULT_CALL_FAILED":   c.Scoring.DefaultCallFailed,
		"SCORE_DEFAULT_SCORE_MISSING": c.Scoring.DefaultScoreMissing,
		"SCORE_DEFAULT_UNPARSEABLE":   c.Scoring.DefaultUnparseable,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 || c.Video.Width%2 != 0 || c.Video.Height%2 != 0 {
		return fmt.Errorf("video size must be positive and even, got %dx%d", c.Video.Width, c.Video.Height)
	}
	if c.Video.GradientRatio <= 0 || c.Video.GradientRatio > 1 {
		return fmt.Errorf("VIDEO_GRADIENT_RATIO must be within (0,1], got %v", c.Video.GradientRatio)
	}
	if c.Search.PageSize <= 0 {
		return fmt.Errorf("SEARCH_PAGE_SIZE must be positive")
	}
	if c.MediaConcurrency <= 0 {
		return fmt.Errorf("MEDIA_CONCURRENCY must be positive")
	}

	switch c.Search.Provider {
	case "serper", "social", "feed":
	default:
		return fmt.Errorf("unknown SEARCH_PROVIDER %q", c.Search.Provider)
	}

	switch c.Store.Backend {
	case "none", "redis":
	case "dynamo":
		if c.Store.DynamoTable == "" || c.Store.PayloadBucket == "" {
			return fmt.Errorf("dynamo store requires DYNAMO_TABLE_NAME and PAYLOAD_BUCKET")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid integer, using default")
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid number, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid duration, using default")
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
