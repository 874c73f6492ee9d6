package pipeline

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fpang/post-composer/internal/asset"
	"github.com/fpang/post-composer/internal/compositor"
	"github.com/fpang/post-composer/internal/config"
	"github.com/fpang/post-composer/internal/render"
	"github.com/fpang/post-composer/internal/scoring"
	"github.com/fpang/post-composer/internal/scratch"
	"github.com/fpang/post-composer/internal/store"
)

// Deps are the collaborators FromConfig cannot build from configuration
// alone. Nil Engine and Media are built from cfg; a nil Classifier leaves
// the pipeline able to Compose but not Run.
type Deps struct {
	Classifier scoring.Classifier
	Engine     render.Engine
	Media      compositor.MediaEngine
	Store      store.ResultStore
}

// FromConfig assembles a Pipeline from cfg. Video support is disabled with a
// warning when no media engine is supplied and ffmpeg is not installed.
func FromConfig(cfg *config.Config, deps Deps) (*Pipeline, error) {
	opts := Options{
		Janitor:          scratch.NewJanitor(cfg.Scratch.BaseDir, cfg.Scratch.Whitelist...),
		Store:            deps.Store,
		Threshold:        cfg.Scoring.Threshold,
		ImageWidth:       cfg.Render.ViewportWidth,
		ImageHeight:      cfg.Render.ViewportHeight,
		MediaConcurrency: cfg.MediaConcurrency,
	}

	if deps.Classifier != nil {
		provider, err := NewProvider(cfg.Search)
		if err != nil {
			return nil, err
		}
		opts.Fetcher = asset.NewFetcher(provider, asset.Options{
			Region:        cfg.Search.Region,
			PageSize:      cfg.Search.PageSize,
			MaxPages:      cfg.Search.MaxPages,
			ItemTimeout:   cfg.Search.ItemTimeout,
			MaxBytes:      cfg.Search.MaxItemBytes,
			Concurrency:   cfg.Search.Concurrency,
			MediaFamilies: cfg.Search.MediaFamilies,
			Limiter:       limiter(cfg.Search.RequestsPerS),
		})
		opts.Scorer = scoring.NewScorer(deps.Classifier, scoring.Options{
			CallTimeout: cfg.Scoring.CallTimeout,
			MaxParallel: cfg.Scoring.MaxParallel,
			Defaults: &scoring.Defaults{
				CallFailed:   cfg.Scoring.DefaultCallFailed,
				ScoreMissing: cfg.Scoring.DefaultScoreMissing,
				Unparseable:  cfg.Scoring.DefaultUnparseable,
			},
		})
	}

	engine := deps.Engine
	if engine == nil {
		engine = render.NewChromeEngine(render.ChromeOptions{
			ExecPath: cfg.Render.ChromePath,
			Width:    cfg.Render.ViewportWidth,
			Height:   cfg.Render.ViewportHeight,
		})
	}
	opts.Renderer = render.NewRenderer(engine, render.Options{
		SettleDelay: cfg.Render.SettleDelay,
		Timeout:     cfg.Render.Timeout,
	})

	media := deps.Media
	if media == nil {
		ff, err := compositor.NewFFmpeg()
		if err != nil {
			log.Warn().Err(err).Msg("Media engine unavailable, video compositing disabled")
		} else {
			media = ff
		}
	}
	if media != nil {
		opts.Video = compositor.NewVideoCompositor(media, VideoPolicy(cfg.Video))
	}

	return New(opts), nil
}

// VideoPolicy converts the video config section into an encode policy.
func VideoPolicy(v config.VideoConfig) compositor.VideoPolicy {
	return compositor.VideoPolicy{
		Width:         v.Width,
		Height:        v.Height,
		FPS:           v.FPS,
		Preset:        v.Preset,
		VideoBitrate:  v.VideoBitrate,
		AudioBitrate:  v.AudioBitrate,
		GradientRatio: v.GradientRatio,
		Timeout:       v.Timeout,
	}
}

// NewProvider builds the configured search provider, wrapped in a result
// cache when a cache TTL is set.
func NewProvider(c config.SearchConfig) (asset.Provider, error) {
	var p asset.Provider
	switch c.Provider {
	case "serper":
		if c.SerperAPIKey == "" {
			return nil, errors.New("serper provider requires SERPER_API_KEY")
		}
		p = asset.NewSerperProvider(c.SerperAPIKey, c.SerperURL)
	case "social":
		if c.RapidAPIKey == "" {
			return nil, errors.New("social provider requires RAPIDAPI_KEY")
		}
		social := asset.NewSocialProvider(c.RapidAPIKey, c.RapidAPIHost)
		social.MaxAge = c.SocialMaxAge
		p = social
	case "feed":
		if len(c.FeedURLs) == 0 {
			return nil, errors.New("feed provider requires FEED_URLS")
		}
		p = asset.NewFeedProvider(c.FeedURLs)
	default:
		return nil, fmt.Errorf("unknown search provider %q", c.Provider)
	}

	if c.CacheTTL > 0 {
		p = asset.NewCachedProvider(p, c.CacheTTL)
	}
	return p, nil
}

func limiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}
