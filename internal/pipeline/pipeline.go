// Package pipeline chains sourcing, scoring, selection, rendering and
// compositing into one call. Every invocation runs inside its own scratch
// session, and media work (browser captures, encodes) is bounded by a
// semaphore shared by all invocations on the same Pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/post-composer/internal/asset"
	"github.com/fpang/post-composer/internal/compositor"
	"github.com/fpang/post-composer/internal/metrics"
	"github.com/fpang/post-composer/internal/render"
	"github.com/fpang/post-composer/internal/scoring"
	"github.com/fpang/post-composer/internal/scratch"
	"github.com/fpang/post-composer/internal/selection"
	"github.com/fpang/post-composer/internal/store"
)

// DefaultBackgroundSlot is the template placeholder the chosen media binds to.
const DefaultBackgroundSlot = "background"

const (
	contentTypePNG = "image/png"
	contentTypeMP4 = "video/mp4"
)

// Options assembles a Pipeline. Fetcher and Scorer are only needed by Run.
// Store is optional.
type Options struct {
	Fetcher    *asset.Fetcher
	Scorer     *scoring.Scorer
	Renderer   *render.Renderer
	Video      *compositor.VideoCompositor
	Janitor    *scratch.Janitor
	Store      store.ResultStore
	Threshold  float64
	MaxResults int
	// ImageWidth and ImageHeight are the still-image crop target.
	ImageWidth  int
	ImageHeight int
	// MediaConcurrency bounds concurrent render and encode steps.
	MediaConcurrency int
}

// Pipeline composes posts.
type Pipeline struct {
	fetcher    *asset.Fetcher
	scorer     *scoring.Scorer
	renderer   *render.Renderer
	video      *compositor.VideoCompositor
	janitor    *scratch.Janitor
	store      store.ResultStore
	threshold  float64
	maxResults int
	imageW     int
	imageH     int
	mediaSem   chan struct{}
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		fetcher:    opts.Fetcher,
		scorer:     opts.Scorer,
		renderer:   opts.Renderer,
		video:      opts.Video,
		janitor:    opts.Janitor,
		store:      opts.Store,
		threshold:  opts.Threshold,
		maxResults: opts.MaxResults,
		imageW:     opts.ImageWidth,
		imageH:     opts.ImageHeight,
	}
	if p.maxResults <= 0 {
		p.maxResults = 10
	}
	if p.imageW <= 0 || p.imageH <= 0 {
		p.imageW, p.imageH = 1080, 1350
	}
	n := opts.MediaConcurrency
	if n <= 0 {
		n = 2
	}
	p.mediaSem = make(chan struct{}, n)
	return p
}

// Post is the template side of a request.
type Post struct {
	Template render.TemplateSpec     `json:"template"`
	Fields   render.FieldSet         `json:"fields"`
	Assets   map[string]render.Asset `json:"-"`
	Edits    compositor.Edits        `json:"edits"`
	// BackgroundSlot names the placeholder for the chosen media.
	BackgroundSlot string `json:"background_slot,omitempty"`
}

// Request sources a background for a post.
type Request struct {
	Query string `json:"query"`
	// Subject is the text candidates are scored against. Defaults to Query.
	Subject       string `json:"subject,omitempty"`
	MaxCandidates int    `json:"max_candidates,omitempty"`
	Post
}

// ComposeRequest composes a post onto caller-supplied media.
type ComposeRequest struct {
	Media       []byte `json:"-"`
	ContentType string `json:"content_type"`
	Post
}

// Result is a composed post.
type Result struct {
	SessionID   string
	Output      []byte
	ContentType string
	// Chosen is set by Run.
	Chosen     *selection.Result
	Candidates int
}

// Run sources candidates for req.Query, picks the best one and composes the
// post onto it. ErrSelectionEmpty means nothing usable was found.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if p.fetcher == nil || p.scorer == nil {
		return nil, errors.New("pipeline has no fetcher or scorer configured")
	}
	if err := p.checkPost(req.Post); err != nil {
		return nil, err
	}

	start := time.Now()
	var res *Result
	err := p.janitor.Run(ctx, func(ctx context.Context, sess *scratch.Session) error {
		max := req.MaxCandidates
		if max <= 0 {
			max = p.maxResults
		}
		candidates, err := p.fetcher.Fetch(ctx, req.Query, max)
		if err != nil {
			return fmt.Errorf("fetch candidates: %w", err)
		}
		if len(candidates) == 0 {
			return selection.ErrSelectionEmpty
		}

		subject := req.Subject
		if subject == "" {
			subject = req.Query
		}
		scored := p.scorer.ScoreAll(ctx, candidates, subject)

		chosen, err := selection.Select(scored, p.threshold)
		if err != nil {
			return err
		}

		output, contentType, picked, err := p.composeRanked(ctx, sess, scored, chosen, req.Post)
		if err != nil {
			return err
		}

		res = &Result{
			SessionID:   sess.ID(),
			Output:      output,
			ContentType: contentType,
			Chosen:      &picked,
			Candidates:  len(candidates),
		}
		p.persist(ctx, req.Query, req.Template.Name, res)
		return nil
	})

	m := metrics.New("pipeline_run").Since("PipelineLatencyMs", start).Count("PipelineRuns")
	if err != nil {
		m.Count("PipelineErrors").Flush()
		return nil, err
	}
	m.Flush()

	log.Info().
		Str("session_id", res.SessionID).
		Str("query", req.Query).
		Int("candidates", res.Candidates).
		Int("position", res.Chosen.Position).
		Float64("score", res.Chosen.Candidate.Score).
		Bool("fallback", res.Chosen.Fallback).
		Str("content_type", res.ContentType).
		Dur("elapsed", time.Since(start)).
		Msg("Post composed")
	return res, nil
}

// composeRanked composes onto the selected candidate. A still image too
// narrow for the crop yields to the next candidate in rank order; if none
// fits, the selected image is used uncropped.
func (p *Pipeline) composeRanked(ctx context.Context, sess *scratch.Session, scored []scoring.ScoredCandidate, chosen selection.Result, post Post) ([]byte, string, selection.Result, error) {
	for _, pos := range selection.Rank(scored, p.threshold) {
		c := scored[pos].Candidate
		out, ct, err := p.composeMedia(ctx, sess, c.Data, c.ContentType, post, true)
		if err == nil {
			picked := selection.Result{Candidate: scored[pos], Position: pos, Fallback: chosen.Fallback}
			return out, ct, picked, nil
		}
		if !errors.Is(err, compositor.ErrTooNarrow) {
			return nil, "", selection.Result{}, err
		}
		log.Warn().
			Int("position", pos).
			Str("url", c.SourceURL).
			Msg("Candidate too narrow for crop, trying next")
	}

	c := chosen.Candidate.Candidate
	out, ct, err := p.composeMedia(ctx, sess, c.Data, c.ContentType, post, false)
	if err != nil {
		return nil, "", selection.Result{}, err
	}
	return out, ct, chosen, nil
}

// Compose composes a post onto the media in req without sourcing.
func (p *Pipeline) Compose(ctx context.Context, req ComposeRequest) (*Result, error) {
	if err := p.checkPost(req.Post); err != nil {
		return nil, err
	}
	if len(req.Media) == 0 {
		return nil, &compositor.CompositeError{Kind: compositor.InvalidInput, Err: errors.New("no media supplied")}
	}

	var res *Result
	err := p.janitor.Run(ctx, func(ctx context.Context, sess *scratch.Session) error {
		out, ct, err := p.composeMedia(ctx, sess, req.Media, req.ContentType, req.Post, true)
		if errors.Is(err, compositor.ErrTooNarrow) {
			out, ct, err = p.composeMedia(ctx, sess, req.Media, req.ContentType, req.Post, false)
		}
		if err != nil {
			return err
		}
		res = &Result{SessionID: sess.ID(), Output: out, ContentType: ct}
		p.persist(ctx, "", req.Template.Name, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) checkPost(post Post) error {
	if p.renderer == nil {
		return errors.New("pipeline has no renderer configured")
	}
	if err := post.Template.Validate(post.Fields); err != nil {
		return err
	}
	policy := compositor.DefaultVideoPolicy
	if p.video != nil {
		policy = p.video.Policy()
	}
	return post.Edits.WithDefaults(policy).Validate(post.Template.AllowedCropTypes)
}

// composeMedia renders the post over one piece of media. Still images are
// cropped first when crop is set and the edits ask for cover.
func (p *Pipeline) composeMedia(ctx context.Context, sess *scratch.Session, media []byte, contentType string, post Post, crop bool) ([]byte, string, error) {
	slot := post.BackgroundSlot
	if slot == "" {
		slot = DefaultBackgroundSlot
	}
	assets := make(map[string]render.Asset, len(post.Assets)+1)
	for k, v := range post.Assets {
		assets[k] = v
	}

	if asset.KindOf(contentType) == asset.KindVideo {
		if p.video == nil {
			return nil, "", errors.New("pipeline has no video compositor configured")
		}
		var overlay []byte
		if err := p.withMedia(ctx, "render", func() (err error) {
			overlay, err = p.renderer.Render(ctx, post.Template, post.Fields, assets, sess)
			return err
		}); err != nil {
			return nil, "", err
		}
		var out []byte
		if err := p.withMedia(ctx, "encode", func() (err error) {
			out, err = p.video.Compose(ctx, media, overlay, post.Edits, sess)
			return err
		}); err != nil {
			return nil, "", err
		}
		return out, contentTypeMP4, nil
	}

	background := media
	if crop && post.Edits.CropType != compositor.CropContain {
		w, h := p.imageSize(post.Edits)
		cropped, err := compositor.CropToAspect(media, w, h, biasOrCentre(post.Edits.Bias))
		if err != nil {
			return nil, "", err
		}
		background = cropped
	}
	assets[slot] = render.Asset{Data: background}

	var out []byte
	if err := p.withMedia(ctx, "render", func() (err error) {
		out, err = p.renderer.Render(ctx, post.Template, post.Fields, assets, sess)
		return err
	}); err != nil {
		return nil, "", err
	}
	return out, contentTypePNG, nil
}

// imageSize is the still-image crop size: the edits' target when set,
// else the pipeline default.
func (p *Pipeline) imageSize(e compositor.Edits) (int, int) {
	w, h := p.imageW, p.imageH
	if e.TargetWidth > 0 {
		w = e.TargetWidth
	}
	if e.TargetHeight > 0 {
		h = e.TargetHeight
	}
	return w, h
}

// biasOrCentre treats an unset bias as a centred crop.
func biasOrCentre(b *float64) float64 {
	if b == nil {
		return 0.5
	}
	return *b
}

// withMedia runs fn while holding a media slot.
func (p *Pipeline) withMedia(ctx context.Context, label string, fn func() error) error {
	select {
	case p.mediaSem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%s cancelled while waiting for media slot: %w", label, ctx.Err())
	}
	defer func() { <-p.mediaSem }()
	return fn()
}

// persist stores the result when a store is configured. Failures are logged.
func (p *Pipeline) persist(ctx context.Context, query, templateName string, res *Result) {
	if p.store == nil {
		return
	}
	if err := p.store.Put(ctx, NewRecord(query, templateName, res)); err != nil {
		log.Warn().Err(err).Str("session_id", res.SessionID).Msg("Failed to persist result")
	}
}

// NewRecord builds the store record for a composed result.
func NewRecord(query, templateName string, res *Result) *store.Record {
	rec := &store.Record{
		SessionID:    res.SessionID,
		Query:        query,
		TemplateName: templateName,
		ContentType:  res.ContentType,
		Payload:      res.Output,
	}
	if c := res.Chosen; c != nil {
		rec.SourceURL = c.Candidate.SourceURL
		rec.SourceSite = c.Candidate.SourceSite
		rec.CitationLink = c.Candidate.CitationLink
		rec.Score = c.Candidate.Score
		rec.Fallback = c.Fallback
	}
	return rec
}
