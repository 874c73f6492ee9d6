// Package scoring rates candidates for relevance to the post they will
// illustrate. Every candidate is scored by an independent classifier call;
// a call that fails or answers badly yields a configured fallback score
// instead of an error, so one bad call never loses the whole batch.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fpang/post-composer/internal/asset"
	"github.com/fpang/post-composer/internal/jsonutil"
	"github.com/fpang/post-composer/internal/metrics"
)

// ErrorKind distinguishes why a candidate received a fallback score.
type ErrorKind int

const (
	// CallFailed means the classifier call errored or timed out.
	CallFailed ErrorKind = iota + 1
	// ScoreMissing means the response parsed but had no score field.
	ScoreMissing
	// Unparseable means the response held no usable JSON or score value.
	Unparseable
)

func (k ErrorKind) String() string {
	switch k {
	case CallFailed:
		return "call_failed"
	case ScoreMissing:
		return "score_missing"
	case Unparseable:
		return "unparseable"
	}
	return "unknown"
}

// ScoreError records why a candidate's score is a fallback.
type ScoreError struct {
	Kind ErrorKind
	Err  error
}

func (e *ScoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("score %s: %v", e.Kind, e.Err)
	}
	return "score " + e.Kind.String()
}

func (e *ScoreError) Unwrap() error { return e.Err }

// Defaults are the fallback scores per failure kind. Callers should keep
// CallFailed > ScoreMissing > Unparseable.
type Defaults struct {
	CallFailed   float64
	ScoreMissing float64
	Unparseable  float64
}

// DefaultFallbacks are the stock fallback scores.
var DefaultFallbacks = Defaults{CallFailed: 0.5, ScoreMissing: 0.1, Unparseable: 0.0}

func (d Defaults) forKind(k ErrorKind) float64 {
	switch k {
	case CallFailed:
		return d.CallFailed
	case ScoreMissing:
		return d.ScoreMissing
	default:
		return d.Unparseable
	}
}

// ScoredCandidate is a candidate with its score. Err is non-nil when the
// score is a fallback.
type ScoredCandidate struct {
	asset.Candidate
	Score     float64     `json:"score"`
	Reasoning string      `json:"reasoning,omitempty"`
	Err       *ScoreError `json:"-"`
}

// ClassifyRequest is one candidate plus the text it should illustrate.
type ClassifyRequest struct {
	Candidate asset.Candidate
	Context   string
}

// Classifier returns the raw model response for one candidate.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (string, error)
}

// Options tunes a Scorer. Zero values take defaults.
type Options struct {
	CallTimeout time.Duration
	// MaxParallel caps concurrent calls; 0 scores every candidate at once.
	MaxParallel int
	Limiter     *rate.Limiter
	Defaults    *Defaults
}

// Scorer fans candidates out to a Classifier.
type Scorer struct {
	classifier Classifier
	timeout    time.Duration
	parallel   int
	limiter    *rate.Limiter
	defaults   Defaults
}

// NewScorer creates a Scorer.
func NewScorer(classifier Classifier, opts Options) *Scorer {
	s := &Scorer{
		classifier: classifier,
		timeout:    opts.CallTimeout,
		parallel:   opts.MaxParallel,
		limiter:    opts.Limiter,
		defaults:   DefaultFallbacks,
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if opts.Defaults != nil {
		s.defaults = *opts.Defaults
	}
	return s
}

// ScoreAll scores every candidate concurrently. The result has the same
// length and order as candidates regardless of completion order.
func (s *Scorer) ScoreAll(ctx context.Context, candidates []asset.Candidate, subject string) []ScoredCandidate {
	out := make([]ScoredCandidate, len(candidates))
	if len(candidates) == 0 {
		return out
	}

	start := time.Now()
	var g errgroup.Group
	if s.parallel > 0 {
		g.SetLimit(s.parallel)
	}
	for i, c := range candidates {
		g.Go(func() error {
			out[i] = s.scoreOne(ctx, c, subject)
			return nil
		})
	}
	g.Wait()

	fallbacks := 0
	for _, sc := range out {
		if sc.Err != nil {
			fallbacks++
		}
	}
	metrics.New("score").
		Since("ScoreBatchLatencyMs", start).
		Metric("CandidatesScored", float64(len(out)), metrics.UnitCount).
		Metric("ScoreFallbacks", float64(fallbacks), metrics.UnitCount).
		Flush()
	log.Info().
		Int("candidates", len(out)).
		Int("fallbacks", fallbacks).
		Dur("elapsed", time.Since(start)).
		Msg("Candidate scoring complete")

	return out
}

func (s *Scorer) scoreOne(ctx context.Context, c asset.Candidate, subject string) ScoredCandidate {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.call(callCtx, ClassifyRequest{Candidate: c, Context: subject})
	if err != nil {
		return s.fallback(c, &ScoreError{Kind: CallFailed, Err: err})
	}

	score, reasoning, serr := ParseVerdict(raw)
	if serr != nil {
		return s.fallback(c, serr)
	}
	return ScoredCandidate{Candidate: c, Score: score, Reasoning: reasoning}
}

func (s *Scorer) call(ctx context.Context, req ClassifyRequest) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return s.classifier.Classify(ctx, req)
}

func (s *Scorer) fallback(c asset.Candidate, serr *ScoreError) ScoredCandidate {
	log.Warn().
		Err(serr.Err).
		Str("kind", serr.Kind.String()).
		Str("url", c.SourceURL).
		Msg("Using fallback score")
	return ScoredCandidate{Candidate: c, Score: s.defaults.forKind(serr.Kind), Err: serr}
}

// ParseVerdict reads {"score": n, "reasoning": "..."} out of a model
// response. The score is clamped to [0,1].
func ParseVerdict(raw string) (float64, string, *ScoreError) {
	fields, err := jsonutil.Fields(raw)
	if err != nil {
		return 0, "", &ScoreError{Kind: Unparseable, Err: err}
	}

	rawScore, ok := fields["score"]
	if !ok || string(rawScore) == "null" {
		return 0, "", &ScoreError{Kind: ScoreMissing, Err: errors.New("response has no score")}
	}

	score, err := parseNumber(rawScore)
	if err != nil {
		return 0, "", &ScoreError{Kind: Unparseable, Err: err}
	}

	var reasoning string
	for _, key := range []string{"reasoning", "reason"} {
		if v, ok := fields[key]; ok {
			if err := json.Unmarshal(v, &reasoning); err != nil {
				// Reasoning is informational; a malformed one does not cost the score.
				log.Debug().Err(err).Str("key", key).Msg("Ignoring non-string reasoning")
				reasoning = ""
			}
			break
		}
	}
	return clamp(score), reasoning, nil
}

// parseNumber accepts a JSON number or a numeric string.
func parseNumber(raw json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("score is not finite")
		}
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("score %s is not a number", string(raw))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("score %q is not a number", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("score is not finite")
	}
	return f, nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
