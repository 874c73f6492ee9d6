package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fpang/post-composer/internal/metrics"
)

// Fetch defaults.
const (
	defaultItemTimeout = 10 * time.Second
	defaultMaxBytes    = 25 << 20
	defaultPageSize    = 20
	defaultMaxPages    = 3
	defaultConcurrency = 8
)

// FetchError describes one candidate that could not be used. Fetch logs
// and counts these; it never returns them.
type FetchError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options tunes a Fetcher. Zero values take defaults.
type Options struct {
	Region      string
	SizeHint    string
	PageSize    int
	MaxPages    int
	ItemTimeout time.Duration
	MaxBytes    int64
	Concurrency int
	// MediaFamilies are accepted content-type prefixes, e.g. "image/".
	MediaFamilies []string
	// Limiter throttles provider page requests. Nil means unthrottled.
	Limiter *rate.Limiter
	// HTTPClient downloads media. Nil uses a client without a global
	// timeout; per-item timeouts come from ItemTimeout.
	HTTPClient *http.Client
}

// Fetcher collects validated candidates from a Provider.
type Fetcher struct {
	provider Provider
	opts     Options
	client   *http.Client
}

// NewFetcher creates a Fetcher over provider.
func NewFetcher(provider Provider, opts Options) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = defaultItemTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if len(opts.MediaFamilies) == 0 {
		opts.MediaFamilies = []string{"image/"}
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{provider: provider, opts: opts, client: client}
}

// Fetch returns up to max candidates for query in discovery order.
//
// An empty result with a nil error means the provider had nothing usable.
// A provider failure on the first page is returned; later page failures end
// paging and keep what was collected.
func (f *Fetcher) Fetch(ctx context.Context, query string, max int) ([]Candidate, error) {
	if max <= 0 {
		return nil, nil
	}

	start := time.Now()
	var (
		collected []Candidate
		token     string
		failures  int
	)

	for page := 0; page < f.opts.MaxPages && len(collected) < max; page++ {
		if f.opts.Limiter != nil {
			if err := f.opts.Limiter.Wait(ctx); err != nil {
				return collected, err
			}
		}

		res, err := f.provider.Search(ctx, SearchRequest{
			Query:     query,
			Region:    f.opts.Region,
			SizeHint:  f.opts.SizeHint,
			PageToken: token,
			PageSize:  f.opts.PageSize,
		})
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("%s search: %w", f.provider.Name(), err)
			}
			log.Warn().Err(err).Str("provider", f.provider.Name()).Int("page", page).Msg("Provider failed mid-paging, keeping collected candidates")
			break
		}

		results := res.Results
		for len(results) > 0 && len(collected) < max {
			n := min(max-len(collected), len(results))
			got, failed := f.downloadWindow(ctx, results[:n])
			failures += failed
			for _, c := range got {
				c.Index = len(collected)
				collected = append(collected, c)
			}
			results = results[n:]
		}

		if res.NextPageToken == "" {
			break
		}
		token = res.NextPageToken
	}

	metrics.New("fetch").
		Dimension("Provider", f.provider.Name()).
		Since("FetchLatencyMs", start).
		Metric("CandidatesFetched", float64(len(collected)), metrics.UnitCount).
		Metric("CandidatesRejected", float64(failures), metrics.UnitCount).
		Flush()

	log.Info().
		Str("provider", f.provider.Name()).
		Str("query", query).
		Int("candidates", len(collected)).
		Int("rejected", failures).
		Dur("elapsed", time.Since(start)).
		Msg("Candidate fetch complete")

	return collected, ctx.Err()
}

// downloadWindow downloads results concurrently and returns the valid ones
// in input order plus the failure count.
func (f *Fetcher) downloadWindow(ctx context.Context, results []SearchResult) ([]Candidate, int) {
	slots := make([]*Candidate, len(results))

	var g errgroup.Group
	g.SetLimit(f.opts.Concurrency)
	for i, r := range results {
		g.Go(func() error {
			c, err := f.download(ctx, r)
			if err != nil {
				log.Debug().Err(err).Str("url", r.URL).Msg("Candidate rejected")
				return nil
			}
			slots[i] = c
			return nil
		})
	}
	g.Wait()

	out := make([]Candidate, 0, len(results))
	for _, c := range slots {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, len(results) - len(out)
}

func (f *Fetcher) download(ctx context.Context, r SearchResult) (*Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.ItemTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, &FetchError{URL: r.URL, Reason: "bad url", Err: err}
	}
	req.Header.Set("User-Agent", "post-composer/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		reason := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		return nil, &FetchError{URL: r.URL, Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: r.URL, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if !f.accepts(contentType) {
		return nil, &FetchError{URL: r.URL, Reason: fmt.Sprintf("content type %q", contentType)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: r.URL, Reason: "read body", Err: err}
	}
	if int64(len(data)) > f.opts.MaxBytes {
		return nil, &FetchError{URL: r.URL, Reason: "too large"}
	}
	if len(data) == 0 {
		return nil, &FetchError{URL: r.URL, Reason: "empty body"}
	}

	c := &Candidate{
		SourceURL:    r.URL,
		Title:        r.Title,
		SourceSite:   r.Source,
		CitationLink: r.Link,
		ContentType:  contentType,
		Kind:         KindOf(contentType),
		Data:         data,
	}
	if c.Kind == KindImage {
		c.Metadata = readMetadata(data)
	}
	return c, nil
}

func (f *Fetcher) accepts(contentType string) bool {
	for _, family := range f.opts.MediaFamilies {
		if strings.HasPrefix(contentType, strings.ToLower(family)) {
			return true
		}
	}
	return false
}
