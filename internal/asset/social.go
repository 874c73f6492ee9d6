package asset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const (
	defaultSocialTimeout = 30 * time.Second
	socialMaxAttempts    = 3
)

// SocialProvider lists media from a public social-media profile through a
// RapidAPI scraper. The query is the profile handle, id, or URL.
type SocialProvider struct {
	httpClient *http.Client
	apiKey     string
	host       string
	baseURL    string

	// Since drops posts taken at or before this time and stops paging once
	// an older post is seen. Zero disables the cut-off.
	Since time.Time
	// MaxAge sets the cut-off relative to each search when Since is zero.
	MaxAge time.Duration
	// retryDelay separates attempts after a non-200 response.
	retryDelay time.Duration
}

// NewSocialProvider creates a provider for the given RapidAPI host.
func NewSocialProvider(apiKey, host string) *SocialProvider {
	return &SocialProvider{
		httpClient: &http.Client{Timeout: defaultSocialTimeout},
		apiKey:     apiKey,
		host:       host,
		baseURL:    "https://" + host,
		retryDelay: time.Second,
	}
}

func (p *SocialProvider) Name() string { return "social" }

type socialResponse struct {
	Data struct {
		Items []socialPost `json:"items"`
	} `json:"data"`
	PaginationToken string          `json:"pagination_token"`
	Error           json.RawMessage `json:"error,omitempty"`
}

type socialPost struct {
	Code          string          `json:"code"`
	TakenAt       int64           `json:"taken_at"`
	MediaType     int             `json:"media_type"`
	Caption       *socialCaption  `json:"caption"`
	ImageVersions socialImages    `json:"image_versions"`
	VideoVersions []socialVersion `json:"video_versions"`
	Carousel      []socialPost    `json:"carousel_media"`
}

type socialCaption struct {
	Text string `json:"text"`
}

type socialImages struct {
	Items []socialVersion `json:"items"`
}

type socialVersion struct {
	URL string `json:"url"`
}

// Post media types reported by the scraper.
const (
	postImage    = 1
	postVideo    = 2
	postCarousel = 8
)

// Search fetches one page of posts and flattens them into media results.
func (p *SocialProvider) Search(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	params := url.Values{"username_or_id_or_url": {req.Query}}
	if req.PageToken != "" {
		params.Set("pagination_token", req.PageToken)
	}

	data, err := p.get(ctx, "/v1/posts", params)
	if err != nil {
		return nil, err
	}

	var resp socialResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse posts: %w", err)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" && string(resp.Error) != "false" {
		return nil, fmt.Errorf("%w: %s", ErrProvider, strings.Trim(string(resp.Error), `"`))
	}

	cutoff := p.cutoff()
	page := &SearchPage{NextPageToken: resp.PaginationToken}
	for _, post := range resp.Data.Items {
		if !cutoff.IsZero() && !time.Unix(post.TakenAt, 0).After(cutoff) {
			page.NextPageToken = ""
			continue
		}
		page.Results = append(page.Results, flattenPost(post)...)
	}

	log.Debug().
		Str("profile", req.Query).
		Int("posts", len(resp.Data.Items)).
		Int("media", len(page.Results)).
		Bool("more", page.NextPageToken != "").
		Msg("Social posts page fetched")
	return page, nil
}

func (p *SocialProvider) cutoff() time.Time {
	if p.Since.IsZero() && p.MaxAge > 0 {
		return time.Now().Add(-p.MaxAge)
	}
	return p.Since
}

// flattenPost turns a post into ordered media references: carousel items in
// order, a video before its thumbnail, and single images.
func flattenPost(post socialPost) []SearchResult {
	title := ""
	if post.Caption != nil {
		title = firstLine(post.Caption.Text)
	}
	link := ""
	if post.Code != "" {
		link = "https://www.instagram.com/p/" + post.Code + "/"
	}

	var urls []string
	switch post.MediaType {
	case postCarousel:
		for _, item := range post.Carousel {
			switch item.MediaType {
			case postImage:
				urls = append(urls, firstURL(item.ImageVersions.Items))
			case postVideo:
				urls = append(urls, firstURL(item.VideoVersions))
			}
		}
	case postVideo:
		urls = append(urls, firstURL(post.VideoVersions), firstURL(post.ImageVersions.Items))
	default:
		urls = append(urls, firstURL(post.ImageVersions.Items))
	}

	var out []SearchResult
	for _, u := range urls {
		if u == "" {
			continue
		}
		out = append(out, SearchResult{URL: u, Title: title, Source: "instagram", Link: link})
	}
	return out
}

// get performs a GET, retrying non-200 responses up to socialMaxAttempts.
// 404 is terminal.
func (p *SocialProvider) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= socialMaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("x-rapidapi-key", p.apiKey)
		req.Header.Set("x-rapidapi-host", p.host)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("social request: %w", err)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read response: %w", readErr)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			return body, nil
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: profile not found", ErrProvider)
		}

		lastErr = fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, truncate(string(body), 200))
		log.Warn().Int("attempt", attempt).Int("status", resp.StatusCode).Msg("Social API call failed")

		if attempt < socialMaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay):
			}
		}
	}
	return nil, fmt.Errorf("failed %d attempts: %w", socialMaxAttempts, lastErr)
}

func firstURL(versions []socialVersion) string {
	if len(versions) == 0 {
		return ""
	}
	return versions[0].URL
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(strings.TrimSpace(s), 120)
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
