package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultSerperURL     = "https://google.serper.dev"
	defaultSerperTimeout = 15 * time.Second
)

// SerperProvider searches images through the Serper JSON API.
type SerperProvider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewSerperProvider creates a provider. An empty baseURL uses the public API.
func NewSerperProvider(apiKey, baseURL string) *SerperProvider {
	if baseURL == "" {
		baseURL = defaultSerperURL
	}
	return &SerperProvider{
		httpClient: &http.Client{Timeout: defaultSerperTimeout},
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

func (p *SerperProvider) Name() string { return "serper" }

type serperRequest struct {
	Q    string `json:"q"`
	GL   string `json:"gl,omitempty"`
	Num  int    `json:"num,omitempty"`
	Page int    `json:"page,omitempty"`
	TBS  string `json:"tbs,omitempty"`
}

type serperResponse struct {
	Images []struct {
		Title    string `json:"title"`
		ImageURL string `json:"imageUrl"`
		Source   string `json:"source"`
		Domain   string `json:"domain"`
		Link     string `json:"link"`
	} `json:"images"`
	Message string `json:"message,omitempty"`
}

// sizeFilters maps size hints to Google image-size tbs filters.
var sizeFilters = map[string]string{
	"large":  "isz:l",
	"medium": "isz:m",
	"icon":   "isz:i",
}

// Search requests one page of image results. Page tokens are page numbers.
func (p *SerperProvider) Search(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	page := 1
	if req.PageToken != "" {
		n, err := strconv.Atoi(req.PageToken)
		if err != nil {
			return nil, fmt.Errorf("invalid page token %q: %w", req.PageToken, err)
		}
		page = n
	}

	body, err := json.Marshal(serperRequest{
		Q:    req.Query,
		GL:   req.Region,
		Num:  req.PageSize,
		Page: page,
		TBS:  sizeFilters[req.SizeHint],
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/images", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("X-API-KEY", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("serper request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out serperResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: status %d, unparseable body", ErrProvider, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || out.Message != "" {
		return nil, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, out.Message)
	}

	result := &SearchPage{Results: make([]SearchResult, 0, len(out.Images))}
	for _, img := range out.Images {
		if img.ImageURL == "" {
			continue
		}
		source := img.Source
		if source == "" {
			source = img.Domain
		}
		result.Results = append(result.Results, SearchResult{
			URL:    img.ImageURL,
			Title:  img.Title,
			Source: source,
			Link:   img.Link,
		})
	}
	if len(out.Images) > 0 && (req.PageSize <= 0 || len(out.Images) >= req.PageSize) {
		result.NextPageToken = strconv.Itoa(page + 1)
	}

	log.Debug().Str("query", req.Query).Int("page", page).Int("results", len(result.Results)).Msg("Serper page fetched")
	return result, nil
}
