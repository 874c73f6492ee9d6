package asset

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
)

// FeedProvider sources images from RSS/Atom feeds. Feeds are not
// searchable, so items are pulled and matched locally against the query's
// keywords. It always returns a single page.
type FeedProvider struct {
	Client *http.Client
	Feeds  []string
}

// NewFeedProvider creates a provider over the given feed URLs.
func NewFeedProvider(feeds []string) *FeedProvider {
	return &FeedProvider{
		Client: &http.Client{Timeout: 15 * time.Second},
		Feeds:  feeds,
	}
}

func (p *FeedProvider) Name() string { return "feed" }

// Search returns image references from matching feed items. Unreachable or
// malformed feeds are skipped; only all feeds failing is an error.
func (p *FeedProvider) Search(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	keywords := strings.Fields(strings.ToLower(req.Query))
	parser := gofeed.NewParser()
	page := &SearchPage{}
	failed := 0

	for _, feedURL := range p.Feeds {
		if req.PageSize > 0 && len(page.Results) >= req.PageSize {
			break
		}

		feed, err := p.parse(ctx, parser, feedURL)
		if err != nil {
			failed++
			log.Warn().Err(err).Str("feed", feedURL).Msg("Feed skipped")
			continue
		}

		for _, it := range feed.Items {
			if req.PageSize > 0 && len(page.Results) >= req.PageSize {
				break
			}
			text := strings.ToLower(it.Title + " " + it.Description)
			if len(keywords) > 0 && !matchesAnyKeyword(text, keywords) {
				continue
			}
			img := itemImage(it)
			if img == "" {
				continue
			}
			page.Results = append(page.Results, SearchResult{
				URL:    img,
				Title:  strings.TrimSpace(it.Title),
				Source: strings.TrimSpace(feed.Title),
				Link:   strings.TrimSpace(it.Link),
			})
		}
	}

	if len(p.Feeds) > 0 && failed == len(p.Feeds) {
		return nil, fmt.Errorf("%w: all %d feeds failed", ErrProvider, failed)
	}
	return page, nil
}

func (p *FeedProvider) parse(ctx context.Context, parser *gofeed.Parser, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return parser.Parse(resp.Body)
}

// itemImage picks the item image, then an image enclosure, then a
// media:content or media:thumbnail extension.
func itemImage(it *gofeed.Item) string {
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	if media, ok := it.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, e := range media[name] {
				if u := e.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}
	return ""
}

func matchesAnyKeyword(text string, keywords []string) bool {
	for _, k := range keywords {
		if len(k) < 3 {
			continue
		}
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
