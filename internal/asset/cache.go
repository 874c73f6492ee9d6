package asset

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// CachedProvider memoises provider pages. Errors are never cached.
type CachedProvider struct {
	next  Provider
	pages *cache.Cache
}

// NewCachedProvider wraps next with a page cache of the given TTL.
func NewCachedProvider(next Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		next:  next,
		pages: cache.New(ttl, 2*ttl),
	}
}

func (p *CachedProvider) Name() string { return p.next.Name() }

func (p *CachedProvider) Search(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	key := strings.Join([]string{p.next.Name(), req.Query, req.Region, req.SizeHint, req.PageToken}, "\x00")
	if v, ok := p.pages.Get(key); ok {
		log.Debug().Str("provider", p.next.Name()).Str("query", req.Query).Msg("Search page cache hit")
		return v.(*SearchPage), nil
	}

	page, err := p.next.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	p.pages.SetDefault(key, page)
	return page, nil
}
