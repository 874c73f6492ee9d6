package asset

import (
	"context"
	"errors"
)

// ErrProvider marks failures reported by a provider itself, including error
// envelopes returned in place of results.
var ErrProvider = errors.New("provider error")

// SearchRequest asks a provider for one page of results.
type SearchRequest struct {
	Query     string
	Region    string
	SizeHint  string
	PageToken string
	PageSize  int
}

// SearchResult is a media reference before download.
type SearchResult struct {
	URL    string
	Title  string
	Source string
	Link   string
}

// SearchPage is one page of results. An empty NextPageToken ends paging.
type SearchPage struct {
	Results       []SearchResult
	NextPageToken string
}

// Provider lists media references for a query.
type Provider interface {
	Name() string
	Search(ctx context.Context, req SearchRequest) (*SearchPage, error)
}
