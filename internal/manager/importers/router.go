// Package importers retrieves the raw bytes behind a source URL.
package importers

import (
	"context"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
)

// Router dispatches each URL to the first specialised fetcher that accepts
// it and falls back to plain HTTP otherwise.
type Router struct {
	specialised []interfaces.Fetcher
	fallback    interfaces.Fetcher
}

var _ interfaces.Fetcher = (*Router)(nil)

func NewRouter(fallback interfaces.Fetcher, specialised ...interfaces.Fetcher) *Router {
	return &Router{specialised: specialised, fallback: fallback}
}

// NewDefaultRouter wires the GitHub fetcher in front of an HTTP fetcher.
func NewDefaultRouter(httpFetcher *HTTPFetcher) *Router {
	return NewRouter(httpFetcher, NewGitHubFetcher(httpFetcher))
}

func (r *Router) ValidateSource(sourceURL string) error {
	return r.fallback.ValidateSource(sourceURL)
}

func (r *Router) Fetch(ctx context.Context, sourceURL string) (*interfaces.FetchResult, error) {
	return r.pick(sourceURL).Fetch(ctx, sourceURL)
}

func (r *Router) pick(sourceURL string) interfaces.Fetcher {
	for _, f := range r.specialised {
		if f.ValidateSource(sourceURL) == nil {
			return f
		}
	}
	return r.fallback
}
