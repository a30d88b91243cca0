// Package xesi contains extensions to the goesi package.
package xesi

import (
	"context"
	"net/http"
	"slices"
	"strconv"

	"github.com/antihax/goesi"
	"golang.org/x/sync/errgroup"
)

const concurrencyLimitDefault = 5

// NewContextWithAccessToken returns a new context with an access token for authenticated ESI endpoints.
func NewContextWithAccessToken(ctx context.Context, accessToken string) context.Context {
	return context.WithValue(ctx, goesi.ContextAccessToken, accessToken)
}

// ContextHasAccessToken reports whether the context contains an access token.
func ContextHasAccessToken(ctx context.Context) bool {
	return ctx.Value(goesi.ContextAccessToken) != nil
}

// FetchWithPaging returns the combined list of items from all pages of an ESI endpoint.
// This only works for ESI endpoints which support the X-Pages pattern and return a list.
//
// Pages after the first are fetched concurrently, but never more than concurrencyLimit at a time.
// A concurrencyLimit < 1 applies a default.
// Fetching is aborted on the first error or when ctx is canceled.
func FetchWithPaging[T any](ctx context.Context, concurrencyLimit int, fetch func(ctx context.Context, page int) ([]T, *http.Response, error)) ([]T, error) {
	first, r, err := fetch(ctx, 1)
	if err != nil {
		return nil, err
	}
	pages, err := extractPageCount(r)
	if err != nil {
		return nil, err
	}
	if pages < 2 {
		return first, nil
	}
	if concurrencyLimit < 1 {
		concurrencyLimit = concurrencyLimitDefault
	}
	results := make([][]T, pages)
	results[0] = first
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrencyLimit)
	for p := 2; p <= pages; p++ {
		g.Go(func() error {
			items, _, err := fetch(ctx, p)
			if err != nil {
				return err
			}
			results[p-1] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

func extractPageCount(r *http.Response) (int, error) {
	if r == nil {
		return 1, nil
	}
	x := r.Header.Get("X-Pages")
	if x == "" {
		return 1, nil
	}
	return strconv.Atoi(x)
}
