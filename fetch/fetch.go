// Package fetch retrieves upstream pages over plain HTTP or through a headless
// browser.
package fetch

import (
	"context"
	"errors"
	"net/http"
)

// ErrStatus marks an upstream response outside the 2xx range.
var ErrStatus = errors.New("unexpected upstream status")

// Page is a fetched upstream document.
type Page struct {
	// URL is the final location after redirects.
	URL    string
	Status int
	Header http.Header
	Body   string
}

// Fetcher retrieves a page. Implementations must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, target string) (*Page, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context, target string) (*Page, error)

func (f Func) Fetch(ctx context.Context, target string) (*Page, error) { return f(ctx, target) }

func cloneHeader(h http.Header) http.Header {
	out := http.Header{}
	for k, vs := range h {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}
