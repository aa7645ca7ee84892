// Package extract turns a page URL into records. Two strategies implement
// Extractor: Selector (CSS selector profiles) and AI (an OpenAI-compatible
// chat model). Both read pages through a Fetcher, either plain HTTP or a
// headless browser.
package extract

import (
	"context"

	"github.com/hazyhaar/pagewatch/crawl/internal/records"
)

// Extractor fetches url and returns its records.
type Extractor interface {
	Extract(ctx context.Context, url string) ([]records.Record, error)
	// Label is the history category written with each attempt.
	Label() string
}

// Page is a fetched document, already decoded to UTF-8.
type Page struct {
	URL        string
	StatusCode int
	HTML       string
}

// Fetcher retrieves a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Func adapts a function to Extractor.
type Func struct {
	Name string
	Fn   func(ctx context.Context, url string) ([]records.Record, error)
}

func (f Func) Extract(ctx context.Context, url string) ([]records.Record, error) {
	return f.Fn(ctx, url)
}

func (f Func) Label() string { return f.Name }
