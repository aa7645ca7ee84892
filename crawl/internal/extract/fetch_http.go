package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/pagewatch/horosafe"
)

// HTTPConfig configures HTTPFetcher.
type HTTPConfig struct {
	Timeout   time.Duration // Default: 30s.
	MaxBytes  int64         // Default: 10 MiB.
	UserAgent string
	// URLValidator runs before the request and on every redirect.
	// Default: horosafe.ValidateURL.
	URLValidator horosafe.URLValidator
}

func (c *HTTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; pagewatch/1.0)"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
}

// HTTPFetcher fetches pages with net/http and decodes them to UTF-8 using
// the Content-Type header and <meta charset>.
type HTTPFetcher struct {
	client *http.Client
	config HTTPConfig
}

// NewHTTPFetcher creates an HTTPFetcher with SSRF checks on redirects.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch GETs url. 429 maps to ErrRateLimit, other non-2xx statuses and
// transport failures to ErrNetwork.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if err := f.config.URLValidator(url); err != nil {
		return nil, fmt.Errorf("URL blocked: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrNetwork, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: GET %s: HTTP 429", ErrRateLimit, url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: GET %s: HTTP %d", ErrNetwork, url, resp.StatusCode)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, f.config.MaxBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrNetwork, url, err)
	}
	data, err := io.ReadAll(body)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: read %s: %v", ErrNetwork, url, err)
	}
	return &Page{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode, HTML: strings.ToValidUTF8(string(data), "")}, nil
}
