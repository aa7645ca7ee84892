package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/pagewatch/horosafe"
)

// BrowserConfig configures BrowserFetcher.
type BrowserConfig struct {
	// RemoteURL is a DevTools websocket of a running Chrome.
	// Empty launches a local headless Chrome on first use.
	RemoteURL    string
	NavTimeout   time.Duration // Default: 30s.
	URLValidator horosafe.URLValidator
	Logger       *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// BrowserFetcher renders pages in a stealth headless Chrome, for sites that
// build their listing client-side. The browser is started lazily and shared
// by all fetches; each fetch uses its own tab.
type BrowserFetcher struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewBrowserFetcher creates a BrowserFetcher. No browser is started yet.
func NewBrowserFetcher(cfg BrowserConfig) *BrowserFetcher {
	cfg.defaults()
	return &BrowserFetcher{cfg: cfg}
}

// Fetch navigates a fresh stealth tab to url and returns the rendered DOM.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if err := f.cfg.URLValidator(url); err != nil {
		return nil, fmt.Errorf("URL blocked: %w", err)
	}
	b, err := f.ensureBrowser()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("%w: browser: create tab: %v", ErrNetwork, err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, f.cfg.NavTimeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.Navigate(url); err != nil {
		return nil, fmt.Errorf("%w: browser: navigate %s: %v", ErrNetwork, url, err)
	}
	if err := p.WaitLoad(); err != nil {
		f.cfg.Logger.Warn("extract: browser wait load", "url", url, "error", err)
	}
	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("%w: browser: read DOM: %v", ErrNetwork, err)
	}
	finalURL := url
	if info, err := p.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}
	return &Page{URL: finalURL, StatusCode: 200, HTML: html}, nil
}

// Close shuts the browser down if it was started.
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.lnch != nil {
		f.lnch.Kill()
		f.lnch = nil
	}
	return err
}

func (f *BrowserFetcher) ensureBrowser() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	wsURL := f.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		f.lnch = l
		f.cfg.Logger.Info("extract: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	f.browser = b
	return b, nil
}
