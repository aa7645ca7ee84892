package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hazyhaar/pagewatch/horosafe"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body, prefixed
// with "sha256=" (GitHub style).
const SignatureHeader = "X-Signature-256"

// WebhookConfig configures the outbound webhook channel.
type WebhookConfig struct {
	URL string `yaml:"url"`
	// Secret signs the body when set. Must be at least horosafe.MinSecretLen bytes.
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
	Client  *http.Client  `yaml:"-"`
}

// Webhook POSTs the message as JSON to a fixed URL.
type Webhook struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhook validates cfg and returns the channel.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if err := horosafe.ValidateURLShape(cfg.URL); err != nil {
		return nil, fmt.Errorf("notify: webhook url: %w", err)
	}
	if cfg.Secret != "" {
		if err := horosafe.ValidateSecret([]byte(cfg.Secret)); err != nil {
			return nil, fmt.Errorf("notify: webhook secret: %w", err)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Webhook{url: cfg.URL, secret: []byte(cfg.Secret), client: client}, nil
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return &SendError{Channel: w.Name(), Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &SendError{Channel: w.Name(), Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if len(w.secret) > 0 {
		req.Header.Set(SignatureHeader, "sha256="+Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return &SendError{Channel: w.Name(), Cause: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, horosafe.MaxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendError{Channel: w.Name(), Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
