package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/pagewatch/crawl/internal/records"
)

// Topics and their extraction instructions.
const (
	TopicNews     = "News/Articles"
	TopicProducts = "Products/Pricing"
	TopicCompany  = "Company Info"
)

var topicPrompts = map[string]string{
	TopicNews:     "Extract a list of articles/news from the text. For each item, capture: 'title', 'date', 'link' (if any), 'author' (if any), and a brief 'summary'.",
	TopicProducts: "Extract a list of products or pricing plans. For each item, capture: 'name', 'price', 'features' (list), and 'specifications'.",
	TopicCompany:  "Extract company contact information. Capture: 'email', 'phone', 'address', 'social_links', and 'about_us_summary'.",
}

// ErrNoAPIKey is returned when the AI strategy runs without credentials.
var ErrNoAPIKey = errors.New("extract: AI API key missing")

// noiseSelectors are removed before the page is handed to the model.
const noiseSelectors = "script, style, header, footer, nav, noscript, aside, form, svg, iframe"

// AIConfig configures the AI strategy.
type AIConfig struct {
	// BaseURL of an OpenAI-compatible API, without the /chat/completions suffix.
	BaseURL   string
	APIKey    string
	Model     string
	Topic     string
	CharLimit int           // Max characters of page text sent. Default: 20000.
	Timeout   time.Duration // Default: 60s.
	Language  string        // Output language hint. Empty: page language.
}

func (c *AIConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = "gemini-1.5-flash"
	}
	if _, ok := topicPrompts[c.Topic]; !ok {
		c.Topic = TopicNews
	}
	if c.CharLimit <= 0 {
		c.CharLimit = 20000
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

// AI asks a chat model to turn page text into records. It makes exactly one
// model call per Extract; wrap it in Retrying for quota handling.
type AI struct {
	fetcher Fetcher
	cfg     AIConfig
	client  *http.Client
	md      *converter.Converter
	policy  *bluemonday.Policy
}

// NewAI creates an AI extractor.
func NewAI(f Fetcher, cfg AIConfig) *AI {
	cfg.defaults()
	return &AI{
		fetcher: f,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		policy: bluemonday.StrictPolicy(),
	}
}

// Label is the configured topic.
func (a *AI) Label() string { return a.cfg.Topic }

// Extract fetches url, reduces it to markdown and asks the model for records.
func (a *AI) Extract(ctx context.Context, pageURL string) ([]records.Record, error) {
	if a.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	page, err := a.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	text := truncateRunes(a.PageText(page), a.cfg.CharLimit)

	reply, err := a.complete(ctx, a.prompt(text))
	if err != nil {
		return nil, err
	}
	rs, err := records.ParseJSON([]byte(stripFences(reply)))
	if err != nil {
		return nil, err
	}
	for _, r := range rs {
		a.sanitize(r)
	}
	return rs, nil
}

// PageText removes layout noise from the page and converts the rest to
// markdown, keeping link targets. Falls back to plain text.
func (a *AI) PageText(page *Page) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return ""
	}
	doc.Find(noiseSelectors).Remove()
	plain := collapseLines(doc.Text())

	body, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(body) == "" {
		return plain
	}
	md, err := a.md.ConvertString(body, converter.WithDomain(page.URL))
	if err != nil || strings.TrimSpace(md) == "" {
		return plain
	}
	return strings.TrimSpace(md)
}

func (a *AI) prompt(text string) string {
	lang := "the original language of the page"
	if a.cfg.Language != "" {
		lang = a.cfg.Language
	}
	return fmt.Sprintf(`You are a strict data extraction system.
TASK: %s

SOURCE TEXT:
%s

OUTPUT RULES:
1. Output ONLY a valid JSON list of objects (e.g. [{"key": "value"}]).
2. If no relevant data is found for the requested topic, return an empty list [].
3. Do NOT wrap the output in markdown code fences.
4. Write text values in %s; keep proper nouns as written.`, topicPrompts[a.cfg.Topic], text, lang)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (a *AI) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    a.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := a.cfg.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: POST %s: %v", ErrNetwork, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		detail := strings.TrimSpace(string(respBody))
		msg := fmt.Sprintf("AI error: HTTP %d from %s: %s", resp.StatusCode, endpoint, detail)
		if resp.StatusCode == http.StatusTooManyRequests || quotaBody(detail) {
			return "", fmt.Errorf("%w: %s", ErrRateLimit, msg)
		}
		return "", errors.New(msg)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned from %s", ErrFormat, endpoint)
	}
	return result.Choices[0].Message.Content, nil
}

// sanitize strips any markup the model echoed into string fields; the
// records end up in HTML notification bodies.
func (a *AI) sanitize(r records.Record) {
	for k, v := range r {
		if s, ok := v.(string); ok {
			r[k] = strings.TrimSpace(html.UnescapeString(a.policy.Sanitize(s)))
		}
	}
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func collapseLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
