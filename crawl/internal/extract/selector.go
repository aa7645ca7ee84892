package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/pagewatch/crawl/internal/records"
)

// SelectorLabel is the history label of the selector strategy.
const SelectorLabel = "Auto-CSS"

// Profile describes one repeated block on a page and where its fields live.
// Selectors are relative to the item element.
type Profile struct {
	Name    string `yaml:"name" json:"name"`
	Item    string `yaml:"item" json:"item"`
	Title   string `yaml:"title" json:"title"`
	Date    string `yaml:"date" json:"date"`
	Link    string `yaml:"link" json:"link"`
	Summary string `yaml:"summary" json:"summary"` // empty: summary is the title

	TitlePrefix  string `yaml:"title_prefix" json:"title_prefix"`
	DefaultTitle string `yaml:"default_title" json:"default_title"`
	DefaultDate  string `yaml:"default_date" json:"default_date"`
	// RequireTitleAndDate skips items missing either field instead of
	// filling in defaults.
	RequireTitleAndDate bool `yaml:"require_title_and_date" json:"require_title_and_date"`
	// LinkFallbackToPage uses the page URL when the item has no link.
	LinkFallbackToPage bool `yaml:"link_fallback_to_page" json:"link_fallback_to_page"`
}

// DefaultProfiles match the news list and service cards of the sites the
// tool was first deployed against.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:         "news-home",
			Item:         ".news-home__item",
			Title:        ".news-home__heading",
			Date:         ".news-home__date",
			Link:         ".news-home__heading-link",
			DefaultTitle: "No Title",
			DefaultDate:  "N/A",
		},
		{
			Name:                "card-service",
			Item:                ".card-service",
			Title:               ".card-service__description",
			Date:                ".card-service__date",
			Link:                "a.card-service__learnmore",
			TitlePrefix:         "[Service] ",
			RequireTitleAndDate: true,
			LinkFallbackToPage:  true,
		},
	}
}

// Selector extracts records with CSS selector profiles. Every profile is
// applied and the results concatenated in profile order.
type Selector struct {
	fetcher  Fetcher
	profiles []Profile
}

// NewSelector creates a Selector. Nil or empty profiles use DefaultProfiles.
func NewSelector(f Fetcher, profiles []Profile) *Selector {
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	return &Selector{fetcher: f, profiles: profiles}
}

func (s *Selector) Label() string { return SelectorLabel }

// Extract fetches url once. A page where no profile matches is ErrNoData.
func (s *Selector) Extract(ctx context.Context, pageURL string) ([]records.Record, error) {
	page, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return s.Parse(page)
}

// Parse applies the profiles to an already fetched page.
func (s *Selector) Parse(page *Page) ([]records.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrFormat, err)
	}
	base, _ := url.Parse(page.URL)

	out := []records.Record{}
	for _, p := range s.profiles {
		doc.Find(p.Item).Each(func(_ int, item *goquery.Selection) {
			if r, ok := p.record(item, base, page.URL); ok {
				out = append(out, r)
			}
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no items matched selectors on %s", ErrNoData, page.URL)
	}
	return out, nil
}

func (p Profile) record(item *goquery.Selection, base *url.URL, pageURL string) (records.Record, bool) {
	title, hasTitle := textOf(item, p.Title)
	date, hasDate := textOf(item, p.Date)
	if p.RequireTitleAndDate && (!hasTitle || !hasDate) {
		return nil, false
	}
	if !hasTitle {
		title = p.DefaultTitle
	}
	if !hasDate {
		date = p.DefaultDate
	}

	summary := title
	if p.Summary != "" {
		if s, ok := textOf(item, p.Summary); ok {
			summary = s
		}
	}

	link := ""
	if p.Link != "" {
		if href, ok := item.Find(p.Link).First().Attr("href"); ok {
			link = resolve(base, strings.TrimSpace(href))
		}
	}
	if link == "" && p.LinkFallbackToPage {
		link = pageURL
	}

	return records.Record{
		"date":    date,
		"title":   p.TitlePrefix + title,
		"summary": summary,
		"link":    link,
		"source":  "CSS_Scraper",
	}, true
}

// textOf returns the collapsed text of the first match of sel inside item.
func textOf(item *goquery.Selection, sel string) (string, bool) {
	if sel == "" {
		return "", false
	}
	m := item.Find(sel).First()
	if m.Length() == 0 {
		return "", false
	}
	return strings.Join(strings.Fields(m.Text()), " "), true
}

func resolve(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "http") || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
