package extract

import (
	"errors"
	"regexp"
	"strings"

	"github.com/hazyhaar/pagewatch/crawl/internal/records"
)

var (
	// ErrNetwork is a transport-level fetch failure. Terminal per attempt.
	ErrNetwork = errors.New("extract: network error")
	// ErrRateLimit is a quota or HTTP 429 condition. Retried by Retrying.
	ErrRateLimit = errors.New("extract: rate limited")
	// ErrFormat is extractor output that is not a record list or object.
	ErrFormat = records.ErrFormat
	// ErrNoData means the page was fetched but nothing matched.
	ErrNoData = errors.New("extract: no data found")
)

// rateLimitSignatures are substrings that AI providers put in a quota
// error body when they do not return a 429.
var rateLimitSignatures = []string{
	"resource_exhausted",
	"quota",
	"rate limit",
	"rate_limit",
	"too many requests",
}

var status429 = regexp.MustCompile(`\b429\b`)

// IsRateLimit reports whether err wraps ErrRateLimit. Classification happens
// where the failure is produced, never by scanning an error message, since
// messages carry target URLs.
func IsRateLimit(err error) bool {
	return errors.Is(err, ErrRateLimit)
}

// quotaBody reports whether a provider error body carries a rate-limit or
// quota signature.
func quotaBody(body string) bool {
	body = strings.ToLower(body)
	if status429.MatchString(body) {
		return true
	}
	for _, sig := range rateLimitSignatures {
		if strings.Contains(body, sig) {
			return true
		}
	}
	return false
}
