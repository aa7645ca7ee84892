package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Rule limits one endpoint to MaxRequests per Window per client IP.
type Rule struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window, per-IP, per-endpoint limiter held in memory.
// Endpoints are keyed "METHOD /path" on the raw request path; endpoints
// without a rule are unlimited.
type RateLimiter struct {
	rules map[string]Rule
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	sweeps  int
}

// NewRateLimiter creates a limiter with fixed rules.
func NewRateLimiter(rules map[string]Rule) *RateLimiter {
	return &RateLimiter{rules: rules, now: time.Now, buckets: make(map[string]*bucket)}
}

func (rl *RateLimiter) allow(ip, endpoint string) (bool, time.Duration) {
	rule, ok := rl.rules[endpoint]
	if !ok || rule.MaxRequests <= 0 || rule.Window <= 0 {
		return true, 0
	}
	now := rl.now()
	key := ip + " " + endpoint

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Expired buckets are dropped every 256 calls.
	if rl.sweeps++; rl.sweeps%256 == 0 {
		for k, b := range rl.buckets {
			if now.After(b.resetAt) {
				delete(rl.buckets, k)
			}
		}
	}

	b, ok := rl.buckets[key]
	if !ok || now.After(b.resetAt) {
		rl.buckets[key] = &bucket{count: 1, resetAt: now.Add(rule.Window)}
		return true, 0
	}
	b.count++
	if b.count <= rule.MaxRequests {
		return true, 0
	}
	return false, b.resetAt.Sub(now)
}

// Middleware answers 429 with a JSON error and Retry-After when the client
// exceeded the rule for this endpoint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)

		ok, retry := rl.allow(ip, endpoint)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("shield: rate limit exceeded", "ip", ip, "endpoint", endpoint)
		secs := int(retry.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

// ExtractIP returns the client IP from the first X-Forwarded-For entry or
// RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
