// Package shield is the HTTP middleware stack in front of the pagewatch admin
// API: security headers, body limits, request IDs, per-IP rate limits, CORS
// for the dashboard and optional basic auth.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.StackConfig{...}) {
//	    r.Use(mw)
//	}
package shield

import (
	"net/http"
	"time"
)

// StackConfig configures APIStack.
type StackConfig struct {
	// AllowedOrigins enables CORS for these origins. "*" allows any.
	AllowedOrigins []string
	// User and PasswordHash (bcrypt) enable basic auth on every path except
	// PublicPaths.
	User         string
	PasswordHash string
	PublicPaths  []string
	// RateLimits are per "METHOD /path" rules.
	RateLimits map[string]Rule
	// MaxBody caps request bodies. Default: 64 KiB.
	MaxBody int64
}

// APIStack returns the middleware chain in order: HeadToGet, SecurityHeaders,
// CORS, RequestID, MaxBody, RateLimiter, BasicAuth. CORS runs before auth so
// preflight requests never need credentials.
func APIStack(cfg StackConfig) []func(http.Handler) http.Handler {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 64 << 10
	}
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		CORS(cfg.AllowedOrigins),
		RequestID,
		MaxBody(cfg.MaxBody),
	}
	if len(cfg.RateLimits) > 0 {
		stack = append(stack, NewRateLimiter(cfg.RateLimits).Middleware)
	}
	if cfg.User != "" && cfg.PasswordHash != "" {
		stack = append(stack, BasicAuth("pagewatch", cfg.User, cfg.PasswordHash, cfg.PublicPaths...))
	}
	return stack
}

// DefaultRateLimits throttle the routes that make outbound requests or
// write schedules.
func DefaultRateLimits() map[string]Rule {
	return map[string]Rule{
		"POST /api/extract":  {MaxRequests: 10, Window: time.Minute},
		"POST /api/schedule": {MaxRequests: 30, Window: time.Minute},
	}
}
