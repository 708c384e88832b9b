package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/chartlock/chartlock/pkg/http"
)

// RateLimitConfig is a per-endpoint request budget, keyed by client IP.
type RateLimitConfig struct {
	RequestsPerMinute int
}

// LoginRateLimit throttles the credential-guessing surface. The account
// lockouts are the real defense; this just caps database load from
// spray attacks.
func LoginRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 10}
}

// RefreshRateLimit is looser; well-behaved clients refresh at most once
// per access-token lifetime but retry storms happen.
func RefreshRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 30}
}

// RegisterRateLimit throttles registration to slow bulk signup abuse.
func RegisterRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 5}
}

// RateLimitByIP limits requests per client IP over a one-minute window.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded, please slow down")
		}),
	)
}
