package auth

import (
	"net/http"
	"time"
)

// RefreshCookieName is the cookie carrying the refresh token for the web
// client. The Android client uses the JSON body instead.
const RefreshCookieName = "chartlock_refresh"

// CookieConfig holds cookie attributes for the refresh-token cookie.
type CookieConfig struct {
	Domain   string // empty = current host only
	Secure   bool   // HTTPS only; enforced in production
	SameSite http.SameSite
}

// SetRefreshTokenCookie stores the refresh token in an httpOnly cookie.
func SetRefreshTokenCookie(w http.ResponseWriter, refreshToken string, expiresAt time.Time, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refreshToken,
		Path:     "/auth",
		Domain:   config.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: config.SameSite,
	})
}

// ClearRefreshTokenCookie removes the refresh token cookie on logout.
func ClearRefreshTokenCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/auth",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: config.SameSite,
	})
}

// DefaultCookieConfig returns cookie attributes appropriate for the
// environment.
func DefaultCookieConfig(env string) CookieConfig {
	return CookieConfig{
		Secure:   env == "production",
		SameSite: http.SameSiteStrictMode,
	}
}
