package routes

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chartlock/chartlock/internal/auth"
	"github.com/chartlock/chartlock/internal/database"
	"github.com/chartlock/chartlock/internal/handlers"
	"github.com/chartlock/chartlock/internal/middleware"
)

// RegisterRoutes wires every endpoint. Public auth routes carry IP rate
// limits; everything else requires a Bearer access token.
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	totpHandler *handlers.TotpHandler,
	accountHandler *handlers.AccountHandler,
	tokenManager *auth.TokenManager,
	db *database.DB,
) {
	router.Get("/health", healthHandler(db))

	// Public auth surface.
	loginLimit := middleware.RateLimitByIP(middleware.LoginRateLimit())
	router.With(middleware.RateLimitByIP(middleware.RegisterRateLimit())).
		Post("/auth/register", authHandler.Register)
	router.With(loginLimit).Post("/auth/register/verify", authHandler.VerifyRegistration)
	router.With(loginLimit).Post("/auth/login", authHandler.Login)
	router.With(loginLimit).Post("/auth/login/totp", authHandler.LoginTotp)
	router.With(loginLimit).Post("/auth/login/backup-code", authHandler.LoginBackupCode)
	router.With(middleware.RateLimitByIP(middleware.RefreshRateLimit())).
		Post("/auth/refresh", authHandler.Refresh)
	router.Post("/auth/logout", authHandler.Logout)

	// Authenticated surface.
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAccessToken(tokenManager))

		r.Post("/auth/logout-all", authHandler.LogoutAll)

		r.Post("/auth/totp/setup", totpHandler.Setup)
		r.Post("/auth/totp/verify", totpHandler.ConfirmSetup)
		r.Post("/auth/totp/disable", totpHandler.Disable)
		r.Post("/auth/totp/rotate", totpHandler.InitiateRotation)
		r.Post("/auth/totp/rotate/verify", totpHandler.ConfirmRotation)
		r.Get("/auth/totp/status", totpHandler.Status)

		r.Get("/accounts/me", accountHandler.Me)
		r.Put("/accounts/me", accountHandler.UpdateMe)
	})
}

func healthHandler(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := db.HealthCheck(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
