package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/chartlock/chartlock/internal/auth"
	"github.com/chartlock/chartlock/internal/config"
	"github.com/chartlock/chartlock/internal/database"
	"github.com/chartlock/chartlock/internal/handlers"
	middlewareCustom "github.com/chartlock/chartlock/internal/middleware"
	"github.com/chartlock/chartlock/internal/routes"
	"github.com/chartlock/chartlock/internal/services"
	pkghttp "github.com/chartlock/chartlock/pkg/http"
	pkglogger "github.com/chartlock/chartlock/pkg/logger"
)

// TestEncryptionKey is the fixed TOTP at-rest key integration tests run with.
const TestEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// TestServer wraps httptest.Server with a real database behind the full
// production router.
type TestServer struct {
	Server      *httptest.Server
	DB          *database.DB
	Config      *config.Config
	TotpManager *auth.TOTPManager

	logger *slog.Logger
}

// NewTestServer wires the complete HTTP stack against the given database,
// mirroring the production composition with test-sized policies.
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
			TrustedProxies: []string{},
		},
		Auth: config.AuthConfig{
			AccessTokenSecret:    "test-access-secret-32-chars-long!",
			RefreshTokenSecret:   "test-refresh-secret-32-chars-lng!",
			TempTokenSecret:      "test-temp-secret-32-chars-long!!!",
			AccessTokenExpiry:    15 * time.Minute,
			RefreshTokenExpiry:   7 * 24 * time.Hour,
			TempTokenExpiry:      10 * time.Minute,
			MaxFailedLogins:      5,
			LoginLockoutDuration: 15 * time.Minute,
			CleanupInterval:      1 * time.Hour,
		},
		Totp: config.TotpConfig{
			Issuer:            "ChartlockTest",
			EncryptionKey:     TestEncryptionKey,
			MaxFailedAttempts: 5,
			LockoutDuration:   5 * time.Minute,
			BackupCodeCount:   10,
			RegistrationTTL:   15 * time.Minute,
		},
	}

	accountRepo, registrationRepo, backupCodeRepo, sessionRepo, auditRepo := InitializeRepositories(db)

	cipher, err := auth.NewSecretCipher(cfg.Totp.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret cipher: %w", err)
	}
	totpManager := auth.NewTOTPManager(cipher, cfg.Totp.Issuer)

	tokenManager := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessTokenSecret,
		RefreshSecret: cfg.Auth.RefreshTokenSecret,
		TempSecret:    cfg.Auth.TempTokenSecret,
		AccessExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshExpiry: cfg.Auth.RefreshTokenExpiry,
		TempExpiry:    cfg.Auth.TempTokenExpiry,
	})

	auditService := services.NewAuditService(auditRepo, pkglogger.NewAuditLogger(logger), logger)
	sessionService := services.NewSessionService(sessionRepo, tokenManager, cfg.Auth.AccessTokenExpiry, logger)

	totpPolicy := services.TotpPolicy{
		MaxFailedAttempts: cfg.Totp.MaxFailedAttempts,
		LockoutDuration:   cfg.Totp.LockoutDuration,
		BackupCodeCount:   cfg.Totp.BackupCodeCount,
	}
	totpService := services.NewTotpService(accountRepo, backupCodeRepo, totpManager, auditService, logger, totpPolicy)

	authService := services.NewAuthService(
		accountRepo,
		registrationRepo,
		backupCodeRepo,
		sessionService,
		totpService,
		totpManager,
		tokenManager,
		auditService,
		auth.NewTimingDelay(0, 0), // no artificial delay in tests
		logger,
		services.LoginPolicy{
			MaxFailedLogins: cfg.Auth.MaxFailedLogins,
			LockoutDuration: cfg.Auth.LoginLockoutDuration,
			RegistrationTTL: cfg.Totp.RegistrationTTL,
		},
		totpPolicy,
	)
	accountService := services.NewAccountService(accountRepo, pkglogger.NewAuditLogger(logger), logger)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig, auth.DefaultCookieConfig(cfg.Server.Env))
	totpHandler := handlers.NewTotpHandler(totpService, ipConfig)
	accountHandler := handlers.NewAccountHandler(accountService)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, authHandler, totpHandler, accountHandler, tokenManager, db)

	return &TestServer{
		Server:      httptest.NewServer(r),
		DB:          db,
		Config:      cfg,
		TotpManager: totpManager,
		logger:      logger,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes a JSON HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with an access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses a JSON response body into the target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// ExtractTokens pulls the token pair out of a terminal auth response body.
func ExtractTokens(resp *http.Response) (accessToken, refreshToken string, err error) {
	defer resp.Body.Close()

	var body struct {
		Tokens struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"tokens"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("failed to parse response: %w", err)
	}

	// Refresh responses carry the pair at the top level; login/verify
	// responses nest it under "tokens".
	if body.Tokens.AccessToken != "" {
		return body.Tokens.AccessToken, body.Tokens.RefreshToken, nil
	}
	return body.AccessToken, body.RefreshToken, nil
}

// GetErrorCode extracts the machine-readable error code from an error response
func GetErrorCode(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	return errResp.Error, nil
}
