package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chartlock/chartlock/internal/auth"
	"github.com/chartlock/chartlock/internal/background"
	"github.com/chartlock/chartlock/internal/config"
	"github.com/chartlock/chartlock/internal/database"
	"github.com/chartlock/chartlock/internal/handlers"
	middlewareCustom "github.com/chartlock/chartlock/internal/middleware"
	"github.com/chartlock/chartlock/internal/repositories"
	"github.com/chartlock/chartlock/internal/routes"
	"github.com/chartlock/chartlock/internal/services"
	pkghttp "github.com/chartlock/chartlock/pkg/http"
	pkglogger "github.com/chartlock/chartlock/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Timing floor applied to failed credential checks so an attacker cannot
// distinguish unknown-email from wrong-password by response time.
const (
	loginDelayBase   = 100 * time.Millisecond
	loginDelayJitter = 100 * time.Millisecond
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	registrationRepo := repositories.NewPendingRegistrationRepository(db)
	backupCodeRepo := repositories.NewBackupCodeRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	auditRepo := repositories.NewAuditEventRepository(db)

	// TOTP secrets are encrypted at rest. Development may run without a
	// configured key; an ephemeral one means secrets do not survive restart.
	encryptionKey := cfg.Totp.EncryptionKey
	if encryptionKey == "" {
		encryptionKey, err = auth.GenerateKey()
		if err != nil {
			logger.Error("failed to generate encryption key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("TOTP_ENCRYPTION_KEY not set, using ephemeral key; enrolled secrets will not survive restart")
	}

	cipher, err := auth.NewSecretCipher(encryptionKey)
	if err != nil {
		logger.Error("failed to initialize secret cipher", slog.Any("error", err))
		os.Exit(1)
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

	timingDelay := auth.NewTimingDelay(loginDelayBase, loginDelayJitter)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Initialize services
	auditService := services.NewAuditService(auditRepo, auditLogger, logger)
	sessionService := services.NewSessionService(sessionRepo, tokenManager, cfg.Auth.AccessTokenExpiry, logger)

	totpPolicy := services.TotpPolicy{
		MaxFailedAttempts: cfg.Totp.MaxFailedAttempts,
		LockoutDuration:   cfg.Totp.LockoutDuration,
		BackupCodeCount:   cfg.Totp.BackupCodeCount,
	}
	totpService := services.NewTotpService(accountRepo, backupCodeRepo, totpManager, auditService, logger, totpPolicy)

	loginPolicy := services.LoginPolicy{
		MaxFailedLogins: cfg.Auth.MaxFailedLogins,
		LockoutDuration: cfg.Auth.LoginLockoutDuration,
		RegistrationTTL: cfg.Totp.RegistrationTTL,
	}
	authService := services.NewAuthService(
		accountRepo,
		registrationRepo,
		backupCodeRepo,
		sessionService,
		totpService,
		totpManager,
		tokenManager,
		auditService,
		timingDelay,
		logger,
		loginPolicy,
		totpPolicy,
	)
	accountService := services.NewAccountService(accountRepo, auditLogger, logger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig, auth.DefaultCookieConfig(cfg.Server.Env))
	totpHandler := handlers.NewTotpHandler(totpService, ipConfig)
	accountHandler := handlers.NewAccountHandler(accountService)

	// Expired sessions and abandoned registrations are swept in the
	// background.
	cleanupManager := background.NewCleanupManager(sessionRepo, registrationRepo, logger, cfg.Auth.CleanupInterval)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, totpHandler, accountHandler, tokenManager, db)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
