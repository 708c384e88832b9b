package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Totp     TotpConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string

	// TrustedProxies lists CIDR ranges whose forwarding headers are
	// believed when resolving the client IP. Empty means headers are
	// ignored and the socket address wins.
	TrustedProxies []string
}

type AuthConfig struct {
	// Access, refresh, and temp tokens are signed with separate secrets so
	// compromise of one key does not compromise the others.
	AccessTokenSecret  string
	RefreshTokenSecret string
	TempTokenSecret    string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	TempTokenExpiry    time.Duration

	// Password lockout (independent of the TOTP lockout in TotpConfig).
	MaxFailedLogins      int
	LoginLockoutDuration time.Duration

	CleanupInterval time.Duration
}

type TotpConfig struct {
	Issuer string

	// EncryptionKey is the AES-256 key for TOTP secrets at rest,
	// supplied as a 64-character hex string.
	EncryptionKey string

	MaxFailedAttempts int
	LockoutDuration   time.Duration
	BackupCodeCount   int
	RegistrationTTL   time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "chartlock"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsSlice("TRUSTED_PROXIES"),
		},
		Auth: AuthConfig{
			AccessTokenSecret:    getEnv("ACCESS_TOKEN_SECRET", ""),
			RefreshTokenSecret:   getEnv("REFRESH_TOKEN_SECRET", ""),
			TempTokenSecret:      getEnv("TEMP_TOKEN_SECRET", ""),
			AccessTokenExpiry:    getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:   getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			TempTokenExpiry:      getEnvAsDuration("TEMP_TOKEN_EXPIRY", 10*time.Minute),
			MaxFailedLogins:      getEnvAsInt("MAX_FAILED_LOGINS", 5),
			LoginLockoutDuration: getEnvAsDuration("LOGIN_LOCKOUT_DURATION", 15*time.Minute),
			CleanupInterval:      getEnvAsDuration("SESSION_CLEANUP_INTERVAL", 1*time.Hour),
		},
		Totp: TotpConfig{
			Issuer:            getEnv("TOTP_ISSUER", "Chartlock"),
			EncryptionKey:     getEnv("TOTP_ENCRYPTION_KEY", ""),
			MaxFailedAttempts: getEnvAsInt("TOTP_MAX_FAILED_ATTEMPTS", 5),
			LockoutDuration:   getEnvAsDuration("TOTP_LOCKOUT_DURATION", 5*time.Minute),
			BackupCodeCount:   getEnvAsInt("BACKUP_CODE_COUNT", 10),
			RegistrationTTL:   getEnvAsDuration("REGISTRATION_TTL", 15*time.Minute),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateTokenSecrets(&cfg.Auth, env); err != nil {
		return nil, err
	}

	if err := validateEncryptionKey(cfg.Totp.EncryptionKey, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateTokenSecrets enforces that the three signing secrets are present,
// distinct, and strong enough for the environment.
func validateTokenSecrets(auth *AuthConfig, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	secrets := map[string]string{
		"ACCESS_TOKEN_SECRET":  auth.AccessTokenSecret,
		"REFRESH_TOKEN_SECRET": auth.RefreshTokenSecret,
		"TEMP_TOKEN_SECRET":    auth.TempTokenSecret,
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	for name, secret := range secrets {
		if secret == "" {
			return fmt.Errorf("%s is required", name)
		}
		if len(secret) < minLength {
			return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
				name, minLength, env, len(secret))
		}
		for _, weak := range weakSecrets {
			if strings.ToLower(secret) == weak {
				return fmt.Errorf("%s cannot be a common weak value", name)
			}
		}
	}

	if auth.AccessTokenSecret == auth.RefreshTokenSecret ||
		auth.AccessTokenSecret == auth.TempTokenSecret ||
		auth.RefreshTokenSecret == auth.TempTokenSecret {
		return fmt.Errorf("token signing secrets must be pairwise distinct")
	}

	return nil
}

// validateEncryptionKey checks that the TOTP at-rest key decodes to 32 bytes.
// Development mode may run without a key; internal/auth generates an
// ephemeral one and logs a warning. Production must not.
func validateEncryptionKey(key, env string) error {
	if key == "" {
		if env == "production" {
			return fmt.Errorf("TOTP_ENCRYPTION_KEY is required in production")
		}
		return nil
	}

	decoded, err := hex.DecodeString(key)
	if err != nil {
		return fmt.Errorf("TOTP_ENCRYPTION_KEY must be a hex string: %w", err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(decoded))
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsSlice(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{}
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants used by the web and emulator clients
	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://localhost:8081",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
		"http://10.0.2.2:8080",
	}
}
