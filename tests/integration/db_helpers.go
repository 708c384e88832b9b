package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chartlock/chartlock/internal/database"
	"github.com/chartlock/chartlock/internal/models"
	"github.com/chartlock/chartlock/internal/repositories"
	"github.com/chartlock/chartlock/pkg/auth"
)

// TestDB manages a PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations,
// and returns the ready-to-use TestDB.
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("chartlock"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         &database.DB{Pool: pool},
	}, nil
}

// runMigrations executes all goose migrations against the container.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	// Goose needs a database/sql connection; adapt the pgx pool config.
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"audit_events",
		"backup_codes",
		"sessions",
		"pending_registrations",
		"accounts",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// InitializeRepositories creates all repository instances from the database wrapper
func InitializeRepositories(db *database.DB) (
	*repositories.AccountRepository,
	*repositories.PendingRegistrationRepository,
	*repositories.BackupCodeRepository,
	*repositories.SessionRepository,
	*repositories.AuditEventRepository,
) {
	return repositories.NewAccountRepository(db),
		repositories.NewPendingRegistrationRepository(db),
		repositories.NewBackupCodeRepository(db),
		repositories.NewSessionRepository(db),
		repositories.NewAuditEventRepository(db)
}

// SeedAccount inserts an active account with a hashed password. TOTP is
// left unenrolled; pair with SeedEnrolledAccount for a challenge-ready one.
func SeedAccount(ctx context.Context, pool *pgxpool.Pool, email, phone, password string) (*models.Account, error) {
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO accounts (id, hospital_name, email, phone, address, password_hash, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING id, hospital_name, email, phone, address, password_hash,
			totp_enabled, totp_verified, is_active, created_at, updated_at
	`

	var account models.Account
	err = pool.QueryRow(ctx, query,
		uuid.New().String(), "St. Mary's General", email, phone, "400 Medical Plaza Drive", hashedPassword,
	).Scan(
		&account.ID,
		&account.HospitalName,
		&account.Email,
		&account.Phone,
		&account.Address,
		&account.PasswordHash,
		&account.TotpEnabled,
		&account.TotpVerified,
		&account.IsActive,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	return &account, nil
}

// SeedEnrolledAccount upgrades a seeded account to enabled+verified TOTP
// with the given encrypted secret.
func SeedEnrolledAccount(ctx context.Context, pool *pgxpool.Pool, accountID, encryptedSecret string) error {
	query := `
		UPDATE accounts SET
			totp_enabled = TRUE,
			totp_verified = TRUE,
			totp_secret_encrypted = $2,
			totp_setup_at = NOW(),
			totp_secret_version = 1,
			totp_issuer = 'Chartlock',
			updated_at = NOW()
		WHERE id = $1
	`
	if _, err := pool.Exec(ctx, query, accountID, encryptedSecret); err != nil {
		return fmt.Errorf("failed to enroll account: %w", err)
	}
	return nil
}

// SeedBackupCode inserts one unused backup code hash for an account.
func SeedBackupCode(ctx context.Context, pool *pgxpool.Pool, accountID, codeHash string) error {
	query := `
		INSERT INTO backup_codes (id, account_id, code_hash, is_used)
		VALUES ($1, $2, $3, FALSE)
	`
	if _, err := pool.Exec(ctx, query, uuid.New().String(), accountID, codeHash); err != nil {
		return fmt.Errorf("failed to insert backup code: %w", err)
	}
	return nil
}

// CountSessions returns the number of live session rows for an account.
func CountSessions(ctx context.Context, pool *pgxpool.Pool, accountID string) (int, error) {
	var count int
	err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE account_id = $1`, accountID,
	).Scan(&count)
	return count, err
}
