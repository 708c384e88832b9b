package repositories

import (
	"context"
	"time"

	"github.com/chartlock/chartlock/internal/database"
	"github.com/chartlock/chartlock/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `
	id, hospital_name, email, phone, address, password_hash,
	failed_login_attempts, lock_until,
	totp_enabled, totp_verified, totp_secret_encrypted, totp_pending_secret,
	totp_setup_at, totp_last_used_at, totp_failed_attempts, totp_locked_until,
	totp_secret_version, totp_issuer,
	is_active, created_at, updated_at`

type AccountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var a models.Account
	err := scanner.Scan(
		&a.ID, &a.HospitalName, &a.Email, &a.Phone, &a.Address, &a.PasswordHash,
		&a.FailedLoginAttempts, &a.LockUntil,
		&a.TotpEnabled, &a.TotpVerified, &a.TotpSecretEncrypted, &a.TotpPendingSecret,
		&a.TotpSetupAt, &a.TotpLastUsedAt, &a.TotpFailedAttempts, &a.TotpLockedUntil,
		&a.TotpSecretVersion, &a.TotpIssuer,
		&a.IsActive, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, email))
}

// ExistsByEmailOrPhone reports whether an account already claims either
// identity field. Used for the defensive re-check during registration
// verification as well as the initial registration check.
func (r *AccountRepository) ExistsByEmailOrPhone(ctx context.Context, email, phone string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1 OR phone = $2)`
	if err := r.db.Pool.QueryRow(ctx, query, email, phone).Scan(&exists); err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	account.ID = uuid.New().String()

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
		INSERT INTO accounts (
			id, hospital_name, email, phone, address, password_hash,
			totp_enabled, totp_verified, totp_secret_encrypted,
			totp_setup_at, totp_secret_version, totp_issuer,
			is_active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING ` + accountColumns

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query,
		account.ID, account.HospitalName, account.Email, account.Phone, account.Address,
		account.PasswordHash,
		account.TotpEnabled, account.TotpVerified, account.TotpSecretEncrypted,
		account.TotpSetupAt, account.TotpSecretVersion, account.TotpIssuer,
		account.IsActive, account.CreatedAt, account.UpdatedAt,
	))
}

// UpdateProfile changes the mutable identity fields only.
func (r *AccountRepository) UpdateProfile(ctx context.Context, id, hospitalName, address string) (*models.Account, error) {
	query := `
		UPDATE accounts SET hospital_name = $1, address = $2, updated_at = $3
		WHERE id = $4
		RETURNING ` + accountColumns

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, hospitalName, address, time.Now(), id))
}

// RecordLoginFailure atomically bumps the password failure counter and,
// when the configured maximum is reached, arms the lock. An already
// expired lock is cleared and the count restarts at one. Atomicity
// matters: two concurrent failures must both be counted.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	now := time.Now()
	query := `
		UPDATE accounts SET
			failed_login_attempts = CASE
				WHEN lock_until IS NOT NULL AND lock_until <= $2 THEN 1
				ELSE failed_login_attempts + 1 END,
			lock_until = CASE
				WHEN (CASE
					WHEN lock_until IS NOT NULL AND lock_until <= $2 THEN 1
					ELSE failed_login_attempts + 1 END) >= $3 THEN $4
				WHEN lock_until IS NOT NULL AND lock_until <= $2 THEN NULL
				ELSE lock_until END,
			updated_at = $2
		WHERE id = $1
		RETURNING failed_login_attempts, lock_until`

	var attempts int
	var lockedUntil *time.Time
	err := r.db.Pool.QueryRow(ctx, query, id, now, maxAttempts, lockUntil).Scan(&attempts, &lockedUntil)
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}
	return attempts, lockedUntil, nil
}

// ResetLoginFailures zeroes the password failure counter and clears the lock.
func (r *AccountRepository) ResetLoginFailures(ctx context.Context, id string) error {
	query := `
		UPDATE accounts SET failed_login_attempts = 0, lock_until = NULL, updated_at = $2
		WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RecordTotpFailure is the TOTP sibling of RecordLoginFailure, against the
// independent totp_* counters.
func (r *AccountRepository) RecordTotpFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	now := time.Now()
	query := `
		UPDATE accounts SET
			totp_failed_attempts = CASE
				WHEN totp_locked_until IS NOT NULL AND totp_locked_until <= $2 THEN 1
				ELSE totp_failed_attempts + 1 END,
			totp_locked_until = CASE
				WHEN (CASE
					WHEN totp_locked_until IS NOT NULL AND totp_locked_until <= $2 THEN 1
					ELSE totp_failed_attempts + 1 END) >= $3 THEN $4
				WHEN totp_locked_until IS NOT NULL AND totp_locked_until <= $2 THEN NULL
				ELSE totp_locked_until END,
			updated_at = $2
		WHERE id = $1
		RETURNING totp_failed_attempts, totp_locked_until`

	var attempts int
	var lockedUntil *time.Time
	err := r.db.Pool.QueryRow(ctx, query, id, now, maxAttempts, lockUntil).Scan(&attempts, &lockedUntil)
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}
	return attempts, lockedUntil, nil
}

// ResetTotpFailures zeroes the TOTP failure counter, clears the lock, and
// stamps totp_last_used_at. Called after any successful TOTP or
// backup-code authentication.
func (r *AccountRepository) ResetTotpFailures(ctx context.Context, id string) error {
	query := `
		UPDATE accounts SET
			totp_failed_attempts = 0, totp_locked_until = NULL,
			totp_last_used_at = $2, updated_at = $2
		WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// StoreSetupSecret records a freshly generated, not yet confirmed secret
// for an account setting up 2FA.
func (r *AccountRepository) StoreSetupSecret(ctx context.Context, id, encryptedSecret, issuer string) error {
	query := `
		UPDATE accounts SET
			totp_secret_encrypted = $2, totp_pending_secret = NULL,
			totp_enabled = FALSE, totp_verified = FALSE,
			totp_issuer = $3, updated_at = $4
		WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id, encryptedSecret, issuer, time.Now())
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkTotpVerified flips the account to enabled+verified once the first
// strict code check passes, writing the initial backup code set in the
// same transaction.
func (r *AccountRepository) MarkTotpVerified(ctx context.Context, id string, codeHashes []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		now := time.Now()
		query := `
			UPDATE accounts SET
				totp_enabled = TRUE, totp_verified = TRUE,
				totp_setup_at = $2, totp_failed_attempts = 0, totp_locked_until = NULL,
				updated_at = $2
			WHERE id = $1 AND totp_secret_encrypted IS NOT NULL`

		result, err := tx.Exec(ctx, query, id, now)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrSetupNotInitiated
		}

		return replaceBackupCodesTx(ctx, tx, id, codeHashes)
	})
}

// StorePendingSecret stashes a rotation candidate without touching the
// active secret, so the account stays protected until the new secret is
// confirmed.
func (r *AccountRepository) StorePendingSecret(ctx context.Context, id, encryptedSecret string) error {
	query := `
		UPDATE accounts SET totp_pending_secret = $2, updated_at = $3
		WHERE id = $1 AND totp_enabled AND totp_verified`

	result, err := r.db.Pool.Exec(ctx, query, id, encryptedSecret, time.Now())
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// PromotePendingSecret promotes the pending secret to active, clears the
// pending slot, bumps the secret version, and regenerates the backup code
// set, all in one transaction so pre-rotation codes can never be used with
// the new secret. The WHERE guard makes concurrent double-promotion
// impossible; the second caller gets ErrRotationNotPending.
func (r *AccountRepository) PromotePendingSecret(ctx context.Context, id string, codeHashes []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		now := time.Now()
		query := `
			UPDATE accounts SET
				totp_secret_encrypted = totp_pending_secret,
				totp_pending_secret = NULL,
				totp_secret_version = totp_secret_version + 1,
				totp_setup_at = $2, totp_failed_attempts = 0, totp_locked_until = NULL,
				updated_at = $2
			WHERE id = $1 AND totp_pending_secret IS NOT NULL`

		result, err := tx.Exec(ctx, query, id, now)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrRotationNotPending
		}

		return replaceBackupCodesTx(ctx, tx, id, codeHashes)
	})
}

// ClearPendingSecret abandons an in-flight rotation.
func (r *AccountRepository) ClearPendingSecret(ctx context.Context, id string) error {
	query := `UPDATE accounts SET totp_pending_secret = NULL, updated_at = $2 WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DisableTotp wipes all TOTP state in one transaction: active and pending
// secrets, flags, counters, and every backup code.
func (r *AccountRepository) DisableTotp(ctx context.Context, id string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE accounts SET
				totp_enabled = FALSE, totp_verified = FALSE,
				totp_secret_encrypted = NULL, totp_pending_secret = NULL,
				totp_setup_at = NULL, totp_last_used_at = NULL,
				totp_failed_attempts = 0, totp_locked_until = NULL,
				updated_at = $2
			WHERE id = $1`

		result, err := tx.Exec(ctx, query, id, time.Now())
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		_, err = tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, id)
		return database.MapPostgresError(err)
	})
}
