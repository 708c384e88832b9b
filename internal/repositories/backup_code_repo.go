package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/chartlock/chartlock/internal/database"
	"github.com/chartlock/chartlock/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type BackupCodeRepository struct {
	db *database.DB
}

func NewBackupCodeRepository(db *database.DB) *BackupCodeRepository {
	return &BackupCodeRepository{db: db}
}

// replaceBackupCodesTx deletes every code for the account and inserts the
// new set. Codes never survive a secret change, so this is the only way
// codes are ever written. Shared with the account repository's composite
// TOTP operations, which run it inside their own transactions.
func replaceBackupCodesTx(ctx context.Context, tx pgx.Tx, accountID string, codeHashes []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, accountID); err != nil {
		return database.MapPostgresError(err)
	}

	now := time.Now()
	for _, hash := range codeHashes {
		_, err := tx.Exec(ctx, `
			INSERT INTO backup_codes (id, account_id, code_hash, is_used, created_at)
			VALUES ($1, $2, $3, FALSE, $4)`,
			uuid.New().String(), accountID, hash, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert backup code: %w", database.MapPostgresError(err))
		}
	}
	return nil
}

// ReplaceAll swaps the account's full code set in its own transaction.
func (r *BackupCodeRepository) ReplaceAll(ctx context.Context, accountID string, codeHashes []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return replaceBackupCodesTx(ctx, tx, accountID, codeHashes)
	})
}

// ListUnused returns the account's unconsumed codes.
func (r *BackupCodeRepository) ListUnused(ctx context.Context, accountID string) ([]*models.BackupCode, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, account_id, code_hash, is_used, used_at, created_at
		FROM backup_codes
		WHERE account_id = $1 AND is_used = FALSE
		ORDER BY created_at`, accountID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	codes := make([]*models.BackupCode, 0)
	for rows.Next() {
		var c models.BackupCode
		if err := rows.Scan(&c.ID, &c.AccountID, &c.CodeHash, &c.IsUsed, &c.UsedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup code: %w", err)
		}
		codes = append(codes, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backup codes: %w", err)
	}

	return codes, nil
}

// MarkUsed consumes a single code. The is_used guard in the WHERE clause
// makes consumption atomic: of two concurrent logins spending the same
// code, exactly one sees a row update and the other gets ErrNotFound.
func (r *BackupCodeRepository) MarkUsed(ctx context.Context, id string) error {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE backup_codes SET is_used = TRUE, used_at = $2
		WHERE id = $1 AND is_used = FALSE`, id, time.Now())
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountUnused reports how many recovery codes the account has left.
func (r *BackupCodeRepository) CountUnused(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM backup_codes
		WHERE account_id = $1 AND is_used = FALSE`, accountID).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}
