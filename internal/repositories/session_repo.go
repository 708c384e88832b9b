package repositories

import (
	"context"
	"time"

	"github.com/chartlock/chartlock/internal/database"
	"github.com/chartlock/chartlock/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `
	id, account_id, refresh_token_hash, device_id, ip_address, user_agent,
	created_at, expires_at`

type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session
	err := scanner.Scan(
		&s.ID, &s.AccountID, &s.RefreshTokenHash, &s.DeviceID, &s.IPAddress, &s.UserAgent,
		&s.CreatedAt, &s.ExpiresAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	session.ID = uuid.New().String()
	session.CreatedAt = time.Now()

	query := `
		INSERT INTO sessions (
			id, account_id, refresh_token_hash, device_id, ip_address, user_agent,
			created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + sessionColumns

	return scanSessionRow(r.db.Pool.QueryRow(ctx, query,
		session.ID, session.AccountID, session.RefreshTokenHash, session.DeviceID,
		session.IPAddress, session.UserAgent, session.CreatedAt, session.ExpiresAt,
	))
}

// GetByTokenHash is the liveness check for a refresh token: no row, no
// session, regardless of the token's cryptographic validity.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_hash = $1`
	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// Rotate replaces the old session row with a new one in a single
// transaction. The delete's rows-affected guard doubles as a reuse check:
// if another request already rotated this token, ErrNotFound comes back
// and no second session is created.
func (r *SessionRepository) Rotate(ctx context.Context, oldTokenHash string, next *models.Session) (*models.Session, error) {
	next.ID = uuid.New().String()
	next.CreatedAt = time.Now()

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `DELETE FROM sessions WHERE refresh_token_hash = $1`, oldTokenHash)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO sessions (
				id, account_id, refresh_token_hash, device_id, ip_address, user_agent,
				created_at, expires_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			next.ID, next.AccountID, next.RefreshTokenHash, next.DeviceID,
			next.IPAddress, next.UserAgent, next.CreatedAt, next.ExpiresAt,
		)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return nil, err
	}

	return next, nil
}

// DeleteByTokenHash invalidates one session (logout).
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE refresh_token_hash = $1`, tokenHash)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteByAccount invalidates every session for an account (deactivation).
func (r *SessionRepository) DeleteByAccount(ctx context.Context, accountID string) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired reclaims sessions past their expiry.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, time.Now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
