package repositories

import (
	"context"
	"time"

	"github.com/chartlock/chartlock/internal/database"
	"github.com/chartlock/chartlock/internal/models"
	"github.com/google/uuid"
)

const registrationColumns = `
	id, hospital_name, email, phone, address, password_hash,
	totp_secret_encrypted, created_at, expires_at`

type PendingRegistrationRepository struct {
	db *database.DB
}

func NewPendingRegistrationRepository(db *database.DB) *PendingRegistrationRepository {
	return &PendingRegistrationRepository{db: db}
}

func scanRegistrationRow(scanner rowScanner) (*models.PendingRegistration, error) {
	var p models.PendingRegistration
	err := scanner.Scan(
		&p.ID, &p.HospitalName, &p.Email, &p.Phone, &p.Address, &p.PasswordHash,
		&p.TotpSecretEncrypted, &p.CreatedAt, &p.ExpiresAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &p, nil
}

func (r *PendingRegistrationRepository) Create(ctx context.Context, reg *models.PendingRegistration) (*models.PendingRegistration, error) {
	reg.ID = uuid.New().String()
	reg.CreatedAt = time.Now()

	query := `
		INSERT INTO pending_registrations (
			id, hospital_name, email, phone, address, password_hash,
			totp_secret_encrypted, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + registrationColumns

	return scanRegistrationRow(r.db.Pool.QueryRow(ctx, query,
		reg.ID, reg.HospitalName, reg.Email, reg.Phone, reg.Address, reg.PasswordHash,
		reg.TotpSecretEncrypted, reg.CreatedAt, reg.ExpiresAt,
	))
}

// GetByID returns a pending registration regardless of expiry; the service
// layer decides how expiry surfaces to the caller.
func (r *PendingRegistrationRepository) GetByID(ctx context.Context, id string) (*models.PendingRegistration, error) {
	query := `SELECT ` + registrationColumns + ` FROM pending_registrations WHERE id = $1`
	return scanRegistrationRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *PendingRegistrationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM pending_registrations WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteExpired reclaims lapsed registrations. Correctness does not depend
// on this; expiry is always checked at read time.
func (r *PendingRegistrationRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Pool.Exec(ctx,
		`DELETE FROM pending_registrations WHERE expires_at <= $1`, time.Now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
