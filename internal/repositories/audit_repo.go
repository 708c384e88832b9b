package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chartlock/chartlock/internal/database"
	"github.com/chartlock/chartlock/internal/models"
	"github.com/google/uuid"
)

// AuditEventRepository appends to the audit_events table. Rows are never
// updated or deleted by the application.
type AuditEventRepository struct {
	db *database.DB
}

func NewAuditEventRepository(db *database.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

func (r *AuditEventRepository) Create(ctx context.Context, event *models.AuditEvent) error {
	event.ID = uuid.New().String()
	event.CreatedAt = time.Now()

	details := []byte("{}")
	if event.Details != nil {
		encoded, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = encoded
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO audit_events (id, account_id, action, outcome, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.AccountID, event.Action, event.Outcome,
		event.IPAddress, event.UserAgent, details, event.CreatedAt,
	)
	return database.MapPostgresError(err)
}
