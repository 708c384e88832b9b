package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartlock/chartlock/internal/models"
)

func TestAuditEventPersistsForKnownActor(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	email, phone, password := TestHospital("audit")
	account, err := SeedAccount(ctx, testDB.Pool, email, phone, password)
	require.NoError(t, err)

	_, _, _, _, auditRepo := InitializeRepositories(testDB.DB)

	event := &models.AuditEvent{
		AccountID: &account.ID,
		Action:    models.AuditActionLogin,
		Outcome:   models.AuditOutcomeSuccess,
		IPAddress: "203.0.113.9",
		UserAgent: "integration-test",
		Details:   map[string]any{"method": "password"},
	}
	require.NoError(t, auditRepo.Create(ctx, event))

	var storedAccountID *string
	err = testDB.Pool.QueryRow(ctx,
		`SELECT account_id FROM audit_events WHERE id = $1`, event.ID).Scan(&storedAccountID)
	require.NoError(t, err)
	require.NotNil(t, storedAccountID)
	assert.Equal(t, account.ID, *storedAccountID)
}

// Failed logins against unknown emails are audited without an actor, so
// the account_id column has to take NULL.
func TestAuditEventPersistsWithoutActor(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	_, _, _, _, auditRepo := InitializeRepositories(testDB.DB)

	event := &models.AuditEvent{
		Action:    models.AuditActionLogin,
		Outcome:   models.AuditOutcomeFailure,
		IPAddress: "203.0.113.9",
		UserAgent: "integration-test",
	}
	require.NoError(t, auditRepo.Create(ctx, event))

	var storedAccountID *string
	err := testDB.Pool.QueryRow(ctx,
		`SELECT account_id FROM audit_events WHERE id = $1`, event.ID).Scan(&storedAccountID)
	require.NoError(t, err)
	assert.Nil(t, storedAccountID)
}
