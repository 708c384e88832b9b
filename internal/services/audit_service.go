package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/chartlock/chartlock/internal/models"
	pkglogger "github.com/chartlock/chartlock/pkg/logger"
)

// AuditEventRepository is the persistence half of the audit sink.
type AuditEventRepository interface {
	Create(ctx context.Context, event *models.AuditEvent) error
}

// AuditService is a fire-and-forget sink: recording an event never blocks
// the primary operation and never fails it. Events are written to the
// append-only audit_events table and mirrored as structured log lines.
type AuditService struct {
	repo        AuditEventRepository
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

func NewAuditService(repo AuditEventRepository, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:        repo,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// RequestMeta carries the caller context every audit event records.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Record emits an audit event. accountID may be empty when the actor could
// not be resolved. The database write happens on its own goroutine with
// its own timeout, detached from the request context so a cancelled
// request still leaves a trail.
func (s *AuditService) Record(action, outcome, accountID string, meta RequestMeta, details map[string]any) {
	event := &models.AuditEvent{
		Action:    action,
		Outcome:   outcome,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   details,
	}
	if accountID != "" {
		event.AccountID = &accountID
	}

	s.auditLogger.LogAuthEvent(pkglogger.AuditEvent{
		Action:    action,
		Outcome:   outcome,
		AccountID: accountID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.repo.Create(ctx, event); err != nil {
			s.logger.Error("failed to persist audit event",
				slog.String("action", action),
				slog.Any("error", err))
		}
	}()
}
