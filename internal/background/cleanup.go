package background

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredSessionDeleter removes sessions whose refresh token lifetime has
// lapsed.
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// ExpiredRegistrationDeleter removes pending registrations whose
// verification window has lapsed.
type ExpiredRegistrationDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupManager periodically reclaims expired sessions and pending
// registrations. Expiry is also enforced at read time, so the sweep is
// purely storage hygiene; skipping a run never extends a credential's
// life.
type CleanupManager struct {
	sessions      ExpiredSessionDeleter
	registrations ExpiredRegistrationDeleter
	logger        *slog.Logger
	interval      time.Duration
	stopCh        chan struct{}
}

func NewCleanupManager(
	sessions ExpiredSessionDeleter,
	registrations ExpiredRegistrationDeleter,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sessions:      sessions,
		registrations: registrations,
		logger:        logger,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
// Runs once immediately on startup.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runSweep(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sessions, err := cm.sessions.DeleteExpired(sweepCtx)
	if err != nil {
		cm.logger.Error("failed to sweep expired sessions", slog.Any("error", err))
	}

	registrations, err := cm.registrations.DeleteExpired(sweepCtx)
	if err != nil {
		cm.logger.Error("failed to sweep expired registrations", slog.Any("error", err))
	}

	if sessions > 0 || registrations > 0 {
		cm.logger.Info("expiry sweep completed",
			slog.Int64("sessions_deleted", sessions),
			slog.Int64("registrations_deleted", registrations))
	}
}

// Stop signals the sweep loop to exit.
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
