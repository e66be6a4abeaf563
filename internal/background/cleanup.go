package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TokenCleaner deletes revoked-token rows whose token has expired anyway.
type TokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// LimiterPruner drops limiter keys with no attempts left in the window.
type LimiterPruner interface {
	Prune() int
}

// CleanupManager periodically removes expired revoked tokens and idle login
// limiter keys.
type CleanupManager struct {
	revokeRepo TokenCleaner
	limiter    LimiterPruner
	logger     *slog.Logger
	interval   time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewCleanupManager(revokeRepo TokenCleaner, limiter LimiterPruner, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		revokeRepo: revokeRepo,
		limiter:    limiter,
		logger:     logger,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start runs a cleanup pass immediately and then on every interval until
// Stop is called or ctx is done.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	if cm.limiter != nil {
		if pruned := cm.limiter.Prune(); pruned > 0 {
			cm.logger.Info("pruned idle login limiter keys", slog.Int("keys", pruned))
		}
	}

	if cm.revokeRepo == nil {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsDeleted, err := cm.revokeRepo.CleanupExpiredTokens(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup expired tokens", slog.String("error", err.Error()))
		return
	}
	if rowsDeleted > 0 {
		cm.logger.Info("expired token cleanup completed", slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals Start to return. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
