package worker

import (
	"context"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
	"github.com/3Eeeecho/go-cloudvault/internal/models"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/storage"
	"github.com/3Eeeecho/go-cloudvault/internal/repositories"
	"go.uber.org/zap"
)

// sweepBatchSize caps how many sessions one pass touches per query.
const sweepBatchSize = 100

// Sweeper periodically reclaims expired sessions and prunes terminal
// session records past the retention window, freeing their staged chunks.
// Each session is handled independently so one bad row never stops a pass.
type Sweeper struct {
	sessions repositories.UploadSessionRepository
	local    storage.Service
	cfg      *config.UploadConfig
}

func NewSweeper(sessions repositories.UploadSessionRepository, local storage.Service, cfg *config.UploadConfig) *Sweeper {
	return &Sweeper{sessions: sessions, local: local, cfg: cfg}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	logger.Info("Session sweeper started", zap.Duration("interval", s.cfg.SweepInterval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("Session sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reclaim pass and one retention pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	reclaimed := s.reclaimExpired(ctx)
	pruned := s.pruneTerminal(ctx)
	if reclaimed > 0 || pruned > 0 {
		logger.Info("Sweep pass finished",
			zap.Int("expired_reclaimed", reclaimed), zap.Int("terminal_pruned", pruned))
	}
}

// reclaimExpired cancels every non-terminal session past its deadline and
// removes its staged chunks.
func (s *Sweeper) reclaimExpired(ctx context.Context) int {
	reclaimed := 0
	for {
		expired, err := s.sessions.FindExpired(ctx, time.Now(), sweepBatchSize)
		if err != nil {
			logger.Error("Failed to query expired sessions", zap.Error(err))
			return reclaimed
		}
		if len(expired) == 0 {
			return reclaimed
		}
		for i := range expired {
			if s.reclaimOne(ctx, &expired[i]) {
				reclaimed++
			}
		}
		if len(expired) < sweepBatchSize {
			return reclaimed
		}
	}
}

func (s *Sweeper) reclaimOne(ctx context.Context, session *models.UploadSession) bool {
	cancelled, err := s.sessions.CancelExpired(ctx, session.ID)
	if err != nil {
		logger.Error("Failed to reclaim expired session", zap.String("session_id", session.ID), zap.Error(err))
		return false
	}
	if !cancelled {
		// Completed or cancelled between the query and the lock.
		return false
	}
	if err := s.local.RemovePrefix(ctx, session.StagingPath); err != nil {
		logger.Warn("Failed to remove staging of expired session",
			zap.String("session_id", session.ID), zap.Error(err))
	}
	logger.Info("Expired session reclaimed", zap.String("session_id", session.ID))
	return true
}

// pruneTerminal deletes terminal session records older than the retention
// window along with any staging leftovers.
func (s *Sweeper) pruneTerminal(ctx context.Context) int {
	cutoff := time.Now().Add(-s.cfg.SessionRetention)
	pruned := 0
	for {
		deleted, err := s.sessions.DeleteTerminalBefore(ctx, cutoff, sweepBatchSize)
		if err != nil {
			logger.Error("Failed to prune terminal sessions", zap.Error(err))
			return pruned
		}
		if len(deleted) == 0 {
			return pruned
		}
		for i := range deleted {
			if err := s.local.RemovePrefix(ctx, deleted[i].StagingPath); err != nil {
				logger.Warn("Failed to remove staging of pruned session",
					zap.String("session_id", deleted[i].ID), zap.Error(err))
			}
		}
		pruned += len(deleted)
		if len(deleted) < sweepBatchSize {
			return pruned
		}
	}
}
