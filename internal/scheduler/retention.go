package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/graphsnap/graphsnap/internal/config"
	"github.com/graphsnap/graphsnap/internal/store"
)

// RetentionScheduler runs the store's retention sweep on a fixed recurring
// schedule, independent of any caller.
type RetentionScheduler struct {
	service  *store.Service
	cfg      config.RetentionConfig
	logger   *slog.Logger
	stopChan chan struct{}
}

// NewRetentionScheduler creates a retention scheduler.
func NewRetentionScheduler(service *store.Service, cfg config.RetentionConfig, logger *slog.Logger) *RetentionScheduler {
	return &RetentionScheduler{
		service:  service,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduler loop. It runs one sweep immediately, then on
// every tick until stopped or the context is cancelled.
func (s *RetentionScheduler) Start(ctx context.Context) {
	s.logger.Info("starting retention scheduler",
		"window", s.cfg.Window,
		"interval", s.cfg.SweepInterval,
	)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			s.logger.Info("retention scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("retention scheduler stopping due to context cancellation")
			return
		}
	}
}

// Stop stops the scheduler.
func (s *RetentionScheduler) Stop() {
	close(s.stopChan)
}

func (s *RetentionScheduler) sweep(ctx context.Context) {
	deleted, err := s.service.Sweep(ctx, s.cfg.Window)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("retention sweep completed", "deleted", deleted)
	}
}
