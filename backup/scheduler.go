package backup

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultInterval is how often the unattended auto backup runs.
const DefaultInterval = 5 * time.Minute

// Scheduler runs auto backups on a fixed interval, independent of request
// traffic. Snapshot reads are bounded by the storage busy timeout, so a
// long-running mutation can delay a capture but never stall it forever.
type Scheduler struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.SugaredLogger

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewScheduler creates an auto-backup scheduler. A non-positive interval
// falls back to the default.
func NewScheduler(manager *Manager, interval time.Duration, logger *zap.SugaredLogger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		manager:  manager,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the interval schedule. Idempotent while running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every "+s.interval.String(), s.runOnce)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.running = true

	s.logger.Infow("Auto backup scheduler started", "interval", s.interval)
	return nil
}

// Stop halts the schedule and waits for any in-flight backup to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false

	s.logger.Info("Auto backup scheduler stopped")
}

func (s *Scheduler) runOnce() {
	// One interval is the natural upper bound for a capture
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	s.manager.CreateAutoBackup(ctx)
}
