package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/jabook/bookcache/internal/controllers"
)

// Scheduler manages the periodic cache jobs
type Scheduler struct {
	cron     *cron.Cron
	cache    *controllers.CacheController
	interval time.Duration
	logger   *logrus.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(cache *controllers.CacheController, autoUpdateInterval time.Duration, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		cache:    cache,
		interval: autoUpdateInterval,
		logger:   logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler")

	// Auto-update check on the configured interval
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.runAutoUpdate()
	})
	if err != nil {
		return fmt.Errorf("failed to add auto-update job: %w", err)
	}

	// Every hour: sweep stale records
	_, err = s.cron.AddFunc("0 * * * *", func() {
		s.runCleanup()
	})
	if err != nil {
		return fmt.Errorf("failed to add cleanup job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started")

	// Check immediately on startup instead of waiting a full interval
	go s.runAutoUpdate()

	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.cron.Stop()
}

// runAutoUpdate starts a full sync when the cache has gone stale
func (s *Scheduler) runAutoUpdate() {
	settings, err := s.cache.GetCacheSettings()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load settings for auto-update")
		return
	}
	if !settings.AutoUpdateEnabled {
		s.logger.Debug("Auto-update disabled, skipping")
		return
	}

	status := s.cache.GetCacheStatus()
	if status.SyncInProgress {
		s.logger.Debug("Sync already in progress, skipping auto-update")
		return
	}
	if !status.IsStale {
		s.logger.Debug("Cache still fresh, skipping auto-update")
		return
	}

	s.logger.Info("Cache stale, starting scheduled full sync")
	if err := s.cache.StartFullSync(context.Background()); err != nil {
		s.logger.WithError(err).Error("Failed to start scheduled sync")
	}
}

// runCleanup executes the stale-data sweep
func (s *Scheduler) runCleanup() {
	removed, err := s.cache.CleanupStaleData()
	if err != nil {
		s.logger.WithError(err).Error("Cleanup job failed")
		return
	}
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("Cleanup job completed")
	}
}
