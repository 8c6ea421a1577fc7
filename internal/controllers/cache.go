package controllers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jabook/bookcache/internal/metrics"
	"github.com/jabook/bookcache/internal/models"
)

// cleanupBatchSize bounds how many records one cleanup transaction deletes.
const cleanupBatchSize = 100

// CacheController is the façade over the smart search cache: it owns the
// cache lifecycle and delegates sync and search to the dedicated
// controllers.
type CacheController struct {
	db        *models.Database
	search    *SearchController
	sync      *SyncController
	migration *MigrationController
	logger    *logrus.Logger

	mu          sync.Mutex
	initialized bool
	syncCancel  context.CancelFunc
	syncDone    chan struct{}
}

// NewCacheController creates a new cache controller
func NewCacheController(db *models.Database, search *SearchController, syncCtrl *SyncController, migration *MigrationController, logger *logrus.Logger) *CacheController {
	return &CacheController{
		db:        db,
		search:    search,
		sync:      syncCtrl,
		migration: migration,
		logger:    logger,
	}
}

// Initialize bootstraps default settings and kicks off the cache migration.
// Idempotent: repeated calls are no-ops. Migration runs in the background
// and its failure never blocks initialization.
func (c *CacheController) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	settings, err := c.db.GetSettings()
	if err != nil {
		if !models.IsNotFound(err) {
			return fmt.Errorf("failed to load cache settings: %w", err)
		}
		settings = models.DefaultCacheSettings()
		if err := c.db.PutSettings(settings); err != nil {
			return fmt.Errorf("failed to bootstrap cache settings: %w", err)
		}
		c.logger.Info("Created default cache settings")
	} else if settings.SyncInProgress {
		// Leftover flag from a crashed sync
		settings.SyncInProgress = false
		settings.LastSyncProgress = nil
		if err := c.db.PutSettings(settings); err != nil {
			c.logger.WithError(err).Warn("Failed to clear stale sync flag")
		}
	}

	go func() {
		if err := c.migration.Run(); err != nil {
			c.logger.WithError(err).Error("Cache migration failed during initialization")
		}
	}()

	if total, err := c.db.CountAudiobooks(); err == nil {
		metrics.CachedBooks.Set(float64(total))
	}

	c.initialized = true
	c.logger.Info("Cache service initialized")
	return nil
}

// GetCacheSettings returns the persisted settings
func (c *CacheController) GetCacheSettings() (*models.CacheSettings, error) {
	return c.db.GetSettings()
}

// UpdateCacheSettings replaces the user-facing settings, preserving the
// migration marker.
func (c *CacheController) UpdateCacheSettings(settings *models.CacheSettings) error {
	return c.db.UpdateSettings(func(current *models.CacheSettings) bool {
		settings.MigrationVersion = current.MigrationVersion
		*current = *settings
		return true
	})
}

// GetCacheStatus computes a fresh point-in-time view of cache health.
// Store failures degrade to an empty, stale status instead of an error.
func (c *CacheController) GetCacheStatus() *models.CacheStatus {
	status := &models.CacheStatus{IsStale: true}

	total, err := c.db.CountAudiobooks()
	if err != nil {
		c.logger.WithError(err).Error("Failed to count cached records")
		return status
	}
	status.TotalCachedBooks = total
	metrics.CachedBooks.Set(float64(total))

	settings, err := c.db.GetSettings()
	if err != nil {
		if !models.IsNotFound(err) {
			c.logger.WithError(err).Error("Failed to load cache settings")
		}
		return status
	}

	status.SyncInProgress = settings.SyncInProgress
	status.SyncProgress = settings.LastSyncProgress
	status.LastSyncTime = settings.LastUpdateTime

	if settings.LastUpdateTime != nil {
		status.IsStale = time.Since(*settings.LastUpdateTime) > settings.CacheTTL
	}
	return status
}

// StartFullSync launches a full sync in the background. The in-progress flag
// is persisted before launch so status queries reflect it immediately.
// Progress snapshots are persisted into settings best-effort.
func (c *CacheController) StartFullSync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sync.InProgress() {
		c.logger.Info("Full sync already running, not starting another")
		return nil
	}

	err := c.db.UpdateSettings(func(settings *models.CacheSettings) bool {
		settings.SyncInProgress = true
		settings.LastSyncProgress = nil
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to persist sync flag: %w", err)
	}

	// Detach from the caller's context: the sync outlives the request that
	// started it, and is stopped through StopSync.
	syncCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.syncCancel = cancel
	c.syncDone = done

	progressCh, unsubscribe := c.sync.WatchProgress()
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		c.persistProgress(progressCh)
	}()

	go func() {
		defer close(done)

		err := c.sync.SyncAll(syncCtx)
		cancel()

		// Stop the progress writer before finalizing settings, so a lagging
		// snapshot cannot overwrite the cleared sync flag.
		unsubscribe()
		<-progressDone

		if err != nil {
			c.logger.WithError(err).Error("Full sync finished with error")
		}
		c.finishSync(err == nil)
	}()

	return nil
}

// persistProgress mirrors progress snapshots into the settings record.
// Not critical-path: failures are swallowed.
func (c *CacheController) persistProgress(ch <-chan models.SyncProgress) {
	for p := range ch {
		snapshot := p
		err := c.db.UpdateSettings(func(settings *models.CacheSettings) bool {
			settings.LastSyncProgress = &snapshot
			return true
		})
		if err != nil {
			c.logger.WithError(err).Debug("Failed to persist sync progress")
		}
	}
}

// finishSync clears the in-progress bookkeeping and, on success, advances
// the update clock.
func (c *CacheController) finishSync(succeeded bool) {
	err := c.db.UpdateSettings(func(settings *models.CacheSettings) bool {
		settings.SyncInProgress = false
		settings.LastSyncProgress = nil
		if succeeded {
			now := time.Now()
			settings.LastUpdateTime = &now
			if settings.AutoUpdateEnabled {
				next := now.Add(settings.AutoUpdateInterval)
				settings.NextUpdateTime = &next
			}
		}
		return true
	})
	if err != nil {
		c.logger.WithError(err).Error("Failed to persist settings after sync")
	}
}

// StopSync cancels a running background sync, if any
func (c *CacheController) StopSync() {
	c.mu.Lock()
	cancel := c.syncCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// WaitForSync blocks until the current background sync finishes
func (c *CacheController) WaitForSync() {
	c.mu.Lock()
	done := c.syncDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// SyncForum syncs a single forum synchronously
func (c *CacheController) SyncForum(ctx context.Context, forumID int, forumName string) (int, error) {
	return c.sync.SyncForumTopics(ctx, forumID, forumName)
}

// Search delegates to the search index. Store failures degrade to an empty
// result so callers stay resilient.
func (c *CacheController) Search(ctx context.Context, query string, limit int, categoryFilter string) []*models.CachedAudiobook {
	results, err := c.search.Search(ctx, query, limit, categoryFilter)
	if err != nil {
		c.logger.WithError(err).WithField("query", query).Error("Search failed")
		return nil
	}
	return results
}

// WatchProgress subscribes to sync progress snapshots
func (c *CacheController) WatchProgress() (<-chan models.SyncProgress, func()) {
	return c.sync.WatchProgress()
}

// FindSimilar delegates to the search index's related-title lookup
func (c *CacheController) FindSimilar(topicID string, limit int) ([]*models.CachedAudiobook, error) {
	return c.search.FindSimilar(topicID, limit)
}

// RebuildIndex recomputes the derived search fields on every cached record
func (c *CacheController) RebuildIndex() error {
	return c.search.RebuildIndex()
}

// CleanupStaleData deletes records flagged stale or whose last update is
// missing or older than the cache TTL. Returns the number removed.
func (c *CacheController) CleanupStaleData() (int, error) {
	settings, err := c.db.GetSettings()
	if err != nil {
		if !models.IsNotFound(err) {
			return 0, fmt.Errorf("failed to load settings: %w", err)
		}
		settings = models.DefaultCacheSettings()
	}
	cutoff := time.Now().Add(-settings.CacheTTL)

	recs, err := c.db.AllAudiobooks()
	if err != nil {
		return 0, fmt.Errorf("failed to load records: %w", err)
	}

	var doomed []string
	for _, rec := range recs {
		if rec.IsStale || rec.LastUpdated.IsZero() || rec.LastUpdated.Before(cutoff) {
			doomed = append(doomed, rec.TopicID)
		}
	}

	for start := 0; start < len(doomed); start += cleanupBatchSize {
		end := start + cleanupBatchSize
		if end > len(doomed) {
			end = len(doomed)
		}
		if err := c.db.DeleteBatch(doomed[start:end]); err != nil {
			return start, fmt.Errorf("failed to delete cleanup batch: %w", err)
		}
	}

	c.search.InvalidateQueryCache()
	if total, err := c.db.CountAudiobooks(); err == nil {
		metrics.CachedBooks.Set(float64(total))
	}

	c.logger.WithField("removed", len(doomed)).Info("Stale data cleanup completed")
	return len(doomed), nil
}

// ClearCache deletes every cached record and resets the sync bookkeeping.
// User preferences (TTL, auto-update) survive; the update timestamps do not,
// since an emptied cache has by definition never been synced.
func (c *CacheController) ClearCache() error {
	recs, err := c.db.AllAudiobooks()
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.TopicID
	}
	for start := 0; start < len(ids); start += cleanupBatchSize {
		end := start + cleanupBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := c.db.DeleteBatch(ids[start:end]); err != nil {
			return fmt.Errorf("failed to delete batch: %w", err)
		}
	}

	err = c.db.UpdateSettings(func(settings *models.CacheSettings) bool {
		settings.LastUpdateTime = nil
		settings.NextUpdateTime = nil
		settings.SyncInProgress = false
		settings.LastSyncProgress = nil
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to reset settings: %w", err)
	}

	c.search.InvalidateQueryCache()
	metrics.CachedBooks.Set(0)

	c.logger.WithField("removed", len(ids)).Info("Cache cleared")
	return nil
}
