package controllers

import (
	"context"
	"testing"
	"time"

	"github.com/jabook/bookcache/internal/models"
	"github.com/jabook/bookcache/internal/services/tracker"
)

func newCacheFixture(t *testing.T) (*CacheController, *fakeTracker, *models.Database) {
	t.Helper()
	db := newTestDB(t)
	fake := &fakeTracker{
		listings: make(map[string]*tracker.TopicPage),
		details:  make(map[string]*tracker.TopicDetails),
	}
	logger := newTestLogger()
	search := NewSearchController(db, logger)
	syncCtrl := NewSyncController(db, fake, fake, search, testConfig(), logger)
	migration := NewMigrationController(db, search, logger)
	cache := NewCacheController(db, search, syncCtrl, migration, logger)
	return cache, fake, db
}

func TestInitializeBootstrapsDefaults(t *testing.T) {
	cache, _, db := newCacheFixture(t)

	if err := cache.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := cache.Initialize(); err != nil {
		t.Fatalf("Second Initialize failed: %v", err)
	}

	settings, err := db.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if settings.CacheTTL != 24*time.Hour {
		t.Errorf("CacheTTL = %v, expected 24h default", settings.CacheTTL)
	}
	if !settings.AutoUpdateEnabled {
		t.Error("AutoUpdateEnabled should default to true")
	}
}

func TestInitializeClearsCrashedSyncFlag(t *testing.T) {
	cache, _, db := newCacheFixture(t)

	settings := models.DefaultCacheSettings()
	settings.SyncInProgress = true
	settings.LastSyncProgress = &models.SyncProgress{TotalForums: 3}
	if err := db.PutSettings(settings); err != nil {
		t.Fatalf("PutSettings failed: %v", err)
	}

	if err := cache.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	status := cache.GetCacheStatus()
	if status.SyncInProgress {
		t.Error("SyncInProgress flag should be cleared on startup")
	}
	if status.SyncProgress != nil {
		t.Error("Stale sync progress should be cleared on startup")
	}
}

func TestGetCacheStatusStaleness(t *testing.T) {
	cache, _, db := newCacheFixture(t)

	old := time.Now().Add(-25 * time.Hour)
	settings := models.DefaultCacheSettings()
	settings.LastUpdateTime = &old
	if err := db.PutSettings(settings); err != nil {
		t.Fatalf("PutSettings failed: %v", err)
	}

	if status := cache.GetCacheStatus(); !status.IsStale {
		t.Error("Cache updated 25h ago with 24h TTL should be stale")
	}

	recent := time.Now().Add(-1 * time.Hour)
	settings.LastUpdateTime = &recent
	if err := db.PutSettings(settings); err != nil {
		t.Fatalf("PutSettings failed: %v", err)
	}

	if status := cache.GetCacheStatus(); status.IsStale {
		t.Error("Cache updated 1h ago with 24h TTL should be fresh")
	}
}

func TestGetCacheStatusEmptyCache(t *testing.T) {
	cache, _, _ := newCacheFixture(t)

	status := cache.GetCacheStatus()
	if status.TotalCachedBooks != 0 {
		t.Errorf("TotalCachedBooks = %d, expected 0", status.TotalCachedBooks)
	}
	if !status.IsStale {
		t.Error("A never-synced cache must report stale")
	}
}

func TestUpdateCacheSettingsPreservesMigrationMarker(t *testing.T) {
	cache, _, db := newCacheFixture(t)

	settings := models.DefaultCacheSettings()
	settings.MigrationVersion = CurrentMigrationVersion
	if err := db.PutSettings(settings); err != nil {
		t.Fatalf("PutSettings failed: %v", err)
	}

	updated := models.DefaultCacheSettings()
	updated.CacheTTL = 48 * time.Hour
	if err := cache.UpdateCacheSettings(updated); err != nil {
		t.Fatalf("UpdateCacheSettings failed: %v", err)
	}

	stored, err := db.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if stored.CacheTTL != 48*time.Hour {
		t.Errorf("CacheTTL = %v, expected 48h", stored.CacheTTL)
	}
	if stored.MigrationVersion != CurrentMigrationVersion {
		t.Errorf("MigrationVersion = %d, marker must survive settings updates", stored.MigrationVersion)
	}
}

func TestStartFullSyncLifecycle(t *testing.T) {
	cache, fake, db := newCacheFixture(t)
	fake.categories = nil

	if err := cache.StartFullSync(context.Background()); err != nil {
		t.Fatalf("StartFullSync failed: %v", err)
	}
	cache.WaitForSync()

	settings, err := db.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if settings.SyncInProgress {
		t.Error("SyncInProgress still set after sync finished")
	}
	if settings.LastUpdateTime == nil {
		t.Error("LastUpdateTime not set after successful sync")
	}
	if settings.NextUpdateTime == nil {
		t.Error("NextUpdateTime not scheduled with auto-update enabled")
	}
}

func TestCleanupStaleData(t *testing.T) {
	cache, _, db := newCacheFixture(t)

	settings := models.DefaultCacheSettings()
	settings.CacheTTL = time.Hour
	if err := db.PutSettings(settings); err != nil {
		t.Fatalf("PutSettings failed: %v", err)
	}

	fresh := makeBook("fresh", "Свежая книга", "Автор")
	fresh.LastUpdated = time.Now().Add(-30 * time.Minute)

	aged := makeBook("aged", "Старая книга", "Автор")
	aged.LastUpdated = time.Now().Add(-2 * time.Hour)

	never := makeBook("never", "Книга без даты", "Автор")
	never.LastUpdated = time.Time{}

	flagged := makeBook("flagged", "Помеченная книга", "Автор")
	flagged.IsStale = true

	for _, rec := range []*models.CachedAudiobook{fresh, aged, never, flagged} {
		if err := db.UpsertAudiobook(rec); err != nil {
			t.Fatalf("UpsertAudiobook failed: %v", err)
		}
	}

	removed, err := cache.CleanupStaleData()
	if err != nil {
		t.Fatalf("CleanupStaleData failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Removed = %d, expected 3", removed)
	}

	total, err := db.CountAudiobooks()
	if err != nil {
		t.Fatalf("CountAudiobooks failed: %v", err)
	}
	if total != 1 {
		t.Errorf("Remaining = %d, expected only the fresh record", total)
	}
	if _, err := db.GetAudiobook("fresh"); err != nil {
		t.Errorf("Fresh record should survive cleanup: %v", err)
	}
}

func TestClearCache(t *testing.T) {
	cache, _, db := newCacheFixture(t)

	now := time.Now()
	settings := models.DefaultCacheSettings()
	settings.CacheTTL = 48 * time.Hour
	settings.AutoUpdateEnabled = false
	settings.LastUpdateTime = &now
	settings.NextUpdateTime = &now
	if err := db.PutSettings(settings); err != nil {
		t.Fatalf("PutSettings failed: %v", err)
	}

	for i, id := range []string{"1", "2", "3"} {
		rec := makeBook(id, "Книга", "Автор")
		rec.ForumID = i
		if err := db.UpsertAudiobook(rec); err != nil {
			t.Fatalf("UpsertAudiobook failed: %v", err)
		}
	}

	if err := cache.ClearCache(); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}

	total, err := db.CountAudiobooks()
	if err != nil {
		t.Fatalf("CountAudiobooks failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Expected empty cache, got %d records", total)
	}

	stored, err := db.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if stored.LastUpdateTime != nil || stored.NextUpdateTime != nil {
		t.Error("Update timestamps must be reset when the cache is cleared")
	}
	if stored.CacheTTL != 48*time.Hour {
		t.Errorf("CacheTTL = %v, user preference must survive", stored.CacheTTL)
	}
	if stored.AutoUpdateEnabled {
		t.Error("AutoUpdateEnabled preference must survive")
	}
}
