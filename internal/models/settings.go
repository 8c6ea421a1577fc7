package models

import "time"

// CacheSettings is the singleton settings record stored under a fixed key.
// SyncInProgress and LastSyncProgress are transient bookkeeping persisted
// alongside the durable preferences so status queries survive restarts.
type CacheSettings struct {
	CacheTTL           time.Duration `json:"cache_ttl"`
	AutoUpdateEnabled  bool          `json:"auto_update_enabled"`
	AutoUpdateInterval time.Duration `json:"auto_update_interval"`
	LastUpdateTime     *time.Time    `json:"last_update_time,omitempty"`
	NextUpdateTime     *time.Time    `json:"next_update_time,omitempty"`

	SyncInProgress   bool          `json:"sync_in_progress"`
	LastSyncProgress *SyncProgress `json:"last_sync_progress,omitempty"`

	// MigrationVersion records the last completed cache migration.
	MigrationVersion int `json:"migration_version"`
}

// DefaultCacheSettings returns the settings written on first initialization.
func DefaultCacheSettings() *CacheSettings {
	return &CacheSettings{
		CacheTTL:           24 * time.Hour,
		AutoUpdateEnabled:  true,
		AutoUpdateInterval: 24 * time.Hour,
	}
}

// CacheStatus is a point-in-time view of cache health. It is computed fresh
// on every query and never persisted.
type CacheStatus struct {
	TotalCachedBooks int           `json:"total_cached_books"`
	IsStale          bool          `json:"is_stale"`
	LastSyncTime     *time.Time    `json:"last_sync_time,omitempty"`
	SyncInProgress   bool          `json:"sync_in_progress"`
	SyncProgress     *SyncProgress `json:"sync_progress,omitempty"`
}

// SyncProgress is a snapshot of a running full sync.
type SyncProgress struct {
	TotalForums         int        `json:"total_forums"`
	CompletedForums     int        `json:"completed_forums"`
	TotalTopics         int        `json:"total_topics"`
	CompletedTopics     int        `json:"completed_topics"`
	CurrentForum        string     `json:"current_forum,omitempty"`
	CurrentTopic        string     `json:"current_topic,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// ProgressPercent reports completion as a percentage of discovered topics.
func (p SyncProgress) ProgressPercent() float64 {
	if p.TotalTopics == 0 {
		return 0
	}
	return float64(p.CompletedTopics) / float64(p.TotalTopics) * 100
}

// IsComplete reports whether every discovered topic has been processed.
func (p SyncProgress) IsComplete() bool {
	return p.CompletedTopics >= p.TotalTopics
}
