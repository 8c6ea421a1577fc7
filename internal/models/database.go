package models

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// settingsKey is the fixed key of the singleton CacheSettings record.
const settingsKey = "settings"

// Database wraps the bolthold store
type Database struct {
	store *bolthold.Store

	// settingsMu serializes read-modify-write cycles on the settings
	// singleton so concurrent writers cannot erase each other's updates.
	settingsMu sync.Mutex
}

// NewDatabase creates a new database connection
func NewDatabase(path string) (*Database, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{store: store}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.store.Close()
}

// Audiobook record operations

// GetAudiobook retrieves one cached record by topic ID
func (db *Database) GetAudiobook(topicID string) (*CachedAudiobook, error) {
	var rec CachedAudiobook
	if err := db.store.Get(topicID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertAudiobook inserts or replaces one cached record
func (db *Database) UpsertAudiobook(rec *CachedAudiobook) error {
	return db.store.Upsert(rec.TopicID, rec)
}

// DeleteAudiobook removes one cached record by topic ID
func (db *Database) DeleteAudiobook(topicID string) error {
	return db.store.Delete(topicID, &CachedAudiobook{})
}

// FindActive retrieves all non-stale records, optionally restricted to one
// category. The filters are pushed into the store query so the stale set is
// never loaded.
func (db *Database) FindActive(category string) ([]*CachedAudiobook, error) {
	query := bolthold.Where("IsStale").Eq(false)
	if category != "" {
		query = query.And("Category").Eq(category)
	}

	var recs []*CachedAudiobook
	err := db.store.Find(&recs, query)
	return recs, err
}

// AllAudiobooks retrieves every cached record
func (db *Database) AllAudiobooks() ([]*CachedAudiobook, error) {
	var recs []*CachedAudiobook
	err := db.store.Find(&recs, nil)
	return recs, err
}

// CountAudiobooks returns the number of cached records
func (db *Database) CountAudiobooks() (int, error) {
	return db.store.Count(&CachedAudiobook{}, nil)
}

// UpsertBatch writes a batch of records inside a single transaction, so a
// partial failure never leaves half-written state.
func (db *Database) UpsertBatch(recs []*CachedAudiobook) error {
	if len(recs) == 0 {
		return nil
	}
	return db.store.Bolt().Update(func(tx *bbolt.Tx) error {
		for _, rec := range recs {
			if err := db.store.TxUpsert(tx, rec.TopicID, rec); err != nil {
				return fmt.Errorf("failed to upsert topic %s: %w", rec.TopicID, err)
			}
		}
		return nil
	})
}

// DeleteBatch removes a batch of records inside a single transaction
func (db *Database) DeleteBatch(topicIDs []string) error {
	if len(topicIDs) == 0 {
		return nil
	}
	return db.store.Bolt().Update(func(tx *bbolt.Tx) error {
		for _, id := range topicIDs {
			if err := db.store.TxDelete(tx, id, &CachedAudiobook{}); err != nil {
				return fmt.Errorf("failed to delete topic %s: %w", id, err)
			}
		}
		return nil
	})
}

// Settings operations

// GetSettings retrieves the singleton settings record.
// Returns bolthold.ErrNotFound before first initialization.
func (db *Database) GetSettings() (*CacheSettings, error) {
	var settings CacheSettings
	if err := db.store.Get(settingsKey, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// PutSettings replaces the singleton settings record
func (db *Database) PutSettings(settings *CacheSettings) error {
	return db.store.Upsert(settingsKey, settings)
}

// UpdateSettings applies mutate to the current settings under a write lock,
// starting from defaults when no settings exist yet. Mutate returns false to
// skip the write entirely.
func (db *Database) UpdateSettings(mutate func(*CacheSettings) bool) error {
	db.settingsMu.Lock()
	defer db.settingsMu.Unlock()

	settings, err := db.GetSettings()
	if err != nil {
		if !IsNotFound(err) {
			return err
		}
		settings = DefaultCacheSettings()
	}
	if !mutate(settings) {
		return nil
	}
	return db.PutSettings(settings)
}

// IsNotFound reports whether err is the store's missing-record error
func IsNotFound(err error) bool {
	return errors.Is(err, bolthold.ErrNotFound)
}
