package controllers

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jabook/bookcache/internal/models"
	"github.com/jabook/bookcache/internal/services/tracker"
)

// CurrentMigrationVersion is compared against the marker persisted in the
// settings record; migration runs only while the marker is behind.
const CurrentMigrationVersion = 1

// migrationBatchSize bounds how many records one store transaction upgrades.
const migrationBatchSize = 50

// MigrationController upgrades records written by older cache versions so
// every persisted record carries the derived search fields and staleness
// flag the rest of the system relies on.
type MigrationController struct {
	db     *models.Database
	search *SearchController
	logger *logrus.Logger
}

// NewMigrationController creates a new migration controller
func NewMigrationController(db *models.Database, search *SearchController, logger *logrus.Logger) *MigrationController {
	return &MigrationController{db: db, search: search, logger: logger}
}

// Run executes the migration once, guarded by the persisted version marker.
// A top-level failure is logged and returned; callers decide whether it
// blocks them.
func (c *MigrationController) Run() error {
	settings, err := c.db.GetSettings()
	if err != nil {
		if models.IsNotFound(err) {
			settings = models.DefaultCacheSettings()
		} else {
			return fmt.Errorf("failed to load settings: %w", err)
		}
	}
	if settings.MigrationVersion >= CurrentMigrationVersion {
		return nil
	}

	legacy, err := c.HasLegacyRecords()
	if err != nil {
		c.logger.WithError(err).Error("Cache migration scan failed")
		return err
	}
	if legacy {
		if err := c.Migrate(); err != nil {
			c.logger.WithError(err).Error("Cache migration failed")
			return err
		}
	}

	err = c.db.UpdateSettings(func(s *models.CacheSettings) bool {
		s.MigrationVersion = CurrentMigrationVersion
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to persist migration marker: %w", err)
	}
	return nil
}

// HasLegacyRecords reports whether any cached record still lacks the derived
// search fields or carries an older schema version.
func (c *MigrationController) HasLegacyRecords() (bool, error) {
	recs, err := c.db.AllAudiobooks()
	if err != nil {
		return false, fmt.Errorf("failed to scan records: %w", err)
	}
	for _, rec := range recs {
		if needsMigration(rec) {
			return true, nil
		}
	}
	return false, nil
}

// Migrate upgrades every legacy record in place, in transactional batches.
// Records that fail validation after conversion are counted and skipped.
func (c *MigrationController) Migrate() error {
	recs, err := c.db.AllAudiobooks()
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	var pending []*models.CachedAudiobook
	for _, rec := range recs {
		if needsMigration(rec) {
			pending = append(pending, rec)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	c.logger.WithField("count", len(pending)).Info("Migrating legacy cache records")

	migrated, failed := 0, 0
	for start := 0; start < len(pending); start += migrationBatchSize {
		end := start + migrationBatchSize
		if end > len(pending) {
			end = len(pending)
		}

		var converted []*models.CachedAudiobook
		for _, rec := range pending[start:end] {
			conv := convertRecord(rec)
			if err := validateRecord(conv); err != nil {
				failed++
				c.logger.WithError(err).WithField("topic_id", rec.TopicID).Warn("Skipping unmigratable record")
				continue
			}
			converted = append(converted, conv)
		}

		if err := c.db.UpsertBatch(converted); err != nil {
			return fmt.Errorf("failed to write migration batch: %w", err)
		}

		// Re-index so keyword extraction runs on the upgraded records
		for _, rec := range converted {
			if err := c.search.IndexAudiobook(rec); err != nil {
				c.logger.WithError(err).WithField("topic_id", rec.TopicID).Warn("Failed to index migrated record")
			}
		}
		migrated += len(converted)
	}

	c.logger.WithFields(logrus.Fields{
		"migrated": migrated,
		"failed":   failed,
	}).Info("Cache migration completed")
	return nil
}

// needsMigration reports whether a record predates the current schema
func needsMigration(rec *models.CachedAudiobook) bool {
	return rec.CacheVersion < models.CurrentCacheVersion ||
		rec.SearchText == "" ||
		rec.SearchTextLower == "" ||
		len(rec.Keywords) == 0
}

// convertRecord fills missing fields with sane defaults. Applying it to an
// already current record changes nothing.
func convertRecord(rec *models.CachedAudiobook) *models.CachedAudiobook {
	conv := *rec

	if conv.TitleLower == "" && conv.Title != "" {
		conv.TitleLower = strings.ToLower(conv.Title)
	}
	if conv.AuthorLower == "" && conv.Author != "" {
		conv.AuthorLower = strings.ToLower(conv.Author)
	}

	if conv.SearchText == "" {
		conv.SearchText = BuildSearchText(&conv)
	}
	if conv.SearchTextLower == "" {
		conv.SearchTextLower = strings.ToLower(conv.SearchText)
	}

	// Legacy relative cover URLs were a write-path bug; retry normalization
	conv.CoverURL = tracker.NormalizeCoverURL(conv.CoverURL, "")

	if conv.LastUpdated.IsZero() {
		if !conv.LastSynced.IsZero() {
			conv.LastUpdated = conv.LastSynced
		} else {
			conv.LastUpdated = time.Now()
		}
	}
	if conv.CachedAt.IsZero() {
		conv.CachedAt = conv.LastUpdated
	}

	if len(conv.Parts) == 0 && len(conv.Chapters) > 0 {
		for _, ch := range conv.Chapters {
			conv.Parts = append(conv.Parts, ch.Title)
		}
	}

	conv.CacheVersion = models.CurrentCacheVersion
	return &conv
}

// validateRecord rejects converted records that still violate the cache
// invariants.
func validateRecord(rec *models.CachedAudiobook) error {
	if rec.TopicID == "" {
		return fmt.Errorf("missing topic ID")
	}
	if rec.Title == "" {
		return fmt.Errorf("missing title")
	}
	if rec.Author == "" {
		return fmt.Errorf("missing author")
	}
	if rec.SearchText == "" || rec.SearchTextLower == "" {
		return fmt.Errorf("derived search text missing")
	}
	if rec.TitleLower == "" {
		return fmt.Errorf("derived title_lower missing")
	}
	if rec.LastUpdated.IsZero() {
		return fmt.Errorf("last_updated missing")
	}
	return nil
}
