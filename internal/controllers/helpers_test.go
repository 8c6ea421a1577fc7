package controllers

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jabook/bookcache/internal/config"
	"github.com/jabook/bookcache/internal/models"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDB(t *testing.T) *models.Database {
	t.Helper()
	db, err := models.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:             "https://rutracker.test",
		AudiobookCategoryID: 33,
		TopicsPerPage:       50,
		SyncBatchSize:       10,
	}
}

func makeBook(topicID, title, author string) *models.CachedAudiobook {
	now := time.Now()
	return &models.CachedAudiobook{
		TopicID:      topicID,
		Title:        title,
		Author:       author,
		Category:     "Аудиокниги",
		Size:         "1 GB",
		AddedDate:    now,
		LastUpdated:  now,
		LastSynced:   now,
		CachedAt:     now,
		CacheVersion: models.CurrentCacheVersion,
	}
}
