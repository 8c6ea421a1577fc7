package controllers

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jabook/bookcache/internal/config"
	"github.com/jabook/bookcache/internal/metrics"
	"github.com/jabook/bookcache/internal/models"
	"github.com/jabook/bookcache/internal/services/tracker"
)

// seriesPrefixMin is the shortest common title prefix treated as a series
// name. Shorter prefixes are usually just shared leading words.
const seriesPrefixMin = 10

// settingsRefreshAfter is how stale the settings' LastUpdateTime may get
// before a batch flush opportunistically advances it mid-sync.
const settingsRefreshAfter = time.Hour

// PageFetcher fetches raw pages from the tracker site.
type PageFetcher interface {
	FetchPage(ctx context.Context, path string) (*tracker.Page, error)
	BaseURL() string
}

// MetadataParser turns raw tracker HTML into structured records.
type MetadataParser interface {
	ParseCategories(html string) ([]tracker.Category, error)
	ParseForumTopics(html string) (*tracker.TopicPage, error)
	ParseTopicDetails(html, baseURL string) (*tracker.TopicDetails, error)
}

type forumRef struct {
	ID   int
	Name string
}

// SyncController crawls the audiobook category tree and populates the cache.
// At most one full sync runs at a time; a second SyncAll call while one is
// running is a logged no-op.
type SyncController struct {
	db      *models.Database
	fetcher PageFetcher
	parser  MetadataParser
	search  *SearchController
	logger  *logrus.Logger

	categoryID    int
	topicsPerPage int
	batchSize     int
	forumDelay    time.Duration
	topicDelay    time.Duration

	syncing  atomic.Bool
	progress *ProgressBroadcaster
}

// NewSyncController creates a new sync controller
func NewSyncController(db *models.Database, fetcher PageFetcher, parser MetadataParser, search *SearchController, cfg *config.Config, logger *logrus.Logger) *SyncController {
	return &SyncController{
		db:            db,
		fetcher:       fetcher,
		parser:        parser,
		search:        search,
		logger:        logger,
		categoryID:    cfg.AudiobookCategoryID,
		topicsPerPage: cfg.TopicsPerPage,
		batchSize:     cfg.SyncBatchSize,
		forumDelay:    cfg.ForumDelay,
		topicDelay:    cfg.TopicDelay,
		progress:      NewProgressBroadcaster(),
	}
}

// WatchProgress subscribes to sync progress snapshots
func (c *SyncController) WatchProgress() (<-chan models.SyncProgress, func()) {
	return c.progress.Subscribe()
}

// InProgress reports whether a full sync is currently running
func (c *SyncController) InProgress() bool {
	return c.syncing.Load()
}

// SyncAll crawls every audiobook forum sequentially. Forum-level failures
// are logged and skipped; only a failed category fetch or a cancelled
// context aborts the run.
func (c *SyncController) SyncAll(ctx context.Context) error {
	if !c.syncing.CompareAndSwap(false, true) {
		c.logger.Warn("Full sync already in progress, ignoring request")
		return nil
	}
	defer c.syncing.Store(false)

	ctx, span := otel.Tracer("bookcache/sync").Start(ctx, "sync.all")
	defer span.End()

	start := time.Now()
	c.logger.Info("Starting full forum sync")

	forums, err := c.audiobookForums(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover audiobook forums: %w", err)
	}
	span.SetAttributes(attribute.Int("forums", len(forums)))

	progress := models.SyncProgress{TotalForums: len(forums)}
	c.progress.Publish(progress)

	for _, forum := range forums {
		if err := ctx.Err(); err != nil {
			return err
		}

		progress.CurrentForum = forum.Name
		count, err := c.syncForumTopics(ctx, forum.ID, forum.Name, &progress)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.SyncErrors.Inc()
			c.logger.WithError(err).WithFields(logrus.Fields{
				"forum_id":   forum.ID,
				"forum_name": forum.Name,
			}).Error("Forum sync failed, skipping")
		} else {
			c.logger.WithFields(logrus.Fields{
				"forum_id": forum.ID,
				"topics":   count,
			}).Info("Forum synced")
		}

		progress.CompletedForums++
		c.estimateCompletion(&progress, start)
		c.progress.Publish(progress)

		if err := sleepCtx(ctx, c.forumDelay); err != nil {
			return err
		}
	}

	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	if total, err := c.db.CountAudiobooks(); err == nil {
		metrics.CachedBooks.Set(float64(total))
	}

	c.logger.WithFields(logrus.Fields{
		"forums":      progress.CompletedForums,
		"topics":      progress.CompletedTopics,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Full forum sync completed")
	return nil
}

// SyncForumTopics syncs a single forum outside a full sync run
func (c *SyncController) SyncForumTopics(ctx context.Context, forumID int, forumName string) (int, error) {
	progress := models.SyncProgress{TotalForums: 1, CurrentForum: forumName}
	count, err := c.syncForumTopics(ctx, forumID, forumName, &progress)
	progress.CompletedForums = 1
	c.progress.Publish(progress)
	return count, err
}

// audiobookForums fetches the category index and flattens it into forum refs
func (c *SyncController) audiobookForums(ctx context.Context) ([]forumRef, error) {
	page, err := c.fetcher.FetchPage(ctx, fmt.Sprintf("/index.php?c=%d", c.categoryID))
	if err != nil {
		return nil, err
	}

	categories, err := c.parser.ParseCategories(page.Body)
	if err != nil {
		return nil, err
	}

	var forums []forumRef
	for _, cat := range categories {
		forums = append(forums, forumRef{ID: cat.ID, Name: cat.Title})
		for _, sub := range cat.Subforums {
			forums = append(forums, forumRef{ID: sub.ID, Name: sub.Title})
		}
	}
	return forums, nil
}

// syncForumTopics paginates one forum's topic listing, buffering parsed
// topics into transactional batches. Topic-level failures are skipped.
func (c *SyncController) syncForumTopics(ctx context.Context, forumID int, forumName string, progress *models.SyncProgress) (int, error) {
	ctx, span := otel.Tracer("bookcache/sync").Start(ctx, "sync.forum")
	defer span.End()
	span.SetAttributes(attribute.Int("forum_id", forumID))

	processed := 0
	batch := make([]*models.CachedAudiobook, 0, c.batchSize)

	for pageNum := 0; ; pageNum++ {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		path := fmt.Sprintf("/viewforum.php?f=%d&start=%d", forumID, pageNum*c.topicsPerPage)
		page, err := c.fetcher.FetchPage(ctx, path)
		if err != nil {
			return processed, fmt.Errorf("failed to fetch topic listing: %w", err)
		}

		listing, err := c.parser.ParseForumTopics(page.Body)
		if err != nil {
			return processed, fmt.Errorf("failed to parse topic listing: %w", err)
		}
		if len(listing.Topics) == 0 {
			break
		}

		progress.TotalTopics += len(listing.Topics)

		for _, topic := range listing.Topics {
			if err := ctx.Err(); err != nil {
				c.saveBatch(batch)
				return processed, err
			}

			rec, err := c.syncTopic(ctx, topic, forumID, forumName)
			if err != nil {
				metrics.SyncErrors.Inc()
				c.logger.WithError(err).WithFields(logrus.Fields{
					"topic_id": topic.ID,
					"title":    topic.Title,
				}).Warn("Topic sync failed, skipping")
			} else if rec != nil {
				batch = append(batch, rec)
				if len(batch) >= c.batchSize {
					c.saveBatch(batch)
					batch = batch[:0]
				}
			}

			processed++
			progress.CompletedTopics++
			progress.CurrentTopic = topic.Title
			c.progress.Publish(*progress)

			if err := sleepCtx(ctx, c.topicDelay); err != nil {
				c.saveBatch(batch)
				return processed, err
			}
		}

		// Stop on a short page, or when the pagination markup says there is
		// no next page even though the page was full.
		if len(listing.Topics) < c.topicsPerPage || !listing.HasNextPage {
			break
		}
	}

	c.saveBatch(batch)
	return processed, nil
}

// syncTopic fetches and parses one topic page into a cache record without
// writing it.
func (c *SyncController) syncTopic(ctx context.Context, topic tracker.TopicRef, forumID int, forumName string) (*models.CachedAudiobook, error) {
	page, err := c.fetcher.FetchPage(ctx, "/viewtopic.php?t="+topic.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch topic: %w", err)
	}

	details, err := c.parser.ParseTopicDetails(page.Body, c.fetcher.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse topic: %w", err)
	}
	if details == nil {
		return nil, nil
	}

	now := time.Now()
	rec := &models.CachedAudiobook{
		TopicID:      topic.ID,
		Title:        details.Title,
		Author:       details.Author,
		Performer:    details.Performer,
		Category:     forumName,
		ForumID:      forumID,
		ForumName:    forumName,
		Genres:       details.Genres,
		Chapters:     details.Chapters,
		Size:         details.Size,
		Seeders:      details.Seeders,
		Leechers:     details.Leechers,
		MagnetURL:    details.MagnetURL,
		CoverURL:     tracker.NormalizeCoverURL(details.CoverURL, c.fetcher.BaseURL()),
		Duration:     details.Duration,
		Bitrate:      details.Bitrate,
		AudioCodec:   details.AudioCodec,
		AddedDate:    now,
		LastUpdated:  now,
		LastSynced:   now,
		CachedAt:     now,
		CacheVersion: models.CurrentCacheVersion,
	}

	rec.Series = seriesFromRelated(details.Title, details.RelatedTitles)
	for _, ch := range details.Chapters {
		rec.Parts = append(rec.Parts, ch.Title)
	}

	c.search.ApplyDerivedFields(rec)
	return rec, nil
}

// saveBatch flushes a batch in one store transaction. Every so often it also
// nudges the settings' LastUpdateTime forward so the staleness clock keeps
// advancing during a long sync without writing settings on every record.
func (c *SyncController) saveBatch(batch []*models.CachedAudiobook) {
	if len(batch) == 0 {
		return
	}

	if err := c.db.UpsertBatch(batch); err != nil {
		metrics.SyncErrors.Inc()
		c.logger.WithError(err).WithField("batch_size", len(batch)).Error("Failed to save sync batch")
		return
	}

	c.search.InvalidateQueryCache()
	metrics.TopicsSynced.Add(float64(len(batch)))

	if len(batch) >= c.batchSize || time.Now().UnixMilli()%7 == 0 {
		c.refreshUpdateClock()
	}
}

// refreshUpdateClock advances the settings' LastUpdateTime if it has lagged
// more than an hour behind. Best-effort.
func (c *SyncController) refreshUpdateClock() {
	err := c.db.UpdateSettings(func(settings *models.CacheSettings) bool {
		if settings.LastUpdateTime != nil && time.Since(*settings.LastUpdateTime) < settingsRefreshAfter {
			return false
		}
		now := time.Now()
		settings.LastUpdateTime = &now
		return true
	})
	if err != nil {
		c.logger.WithError(err).Debug("Failed to refresh update clock")
	}
}

// estimateCompletion projects the finish time from the observed topic rate
func (c *SyncController) estimateCompletion(progress *models.SyncProgress, start time.Time) {
	if progress.CompletedTopics == 0 || progress.TotalTopics <= progress.CompletedTopics {
		progress.EstimatedCompletion = nil
		return
	}
	perTopic := time.Since(start) / time.Duration(progress.CompletedTopics)
	remaining := time.Duration(progress.TotalTopics-progress.CompletedTopics) * perTopic
	eta := time.Now().Add(remaining)
	progress.EstimatedCompletion = &eta
}

// seriesFromRelated guesses a series name from the longest common prefix of
// the topic title and the first related title.
func seriesFromRelated(title string, related []string) string {
	if len(related) == 0 {
		return ""
	}
	prefix := commonPrefix(title, related[0])
	if len([]rune(prefix)) <= seriesPrefixMin {
		return ""
	}
	return strings.TrimRight(prefix, " -.,:([")
}

func commonPrefix(a, b string) string {
	ra, rb := []rune(a), []rune(b)
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	i := 0
	for i < n && ra[i] == rb[i] {
		i++
	}
	return string(ra[:i])
}

// sleepCtx sleeps for d unless the context is cancelled first
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
