package controllers

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jabook/bookcache/internal/metrics"
	"github.com/jabook/bookcache/internal/models"
)

// DefaultSearchLimit caps result sets when the caller does not pass a limit.
const DefaultSearchLimit = 100

// Relevance points per query word. Title conditions are mutually exclusive,
// as are the author ones; keywords score once per word no matter how many
// keywords match.
const (
	scoreTitleExact     = 100
	scoreTitlePrefix    = 80
	scoreTitleContains  = 60
	scoreAuthorExact    = 50
	scoreAuthorContains = 30
	scorePerformer      = 25
	scoreSearchText     = 20
	scoreKeyword        = 10
	scoreSeries         = 5

	// Phrase-level bonuses, applied once per record.
	bonusTitlePhrase  = 50
	bonusAuthorPhrase = 30
)

var wordSplitRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// stopWords are dropped from extracted keywords: common English filler plus
// the Russian audiobook-domain boilerplate every posting repeats.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "was": {}, "were": {}, "has": {}, "had": {},
	"this": {}, "that": {}, "with": {}, "from": {}, "have": {}, "been": {},
	"его": {}, "как": {}, "что": {}, "это": {}, "для": {},
	"книга": {}, "книги": {}, "автор": {}, "читает": {}, "исполнитель": {},
	"аудиокнига": {}, "аудиокниги": {}, "роман": {}, "серия": {},
}

// SearchController maintains the derived search fields on cached records and
// answers relevance-ranked queries over them.
type SearchController struct {
	db         *models.Database
	queryCache *gocache.Cache
	logger     *logrus.Logger
}

// NewSearchController creates a new search controller
func NewSearchController(db *models.Database, logger *logrus.Logger) *SearchController {
	return &SearchController{
		db:         db,
		queryCache: gocache.New(time.Minute, 5*time.Minute),
		logger:     logger,
	}
}

type scoredRecord struct {
	record *models.CachedAudiobook
	score  float64
}

// Search returns non-stale records ranked by relevance to the query,
// optionally restricted to an exact category. An empty query returns an
// empty result without touching the store.
func (c *SearchController) Search(ctx context.Context, query string, limit int, categoryFilter string) ([]*models.CachedAudiobook, error) {
	phrase := normalizeQuery(query)
	if phrase == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	_, span := otel.Tracer("bookcache/search").Start(ctx, "search.query")
	defer span.End()
	span.SetAttributes(attribute.String("query", phrase), attribute.Int("limit", limit))

	cacheKey := phrase + "\x00" + categoryFilter + "\x00" + strconv.Itoa(limit)
	if cached, ok := c.queryCache.Get(cacheKey); ok {
		return copyResults(cached.([]*models.CachedAudiobook)), nil
	}

	start := time.Now()
	candidates, err := c.db.FindActive(categoryFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to load search candidates: %w", err)
	}

	words := strings.Fields(phrase)
	scored := make([]scoredRecord, 0, len(candidates))
	for _, rec := range candidates {
		if s := scoreRecord(rec, words, phrase); s > 0 {
			scored = append(scored, scoredRecord{record: rec, score: s})
		}
	}

	// Stable sort keeps store order for ties
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	results := make([]*models.CachedAudiobook, len(scored))
	for i, sr := range scored {
		results[i] = sr.record
	}

	c.queryCache.Set(cacheKey, results, gocache.DefaultExpiration)
	metrics.SearchDuration.Observe(time.Since(start).Seconds())

	c.logger.WithFields(logrus.Fields{
		"query":      phrase,
		"candidates": len(candidates),
		"results":    len(results),
	}).Debug("Search completed")

	return copyResults(results), nil
}

// copyResults hands each caller its own slice, so reordering or truncating a
// result set cannot corrupt the memoized copy.
func copyResults(recs []*models.CachedAudiobook) []*models.CachedAudiobook {
	out := make([]*models.CachedAudiobook, len(recs))
	copy(out, recs)
	return out
}

// scoreRecord accumulates relevance points for one candidate
func scoreRecord(rec *models.CachedAudiobook, words []string, phrase string) float64 {
	title := lowerOr(rec.TitleLower, rec.Title)
	author := lowerOr(rec.AuthorLower, rec.Author)
	performer := strings.ToLower(rec.Performer)
	searchText := lowerOr(rec.SearchTextLower, rec.SearchText)
	series := strings.ToLower(rec.Series)

	var score float64
	for _, w := range words {
		switch {
		case title == w:
			score += scoreTitleExact
		case strings.HasPrefix(title, w):
			score += scoreTitlePrefix
		case strings.Contains(title, w):
			score += scoreTitleContains
		}

		switch {
		case author == w:
			score += scoreAuthorExact
		case strings.Contains(author, w):
			score += scoreAuthorContains
		}

		if performer != "" && strings.Contains(performer, w) {
			score += scorePerformer
		}
		if searchText != "" && strings.Contains(searchText, w) {
			score += scoreSearchText
		}
		for _, kw := range rec.Keywords {
			if strings.Contains(kw, w) {
				score += scoreKeyword
				break
			}
		}
		if series != "" && strings.Contains(series, w) {
			score += scoreSeries
		}
	}

	if strings.Contains(title, phrase) {
		score += bonusTitlePhrase
	}
	if strings.Contains(author, phrase) {
		score += bonusAuthorPhrase
	}
	return score
}

// FindSimilar returns cached records whose titles are closest to the given
// record's title by edit distance, nearest first.
func (c *SearchController) FindSimilar(topicID string, limit int) ([]*models.CachedAudiobook, error) {
	if limit <= 0 {
		limit = 10
	}
	rec, err := c.db.GetAudiobook(topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", topicID, err)
	}

	candidates, err := c.db.FindActive("")
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	ref := lowerOr(rec.TitleLower, rec.Title)
	type distRecord struct {
		record *models.CachedAudiobook
		dist   int
	}
	ranked := make([]distRecord, 0, len(candidates))
	for _, cand := range candidates {
		if cand.TopicID == rec.TopicID {
			continue
		}
		d := levenshtein.ComputeDistance(ref, lowerOr(cand.TitleLower, cand.Title))
		ranked = append(ranked, distRecord{record: cand, dist: d})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := make([]*models.CachedAudiobook, len(ranked))
	for i, dr := range ranked {
		results[i] = dr.record
	}
	return results, nil
}

// IndexAudiobook recomputes the derived search fields for one record and
// persists it.
func (c *SearchController) IndexAudiobook(rec *models.CachedAudiobook) error {
	c.ApplyDerivedFields(rec)
	if err := c.db.UpsertAudiobook(rec); err != nil {
		return fmt.Errorf("failed to persist indexed record %s: %w", rec.TopicID, err)
	}
	c.InvalidateQueryCache()
	return nil
}

// RebuildIndex reindexes every cached record sequentially. Used after bulk
// changes; per-record failures are logged and skipped.
func (c *SearchController) RebuildIndex() error {
	recs, err := c.db.AllAudiobooks()
	if err != nil {
		return fmt.Errorf("failed to load records for reindex: %w", err)
	}

	failed := 0
	for _, rec := range recs {
		if err := c.IndexAudiobook(rec); err != nil {
			failed++
			c.logger.WithError(err).WithField("topic_id", rec.TopicID).Error("Failed to reindex record")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"total":  len(recs),
		"failed": failed,
	}).Info("Index rebuild completed")
	return nil
}

// ClearIndex strips the derived search fields from every record without
// deleting the records themselves.
func (c *SearchController) ClearIndex() error {
	recs, err := c.db.AllAudiobooks()
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	for _, rec := range recs {
		rec.Keywords = nil
		rec.SearchText = ""
		rec.SearchTextLower = ""
		if err := c.db.UpsertAudiobook(rec); err != nil {
			c.logger.WithError(err).WithField("topic_id", rec.TopicID).Error("Failed to clear index fields")
		}
	}

	c.InvalidateQueryCache()
	return nil
}

// InvalidateQueryCache drops memoized query results after any write
func (c *SearchController) InvalidateQueryCache() {
	c.queryCache.Flush()
}

// ApplyDerivedFields recomputes every derived field on the record in place.
// The derivation is deterministic: applying it twice yields identical fields.
func (c *SearchController) ApplyDerivedFields(rec *models.CachedAudiobook) {
	rec.TitleLower = strings.ToLower(rec.Title)
	rec.AuthorLower = strings.ToLower(rec.Author)
	rec.Keywords = ExtractKeywords(rec.Title, rec.Author, rec.Genres)
	rec.SearchText = BuildSearchText(rec)
	rec.SearchTextLower = strings.ToLower(rec.SearchText)
}

// BuildSearchText assembles the flat searchable text for a record
func BuildSearchText(rec *models.CachedAudiobook) string {
	parts := make([]string, 0, 5+len(rec.Genres))
	for _, s := range []string{rec.Title, rec.Author, rec.Performer, rec.Series} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, rec.Genres...)
	return strings.Join(parts, " ")
}

// ExtractKeywords tokenizes title and author, drops short tokens and stop
// words, and unions the result with lowercased genres.
func ExtractKeywords(title, author string, genres []string) []string {
	seen := make(map[string]struct{})
	var keywords []string

	add := func(kw string) {
		if _, ok := seen[kw]; ok {
			return
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}

	for _, token := range wordSplitRe.Split(strings.ToLower(title+" "+author), -1) {
		if utf8.RuneCountInString(token) <= 2 {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		add(token)
	}
	for _, g := range genres {
		if g = strings.TrimSpace(strings.ToLower(g)); g != "" {
			add(g)
		}
	}
	return keywords
}

// normalizeQuery lowercases, trims and collapses internal whitespace
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func lowerOr(lower, raw string) string {
	if lower != "" {
		return lower
	}
	return strings.ToLower(raw)
}
