package models

import "time"

// CurrentCacheVersion is the schema version written on every new record.
// Records carrying an older version are picked up by the migration controller.
const CurrentCacheVersion = 1

// Chapter describes a single playable part of an audiobook topic.
type Chapter struct {
	Title      string `json:"title"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	FileIndex  int    `json:"file_index,omitempty"`
	StartByte  int64  `json:"start_byte,omitempty"`
	EndByte    int64  `json:"end_byte,omitempty"`
}

// CachedAudiobook is one cached forum topic, keyed by its topic ID.
//
// Keywords, SearchText and SearchTextLower are derived fields maintained by the
// search controller; they are never hand-authored. CoverURL is always stored in
// absolute form.
type CachedAudiobook struct {
	TopicID     string `boltholdKey:"TopicID" json:"topic_id"`
	Title       string `json:"title"`
	TitleLower  string `json:"title_lower"`
	Author      string `json:"author"`
	AuthorLower string `json:"author_lower"`
	Performer   string `json:"performer,omitempty"`
	Category    string `boltholdIndex:"Category" json:"category"`
	ForumID     int    `json:"forum_id"`
	ForumName   string `json:"forum_name"`

	Genres      []string  `json:"genres,omitempty"`
	Chapters    []Chapter `json:"chapters,omitempty"`
	Series      string    `json:"series,omitempty"`
	SeriesOrder int       `json:"series_order,omitempty"`
	Parts       []string  `json:"parts,omitempty"`

	Size      string `json:"size"`
	Seeders   int    `json:"seeders"`
	Leechers  int    `json:"leechers"`
	MagnetURL string `json:"magnet_url"`

	CoverURL   string `json:"cover_url,omitempty"`
	Duration   string `json:"duration,omitempty"`
	Bitrate    string `json:"bitrate,omitempty"`
	AudioCodec string `json:"audio_codec,omitempty"`

	Keywords        []string `json:"keywords"`
	SearchText      string   `json:"search_text"`
	SearchTextLower string   `json:"search_text_lower"`

	AddedDate    time.Time `json:"added_date"`
	LastUpdated  time.Time `json:"last_updated"`
	LastSynced   time.Time `json:"last_synced"`
	CachedAt     time.Time `json:"cached_at"`
	CacheVersion int       `json:"cache_version"`
	IsStale      bool      `boltholdIndex:"IsStale" json:"is_stale"`
}
