package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Tracker site
	BaseURL             string
	MirrorURLs          []string
	AudiobookCategoryID int
	UserAgent           string
	RequestTimeout      time.Duration

	// Sync pacing
	TopicsPerPage int
	SyncBatchSize int
	ForumDelay    time.Duration
	TopicDelay    time.Duration

	// Cache lifecycle
	CacheTTL           time.Duration
	AutoUpdate         bool
	AutoUpdateInterval time.Duration

	// Server
	ServerPort string

	// Paths
	DatabaseFile string // $CONFIG_DIR/bookcache.db

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Setup viper FIRST to load .env file
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Load .env file if it exists (ignore if not found)
	_ = viper.ReadInConfig()

	// Set defaults
	viper.SetDefault("BASE_URL", "https://rutracker.me")
	viper.SetDefault("AUDIOBOOK_CATEGORY_ID", 33)
	viper.SetDefault("USER_AGENT", "Mozilla/5.0 (Android 13) bookcache/1.0")
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	viper.SetDefault("TOPICS_PER_PAGE", 50)
	viper.SetDefault("SYNC_BATCH_SIZE", 10)
	viper.SetDefault("FORUM_DELAY_MS", 500)
	viper.SetDefault("TOPIC_DELAY_MS", 1000)
	viper.SetDefault("CACHE_TTL_HOURS", 24)
	viper.SetDefault("AUTO_UPDATE", true)
	viper.SetDefault("AUTO_UPDATE_INTERVAL_HOURS", 24)
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")

	// NOW read CONFIG_DIR from viper (which has loaded .env file)
	configDir := viper.GetString("CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config", "bookcache")
	} else {
		absPath, err := filepath.Abs(configDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
		}
		configDir = absPath
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	config := &Config{
		BaseURL:             viper.GetString("BASE_URL"),
		MirrorURLs:          splitList(viper.GetString("MIRROR_URLS")),
		AudiobookCategoryID: viper.GetInt("AUDIOBOOK_CATEGORY_ID"),
		UserAgent:           viper.GetString("USER_AGENT"),
		RequestTimeout:      time.Duration(viper.GetInt("REQUEST_TIMEOUT_SECONDS")) * time.Second,

		TopicsPerPage: viper.GetInt("TOPICS_PER_PAGE"),
		SyncBatchSize: viper.GetInt("SYNC_BATCH_SIZE"),
		ForumDelay:    time.Duration(viper.GetInt("FORUM_DELAY_MS")) * time.Millisecond,
		TopicDelay:    time.Duration(viper.GetInt("TOPIC_DELAY_MS")) * time.Millisecond,

		CacheTTL:           time.Duration(viper.GetInt("CACHE_TTL_HOURS")) * time.Hour,
		AutoUpdate:         viper.GetBool("AUTO_UPDATE"),
		AutoUpdateInterval: time.Duration(viper.GetInt("AUTO_UPDATE_INTERVAL_HOURS")) * time.Hour,

		ServerPort: viper.GetString("SERVER_PORT"),

		DatabaseFile: filepath.Join(configDir, "bookcache.db"),

		LogLevel:  viper.GetString("LOG_LEVEL"),
		LogFormat: viper.GetString("LOG_FORMAT"),
	}

	// Validate required fields
	if config.BaseURL == "" {
		return nil, fmt.Errorf("BASE_URL is required")
	}
	if config.AudiobookCategoryID <= 0 {
		return nil, fmt.Errorf("AUDIOBOOK_CATEGORY_ID must be positive")
	}
	if config.TopicsPerPage <= 0 {
		return nil, fmt.Errorf("TOPICS_PER_PAGE must be positive")
	}
	if config.SyncBatchSize <= 0 {
		return nil, fmt.Errorf("SYNC_BATCH_SIZE must be positive")
	}

	return config, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
