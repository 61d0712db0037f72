package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	AccountID string
	OfficeIDs []string

	StreamInterval time.Duration
	StreamBatch    int

	FeedCap         int
	BootstrapWindow time.Duration

	AnnounceEnabled bool
	AnnounceRepeats int
	AnnouncePause   time.Duration
	AnnounceSettle  time.Duration

	RateLimitPerMinute       int
	RateLimitBurst           int
	OfficeRateLimitPerMinute int
	OfficeRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		RedisDB:     readInt("REDIS_DB", 0),

		AccountID: os.Getenv("ACCOUNT_ID"),
		OfficeIDs: readList("OFFICE_IDS"),

		StreamInterval: readDurationSeconds("STREAM_POLL_INTERVAL_SECONDS", 1),
		StreamBatch:    readInt("STREAM_BATCH_SIZE", 100),

		FeedCap:         readInt("NOTIFICATION_FEED_CAP", 50),
		BootstrapWindow: readDurationSeconds("BOOTSTRAP_WINDOW_SECONDS", 86400),

		AnnounceEnabled: readBool("ANNOUNCE_ENABLED", true),
		AnnounceRepeats: readInt("ANNOUNCE_REPEATS", 2),
		AnnouncePause:   readDurationSeconds("ANNOUNCE_PAUSE_SECONDS", 2),
		AnnounceSettle:  readDurationSeconds("ANNOUNCE_SETTLE_SECONDS", 1),

		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		OfficeRateLimitPerMinute: readInt("OFFICE_RATE_LIMIT_PER_MIN", 600),
		OfficeRateLimitBurst:     readInt("OFFICE_RATE_LIMIT_BURST", 120),
	}
}

func readList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	return values
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
