package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 外部連携の認証情報はsettingsテーブルが優先され、ここでの値はフォールバックとして使われる。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string
	BaseURL    string
	AdminToken string

	// Rate Limiting (requests per minute)
	RateLimitAdmin int

	// Scheduler
	SchedulerInterval  time.Duration
	SchedulerDueWindow time.Duration

	// Media
	MediaRoot         string
	FallbackImagePath string
	ImageFetchTimeout time.Duration
	ImageMaxSize      int64

	// Record store
	RecordStoreAPIURL     string
	RecordStoreAPIKey     string
	RecordStoreBaseID     string
	RecordStoreTable      string
	RecordStoreRateLimit  float64
	RecordStoreMaxRetries int

	// Social
	SocialGraphURL    string
	SocialAccountID   string
	SocialAccessToken string

	// Webhook
	WebhookURL     string
	WebhookTimeout time.Duration

	// Logging
	LogRetentionDays int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AdminToken = getEnvString("ADMIN_TOKEN", "")
	cfg.RateLimitAdmin = getEnvInt("RATE_LIMIT_ADMIN", 60)
	cfg.SchedulerInterval = getEnvDuration("SCHEDULER_INTERVAL", time.Minute)
	cfg.SchedulerDueWindow = getEnvDuration("SCHEDULER_DUE_WINDOW", 2*time.Hour)
	cfg.MediaRoot = getEnvString("MEDIA_ROOT", "./uploads")
	cfg.FallbackImagePath = getEnvString("FALLBACK_IMAGE_PATH", "")
	cfg.ImageFetchTimeout = getEnvDuration("IMAGE_FETCH_TIMEOUT", 15*time.Second)
	cfg.ImageMaxSize = getEnvInt64("IMAGE_MAX_SIZE", 8388608)
	cfg.RecordStoreAPIURL = strings.TrimRight(getEnvString("RECORDSTORE_API_URL", "https://api.airtable.com/v0"), "/")
	cfg.RecordStoreAPIKey = getEnvString("RECORDSTORE_API_KEY", "")
	cfg.RecordStoreBaseID = getEnvString("RECORDSTORE_BASE_ID", "")
	cfg.RecordStoreTable = getEnvString("RECORDSTORE_TABLE", "Articles")
	cfg.RecordStoreRateLimit = getEnvFloat("RECORDSTORE_RATE_LIMIT", 5)
	cfg.RecordStoreMaxRetries = getEnvInt("RECORDSTORE_MAX_RETRIES", 2)
	cfg.SocialGraphURL = strings.TrimRight(getEnvString("SOCIAL_GRAPH_URL", "https://graph.facebook.com/v21.0"), "/")
	cfg.SocialAccountID = getEnvString("SOCIAL_ACCOUNT_ID", "")
	cfg.SocialAccessToken = getEnvString("SOCIAL_ACCESS_TOKEN", "")
	cfg.WebhookURL = getEnvString("WEBHOOK_URL", "")
	cfg.WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second)
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 14)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
