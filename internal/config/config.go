package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// OAuth
	StravaClientID     string
	StravaClientSecret string
	StravaRedirectURI  string
	StateTTL           time.Duration

	// Strava API（テスト・ステージング用のオーバーライド。空ならプロバイダーの本番URL）
	StravaAuthURL  string
	StravaTokenURL string
	StravaAPIURL   string

	// Webhook
	WebhookVerifyToken string

	// Refetch worker
	RefetchWorkers   int
	RefetchQueueSize int

	// Rate Limit
	RateLimitExport int

	// Server
	ServerPort string
	AppEnv     string
	LogLevel   string

	// CORS
	FrontendOrigin string
	DevOrigin      string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数をすべて列挙したエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.StravaClientID = os.Getenv("STRAVA_CLIENT_ID")
	if cfg.StravaClientID == "" {
		missing = append(missing, "STRAVA_CLIENT_ID")
	}

	cfg.StravaClientSecret = os.Getenv("STRAVA_CLIENT_SECRET")
	if cfg.StravaClientSecret == "" {
		missing = append(missing, "STRAVA_CLIENT_SECRET")
	}

	cfg.StravaRedirectURI = os.Getenv("STRAVA_REDIRECT_URI")
	if cfg.StravaRedirectURI == "" {
		missing = append(missing, "STRAVA_REDIRECT_URI")
	}

	cfg.FrontendOrigin = os.Getenv("FRONTEND_ORIGIN")
	if cfg.FrontendOrigin == "" {
		missing = append(missing, "FRONTEND_ORIGIN")
	}

	cfg.ServerPort = os.Getenv("PORT")
	if cfg.ServerPort == "" {
		missing = append(missing, "PORT")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if _, err := strconv.Atoi(cfg.ServerPort); err != nil {
		return nil, fmt.Errorf("PORT must be numeric: %q", cfg.ServerPort)
	}

	// Optional fields with defaults
	cfg.WebhookVerifyToken = getEnvString("STRAVA_WEBHOOK_VERIFY_TOKEN", "")
	cfg.DevOrigin = getEnvString("DEV_ORIGIN", "http://localhost:5173")
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.StateTTL = getEnvDuration("STATE_TTL", 10*time.Minute)
	cfg.RefetchWorkers = getEnvInt("REFETCH_WORKERS", 4)
	cfg.RefetchQueueSize = getEnvInt("REFETCH_QUEUE_SIZE", 100)
	cfg.RateLimitExport = getEnvInt("RATE_LIMIT_EXPORT", 10)
	cfg.StravaAuthURL = getEnvString("STRAVA_AUTH_URL", "")
	cfg.StravaTokenURL = getEnvString("STRAVA_TOKEN_URL", "")
	cfg.StravaAPIURL = getEnvString("STRAVA_API_URL", "")

	return cfg, nil
}

// IsProduction は本番環境で動作しているかを返す。
// 本番では診断用のイベント参照エンドポイントを公開しない。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// AllowedOrigins はCORSで許可するオリジンの一覧を返す。
func (c *Config) AllowedOrigins() []string {
	origins := []string{c.FrontendOrigin}
	if c.DevOrigin != "" && c.DevOrigin != c.FrontendOrigin {
		origins = append(origins, c.DevOrigin)
	}
	return origins
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
