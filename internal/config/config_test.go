package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("STRAVA_CLIENT_ID", "12345")
	t.Setenv("STRAVA_CLIENT_SECRET", "test-client-secret")
	t.Setenv("STRAVA_REDIRECT_URI", "http://localhost:4000/api/auth/callback")
	t.Setenv("FRONTEND_ORIGIN", "https://export.example.com")
	t.Setenv("PORT", "4000")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.StravaClientID != "12345" {
		t.Errorf("StravaClientID = %q, want %q", cfg.StravaClientID, "12345")
	}
	if cfg.StravaClientSecret != "test-client-secret" {
		t.Errorf("StravaClientSecret = %q", cfg.StravaClientSecret)
	}
	if cfg.StravaRedirectURI != "http://localhost:4000/api/auth/callback" {
		t.Errorf("StravaRedirectURI = %q", cfg.StravaRedirectURI)
	}
	if cfg.FrontendOrigin != "https://export.example.com" {
		t.Errorf("FrontendOrigin = %q", cfg.FrontendOrigin)
	}
	if cfg.ServerPort != "4000" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "4000")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"WebhookVerifyToken", cfg.WebhookVerifyToken, ""},
		{"DevOrigin", cfg.DevOrigin, "http://localhost:5173"},
		{"AppEnv", cfg.AppEnv, "development"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"StateTTL", cfg.StateTTL, 10 * time.Minute},
		{"RefetchWorkers", cfg.RefetchWorkers, 4},
		{"RefetchQueueSize", cfg.RefetchQueueSize, 100},
		{"RateLimitExport", cfg.RateLimitExport, 10},
		{"StravaAuthURL", cfg.StravaAuthURL, ""},
		{"StravaTokenURL", cfg.StravaTokenURL, ""},
		{"StravaAPIURL", cfg.StravaAPIURL, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("STRAVA_WEBHOOK_VERIFY_TOKEN", "verify-me")
	t.Setenv("DEV_ORIGIN", "http://localhost:3000")
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STATE_TTL", "5m")
	t.Setenv("REFETCH_WORKERS", "8")
	t.Setenv("REFETCH_QUEUE_SIZE", "500")
	t.Setenv("RATE_LIMIT_EXPORT", "3")
	t.Setenv("STRAVA_API_URL", "http://127.0.0.1:9999/api/v3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.WebhookVerifyToken != "verify-me" {
		t.Errorf("WebhookVerifyToken = %q", cfg.WebhookVerifyToken)
	}
	if cfg.DevOrigin != "http://localhost:3000" {
		t.Errorf("DevOrigin = %q", cfg.DevOrigin)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false, want true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.StateTTL != 5*time.Minute {
		t.Errorf("StateTTL = %v", cfg.StateTTL)
	}
	if cfg.RefetchWorkers != 8 || cfg.RefetchQueueSize != 500 {
		t.Errorf("Refetch = %d/%d", cfg.RefetchWorkers, cfg.RefetchQueueSize)
	}
	if cfg.RateLimitExport != 3 {
		t.Errorf("RateLimitExport = %d", cfg.RateLimitExport)
	}
	if cfg.StravaAPIURL != "http://127.0.0.1:9999/api/v3" {
		t.Errorf("StravaAPIURL = %q", cfg.StravaAPIURL)
	}
}

func TestLoad_InvalidOptionalValuesFallBackToDefaults(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("STATE_TTL", "soon")
	t.Setenv("REFETCH_WORKERS", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.StateTTL != 10*time.Minute {
		t.Errorf("StateTTL = %v, want default", cfg.StateTTL)
	}
	if cfg.RefetchWorkers != 4 {
		t.Errorf("RefetchWorkers = %d, want default", cfg.RefetchWorkers)
	}
}

func TestLoad_MissingRequiredVars_ReturnsError(t *testing.T) {
	required := []string{
		"STRAVA_CLIENT_ID",
		"STRAVA_CLIENT_SECRET",
		"STRAVA_REDIRECT_URI",
		"FRONTEND_ORIGIN",
		"PORT",
	}

	for _, key := range required {
		t.Run(key, func(t *testing.T) {
			setRequiredEnvVars(t)
			t.Setenv(key, "")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error when %s is missing", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("error %q should mention %s", err, key)
			}
		})
	}
}

func TestLoad_ListsAllMissingVars(t *testing.T) {
	for _, key := range []string{"STRAVA_CLIENT_ID", "STRAVA_CLIENT_SECRET", "STRAVA_REDIRECT_URI", "FRONTEND_ORIGIN", "PORT"} {
		t.Setenv(key, "")
	}

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"STRAVA_CLIENT_ID", "FRONTEND_ORIGIN", "PORT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q should mention %s", err, key)
		}
	}
}

func TestLoad_NonNumericPort_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("PORT", "http")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric PORT")
	}
}

func TestConfig_AllowedOrigins(t *testing.T) {
	tests := []struct {
		name     string
		frontend string
		dev      string
		want     []string
	}{
		{"フロントと開発用", "https://app.example.com", "http://localhost:5173", []string{"https://app.example.com", "http://localhost:5173"}},
		{"重複は1つにまとめる", "http://localhost:5173", "http://localhost:5173", []string{"http://localhost:5173"}},
		{"開発用なし", "https://app.example.com", "", []string{"https://app.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{FrontendOrigin: tt.frontend, DevOrigin: tt.dev}
			got := cfg.AllowedOrigins()
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("AllowedOrigins() = %v, want %v", got, tt.want)
			}
		})
	}
}
