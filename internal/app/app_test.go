package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/stravaexport/internal/config"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STRAVA_CLIENT_ID", "test-client-id")
	t.Setenv("STRAVA_CLIENT_SECRET", "test-client-secret")
	t.Setenv("STRAVA_REDIRECT_URI", "http://localhost:8080/api/auth/callback")
	t.Setenv("FRONTEND_ORIGIN", "http://localhost:5173")
	t.Setenv("PORT", "8080")
	t.Setenv("STRAVA_WEBHOOK_VERIFY_TOKEN", "verify-me")
	t.Setenv("APP_ENV", "development")
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	cfg, log, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil || log == nil {
		t.Fatal("expected non-nil config and logger")
	}
	if cfg.StravaClientID != "test-client-id" {
		t.Errorf("StravaClientID = %q", cfg.StravaClientID)
	}

	// グローバルロガーがJSON出力に設定されていること
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("STRAVA_CLIENT_ID", "")
	t.Setenv("STRAVA_CLIENT_SECRET", "")
	t.Setenv("STRAVA_REDIRECT_URI", "")
	t.Setenv("FRONTEND_ORIGIN", "")
	t.Setenv("PORT", "")

	var buf bytes.Buffer
	cfg, _, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("STRAVA_CLIENT_ID", "")
	t.Setenv("PORT", "")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"serve"}); err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) (*Server, *bytes.Buffer) {
	t.Helper()
	setTestEnv(t)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if mutate != nil {
		mutate(cfg)
	}

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	srv, err := NewServer(cfg, log, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, &buf
}

func TestNewServer_WiresRoutes(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/healthz", http.StatusOK, `"ok":true`},
		{"/api/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=abc", http.StatusOK, `"hub.challenge":"abc"`},
		{"/api/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=abc", http.StatusForbidden, ""},
		{"/api/webhook/events", http.StatusOK, `"events":[]`},
		{"/metrics", http.StatusOK, "stravaexport_"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want to contain %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestNewServer_ProductionHidesEventReplay(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) { cfg.AppEnv = "production" })

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/webhook/events", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestNewServer_WarnsWithoutVerifyToken(t *testing.T) {
	_, buf := newTestServer(t, func(cfg *config.Config) { cfg.WebhookVerifyToken = "" })

	if !strings.Contains(buf.String(), "STRAVA_WEBHOOK_VERIFY_TOKEN") {
		t.Errorf("expected a warning about the verify token, got: %s", buf.String())
	}
}

func TestNewServer_WebhookAlwaysAcknowledged(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, body := range []string{`not json`, `{"object_type":"activity","aspect_type":"delete","object_id":1,"owner_id":2}`} {
		w := httptest.NewRecorder()
		srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(body)))
		if w.Code != http.StatusOK {
			t.Errorf("body %q: status = %d, want 200", body, w.Code)
		}
	}
}

func TestNewServer_ProductionRejectsInternalProviderURL(t *testing.T) {
	setTestEnv(t)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.AppEnv = "production"
	cfg.StravaAPIURL = "https://169.254.169.254/api/v3"

	var buf bytes.Buffer
	if _, err := NewServer(cfg, slog.New(slog.NewJSONHandler(&buf, nil)), nil); err == nil {
		t.Fatal("expected an error for an internal provider URL in production")
	}
}

func TestRunHealthcheck(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	_, port, err := net.SplitHostPort(strings.TrimPrefix(ts.URL, "http://"))
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}

	if err := runHealthcheck(port); err != nil {
		t.Errorf("runHealthcheck() = %v, want nil", err)
	}
}
