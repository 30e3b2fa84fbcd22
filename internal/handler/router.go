package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/stravaexport/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	AllowedOrigins    []string
	ExportRateLimiter *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// エクスポート
	ExportService ExportServiceInterface

	// Webhook
	WebhookProcessor  WebhookProcessorInterface
	EnableEventReplay bool // 診断用のイベント参照を公開する（本番では無効）

	// メトリクス（nilの場合は公開しない）
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → SecurityHeaders → CORS
//
// エクスポートのみクライアントIPごとのレート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.AllowedOrigins))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, deps.Logger)
	exportHandler := NewExportHandler(deps.ExportService, deps.Logger)
	webhookHandler := NewWebhookHandler(deps.WebhookProcessor, deps.Logger)

	r.Get("/healthz", Health)

	// 認可フロー
	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
	})

	// エクスポート
	r.Route("/api/export", func(r chi.Router) {
		if deps.ExportRateLimiter != nil {
			r.Use(deps.ExportRateLimiter.Middleware())
		}
		r.Post("/csv", exportHandler.ExportCSV)
	})

	// Webhook
	r.Route("/api/webhook", func(r chi.Router) {
		r.Get("/", webhookHandler.Verify)
		r.Post("/", webhookHandler.Receive)
		if deps.EnableEventReplay {
			r.Get("/events", webhookHandler.Events)
		}
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	return r
}

// Health は生存確認に応答する。
// GET /healthz
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
