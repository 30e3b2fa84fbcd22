package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/stravaexport/internal/activity"
	"github.com/hitoshi/stravaexport/internal/auth"
	"github.com/hitoshi/stravaexport/internal/config"
	"github.com/hitoshi/stravaexport/internal/export"
	"github.com/hitoshi/stravaexport/internal/handler"
	"github.com/hitoshi/stravaexport/internal/logger"
	"github.com/hitoshi/stravaexport/internal/metrics"
	"github.com/hitoshi/stravaexport/internal/middleware"
	"github.com/hitoshi/stravaexport/internal/repository"
	"github.com/hitoshi/stravaexport/internal/security"
	"github.com/hitoshi/stravaexport/internal/strava"
	"github.com/hitoshi/stravaexport/internal/webhook"
	"github.com/hitoshi/stravaexport/internal/worker/cleanup"
	"github.com/hitoshi/stravaexport/internal/worker/refetch"
)

// providerTimeout はプロバイダーへの1リクエストあたりのタイムアウト。
const providerTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("env", cfg.AppEnv),
	)

	return runServe(cfg, log)
}

// Server は全依存関係をワイヤリングしたAPIサーバーの構成要素。
type Server struct {
	Handler http.Handler

	pool        *refetch.Pool
	sweeper     *cleanup.StateSweeper
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

// NewServer は設定からストア・サービス・ワーカー・ルーターを組み立てる。
// httpClientはプロバイダーAPIの呼び出しに使用する。nilの場合は環境に応じたクライアントを生成する。
func NewServer(cfg *config.Config, log *slog.Logger, httpClient *http.Client) (*Server, error) {
	if httpClient == nil {
		client, err := newProviderHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		httpClient = client
	}

	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. インメモリストア
	creds := repository.NewMemoryCredentialStore()
	states := repository.NewMemoryStateStore()
	events := repository.NewRingEventLog(repository.DefaultEventLogCapacity)
	cache := repository.NewMemoryActivityCache(repository.DefaultActivityCacheCapacity)

	// 3. プロバイダークライアントと認可サービス
	client := strava.NewClient(strava.Config{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		RedirectURL:  cfg.StravaRedirectURI,
		AuthURL:      cfg.StravaAuthURL,
		TokenURL:     cfg.StravaTokenURL,
		APIURL:       cfg.StravaAPIURL,
	}, httpClient, log)

	authService := auth.NewService(client, creds, states, collector, log, auth.ServiceConfig{
		StateTTL: cfg.StateTTL,
	})

	// 4. エクスポート
	fetcher := activity.NewFetcher(authService, client, collector, log)
	formatter := export.NewFormatter(security.NewCSVSanitizer())
	exportService := export.NewService(fetcher, formatter, collector, log)

	// 5. Webhookと再取得ワーカー
	refetcher := webhook.NewRefetcher(authService, client, creds, cache, collector, log)
	pool := refetch.NewPool(refetcher, collector, log, cfg.RefetchWorkers, cfg.RefetchQueueSize, nil)
	processor := webhook.NewProcessor(cfg.WebhookVerifyToken, creds, cache, events, pool, collector, log)
	if cfg.WebhookVerifyToken == "" {
		log.Warn("STRAVA_WEBHOOK_VERIFY_TOKEN is not set; webhook subscription validation will always fail")
	}

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.ExportRateLimiterConfig(cfg.RateLimitExport), log)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		AllowedOrigins:    cfg.AllowedOrigins(),
		ExportRateLimiter: rateLimiter,
		AuthService:       authService,
		AuthConfig:        handler.AuthHandlerConfig{FrontendOrigin: cfg.FrontendOrigin},
		ExportService:     exportService,
		WebhookProcessor:  processor,
		EnableEventReplay: !cfg.IsProduction(),
		MetricsHandler:    metrics.Handler(registry),
	})

	return &Server{
		Handler:     router,
		pool:        pool,
		sweeper:     cleanup.NewStateSweeper(states, log),
		rateLimiter: rateLimiter,
		logger:      log,
	}, nil
}

// newProviderHTTPClient はプロバイダー呼び出し用のHTTPクライアントを生成する。
// 本番ではURLの上書き先を検証し、内部ネットワークへの接続を拒否するクライアントを使う。
func newProviderHTTPClient(cfg *config.Config) (*http.Client, error) {
	if !cfg.IsProduction() {
		return &http.Client{Timeout: providerTimeout}, nil
	}

	guard := security.NewEgressGuard()
	for name, raw := range map[string]string{
		"STRAVA_AUTH_URL":  cfg.StravaAuthURL,
		"STRAVA_TOKEN_URL": cfg.StravaTokenURL,
		"STRAVA_API_URL":   cfg.StravaAPIURL,
	} {
		if raw == "" {
			continue
		}
		if err := guard.ValidateURL(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return guard.NewClient(providerTimeout), nil
}

// Start はバックグラウンドのワーカー（再取得プールとstate掃除）を起動する。
// ctxがキャンセルされると掃除ジョブは終了する。
func (s *Server) Start(ctx context.Context) {
	s.pool.Start(ctx)
	go s.sweeper.Run(ctx)
}

// Close はワーカーとレートリミッターを停止する。キューに残った再取得ジョブの完了を待つ。
func (s *Server) Close() {
	s.pool.Stop()
	s.rateLimiter.Stop()
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. 依存関係のワイヤリングとワーカーの起動
	srv, err := NewServer(cfg, log, nil)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	srv.Start(ctx)

	// 2. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// エクスポートは複数ページの取得とクールダウンを含むため長めに取る
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-listenErr:
		cancel()
		srv.Close()
		return fmt.Errorf("server listen error: %w", err)
	}
	log.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 3. ワーカーの停止
	cancel()
	srv.Close()

	log.Info("API server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
