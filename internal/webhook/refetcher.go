package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hitoshi/stravaexport/internal/metrics"
	"github.com/hitoshi/stravaexport/internal/model"
	"github.com/hitoshi/stravaexport/internal/repository"
	"github.com/hitoshi/stravaexport/internal/strava"
	"github.com/hitoshi/stravaexport/internal/worker/refetch"
)

// TokenSource は有効なアクセストークンを提供するインターフェース。
type TokenSource interface {
	EnsureFreshToken(ctx context.Context, accountID string) (*model.TokenBundle, error)
}

// ActivityGetter はアクティビティ詳細を1件取得するインターフェース。
type ActivityGetter interface {
	GetActivity(ctx context.Context, accessToken string, activityID int64) (*model.Activity, error)
}

// Refetcher はWebhookで通知されたアクティビティの詳細を取得し、アカウント別キャッシュに保存する。
// refetch.Handler を実装する。失敗しても再試行しない。
//
// 詳細取得はサーキットブレーカーで保護する。プロバイダーが連続して失敗している間は
// 取得を試みずに即座に失敗させ、レート制限の枠を消費しない。
type Refetcher struct {
	tokens  TokenSource
	getter  ActivityGetter
	creds   repository.CredentialStore
	cache   repository.ActivityCache
	breaker *gobreaker.CircuitBreaker[*model.Activity]
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewRefetcher はRefetcherを生成する。
// サーキットブレーカーの設定:
//   - 1分間の計測ウィンドウ
//   - 5回連続の失敗でオープン
//   - 30秒後にハーフオープンへ移行し、1件だけ試行する
//   - 404（削除・非公開化）は成功として数える
//
// credsは保存直前の認可状態の確認に使用する。
func NewRefetcher(
	tokens TokenSource,
	getter ActivityGetter,
	creds repository.CredentialStore,
	cache repository.ActivityCache,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Refetcher {
	if collector == nil {
		collector = metrics.Nop{}
	}
	cb := gobreaker.NewCircuitBreaker[*model.Activity](gobreaker.Settings{
		Name:        "strava-activity-detail",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || strava.IsNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return &Refetcher{
		tokens:  tokens,
		getter:  getter,
		creds:   creds,
		cache:   cache,
		breaker: cb,
		metrics: collector,
		logger:  logger,
	}
}

// Handle はジョブ1件の詳細を取得してキャッシュに保存する。
// 404はアクティビティの削除・非公開化として扱い、ログに記録してエラーを返さない。
func (r *Refetcher) Handle(ctx context.Context, job refetch.Job) error {
	// 1. トークンを取得（必要ならリフレッシュ）
	token, err := r.tokens.EnsureFreshToken(ctx, job.AccountID)
	if err != nil {
		r.metrics.RecordRefetch(metrics.RefetchFailed)
		return fmt.Errorf("refetch activity %d: %w", job.ActivityID, err)
	}

	// 2. 詳細を取得
	detail, err := r.breaker.Execute(func() (*model.Activity, error) {
		return r.getter.GetActivity(ctx, token.AccessToken, job.ActivityID)
	})
	if err != nil {
		if strava.IsNotFound(err) {
			r.metrics.RecordRefetch(metrics.RefetchNotFound)
			r.logger.Info("アクティビティが見つかりません（削除または非公開）",
				slog.String("account_id", job.AccountID),
				slog.Int64("activity_id", job.ActivityID),
			)
			return nil
		}
		r.metrics.RecordRefetch(metrics.RefetchFailed)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("refetch activity %d skipped: %w", job.ActivityID, err)
		}
		return fmt.Errorf("refetch activity %d: %w", job.ActivityID, err)
	}

	// 3. キャッシュに保存（容量超過時は最古のエントリが破棄される）
	r.cache.Put(job.AccountID, job.ActivityID, detail)

	// 4. 取得中に認可が取り消された場合は保存したエントリを取り消す。
	// 取り消し側はクレデンシャル削除の後にキャッシュを破棄するため、保存後に確認すれば取り残さない。
	if _, ok := r.creds.Get(job.AccountID); !ok {
		r.cache.Delete(job.AccountID, job.ActivityID)
		r.metrics.RecordRefetch(metrics.RefetchDiscarded)
		r.logger.Info("認可が取り消されたため取得した詳細を破棄しました",
			slog.String("account_id", job.AccountID),
			slog.Int64("activity_id", job.ActivityID),
		)
		return nil
	}
	r.metrics.RecordRefetch(metrics.RefetchCached)
	r.logger.Debug("アクティビティ詳細をキャッシュしました",
		slog.String("account_id", job.AccountID),
		slog.Int64("activity_id", job.ActivityID),
		slog.Duration("queued_for", time.Since(job.EnqueuedAt)),
	)
	return nil
}

// compile-time interface check
var _ refetch.Handler = (*Refetcher)(nil)
