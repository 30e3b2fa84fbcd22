// Package activity はプロバイダーからのアクティビティ一括取得を提供する。
// ページング取得と、レート制限ヘッダーに基づく固定クールダウンを含む。
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/stravaexport/internal/metrics"
	"github.com/hitoshi/stravaexport/internal/model"
	"github.com/hitoshi/stravaexport/internal/strava"
)

const (
	// PageSize は1ページあたりの取得件数。
	PageSize = 200
	// rateLimitPercent は短期ウィンドウの使用率がこれを超えたらクールダウンする閾値（%）。
	rateLimitPercent = 90
	// cooldown は閾値超過時に次ページ取得前に待機する固定時間。指数バックオフではない。
	cooldown = 1200 * time.Millisecond
)

// TokenSource は有効なアクセストークンを提供するインターフェース。
type TokenSource interface {
	EnsureFreshToken(ctx context.Context, accountID string) (*model.TokenBundle, error)
}

// ActivityLister はアクティビティ一覧の1ページを取得するインターフェース。
type ActivityLister interface {
	ListActivities(ctx context.Context, accessToken string, params strava.ListParams) (*strava.ActivityPage, error)
}

// Query はアクティビティ取得の条件。
type Query struct {
	AccountID        string
	StartDate        time.Time // 日付部分のみを使用（UTC）
	EndDate          time.Time // 日付部分のみを使用（UTC）、当日を含む
	OnlyWithDistance bool      // 距離0以下のアクティビティを除外する
}

// Fetcher はレート制限を考慮してアクティビティをページング取得する。
type Fetcher struct {
	tokens  TokenSource
	lister  ActivityLister
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewFetcher はFetcherを生成する。
func NewFetcher(tokens TokenSource, lister ActivityLister, collector metrics.MetricsCollector, logger *slog.Logger) *Fetcher {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Fetcher{
		tokens:  tokens,
		lister:  lister,
		metrics: collector,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// DayBounds は開始日の0時と終了日の23:59:59をUTCのepoch秒で返す。両端を含む。
func DayBounds(start, end time.Time) (after, before int64) {
	s := start.UTC()
	e := end.UTC()
	startOfDay := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	endOfDay := time.Date(e.Year(), e.Month(), e.Day(), 23, 59, 59, 0, time.UTC)
	return startOfDay.Unix(), endOfDay.Unix()
}

// FetchActivities は期間内のアクティビティを全ページ取得し、プロバイダーの返却順で連結して返す。
// 1ページ目から順に取得し、0件のページが返った時点で終了する。
// 件数がページサイズ未満でも終了しない（プロバイダーは途中のページを満杯にする保証がない）。
// 取得中のエラーはErrUpstreamFetchFailedとして返し、途中までの結果は返さない。
func (f *Fetcher) FetchActivities(ctx context.Context, q Query) ([]model.Activity, error) {
	after, before := DayBounds(q.StartDate, q.EndDate)

	token, err := f.tokens.EnsureFreshToken(ctx, q.AccountID)
	if err != nil {
		return nil, err
	}

	var activities []model.Activity
	for page := 1; ; page++ {
		result, err := f.lister.ListActivities(ctx, token.AccessToken, strava.ListParams{
			After:   after,
			Before:  before,
			Page:    page,
			PerPage: PageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", model.ErrUpstreamFetchFailed, page, err)
		}
		f.metrics.RecordPageFetched()

		if len(result.Activities) == 0 {
			break
		}

		for _, a := range result.Activities {
			if q.OnlyWithDistance && a.Distance <= 0 {
				continue
			}
			activities = append(activities, a)
		}

		if result.RateLimit.ExceedsShortWindow(rateLimitPercent) {
			f.metrics.RecordRateLimitCooldown()
			f.logger.Warn("短期レート制限に近づいたため待機します",
				slog.String("account_id", q.AccountID),
				slog.Int("page", page),
				slog.Int("short_used", result.RateLimit.ShortUsed),
				slog.Int("short_limit", result.RateLimit.ShortLimit),
			)
			if err := f.sleep(ctx, cooldown); err != nil {
				return nil, fmt.Errorf("%w: %w", model.ErrUpstreamFetchFailed, err)
			}
		}
	}

	f.logger.Info("アクティビティの取得が完了しました",
		slog.String("account_id", q.AccountID),
		slog.Int("count", len(activities)),
	)
	return activities, nil
}

// sleepContext はdの間待機する。コンテキストがキャンセルされた場合はその時点で戻る。
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
