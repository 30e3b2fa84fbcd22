package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/stravaexport/internal/activity"
	"github.com/hitoshi/stravaexport/internal/metrics"
	"github.com/hitoshi/stravaexport/internal/model"
)

// ActivityFetcher は期間内のアクティビティを取得するインターフェース。
type ActivityFetcher interface {
	FetchActivities(ctx context.Context, q activity.Query) ([]model.Activity, error)
}

// Request はエクスポート要求。
type Request struct {
	AccountID        string
	StartDate        time.Time
	EndDate          time.Time
	OnlyWithDistance bool
}

// Service はアクティビティ取得からアーカイブ生成までを実行する。
type Service struct {
	fetcher   ActivityFetcher
	formatter *Formatter
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(fetcher ActivityFetcher, formatter *Formatter, collector metrics.MetricsCollector, logger *slog.Logger) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		fetcher:   fetcher,
		formatter: formatter,
		metrics:   collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Export は指定期間のアクティビティをzipアーカイブとして返す。
// 取得に失敗した場合は部分的なアーカイブを返さない。
func (s *Service) Export(ctx context.Context, req Request) (*Archive, error) {
	started := s.now()

	activities, err := s.fetcher.FetchActivities(ctx, activity.Query{
		AccountID:        req.AccountID,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		OnlyWithDistance: req.OnlyWithDistance,
	})
	if err != nil {
		s.metrics.RecordExport(false, 0, s.now().Sub(started))
		return nil, err
	}

	archive, err := s.formatter.ToArchive(activities, req.StartDate, req.EndDate)
	if err != nil {
		s.metrics.RecordExport(false, 0, s.now().Sub(started))
		return nil, fmt.Errorf("build archive: %w", err)
	}

	s.metrics.RecordExport(true, archive.Rows, s.now().Sub(started))
	s.logger.Info("エクスポートを生成しました",
		slog.String("account_id", req.AccountID),
		slog.String("start_date", req.StartDate.Format(DateLayout)),
		slog.String("end_date", req.EndDate.Format(DateLayout)),
		slog.Int("rows", archive.Rows),
		slog.Int("bytes", len(archive.Data)),
	)
	return archive, nil
}
