// Package cleanup はインメモリストアの定期掃除ジョブを提供する。
// 使われないまま期限切れになったCSRF stateを1分間隔で削除する。
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval は掃除の実行間隔。
const DefaultInterval = time.Minute

// StatePurger は期限切れstateの削除を抽象化するインターフェース。
// repository.StateStore を受け付けることができる。
type StatePurger interface {
	PurgeExpired(now time.Time) int
}

// StateSweeper は期限切れのCSRF stateを定期的に削除するジョブ。
// 削除は冪等であり、対象がない場合は何もしない。
type StateSweeper struct {
	states   StatePurger
	logger   *slog.Logger
	Interval time.Duration // 実行間隔（デフォルト: 1分）
	now      func() time.Time
}

// NewStateSweeper は新しいStateSweeperを生成する。
func NewStateSweeper(states StatePurger, logger *slog.Logger) *StateSweeper {
	return &StateSweeper{
		states:   states,
		logger:   logger,
		Interval: DefaultInterval,
		now:      time.Now,
	}
}

// RunOnce は期限切れstateを1回削除し、削除件数を返す。
func (s *StateSweeper) RunOnce() int {
	removed := s.states.PurgeExpired(s.now())
	if removed > 0 {
		s.logger.Info("期限切れのOAuth stateを削除しました",
			slog.Int("removed_count", removed),
		)
	}
	return removed
}

// Run はコンテキストがキャンセルされるまでInterval間隔でRunOnceを実行する。
func (s *StateSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.logger.Info("stateクリーンアップを開始しました",
		slog.Duration("interval", s.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stateクリーンアップを停止しました")
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}
