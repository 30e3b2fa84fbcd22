// Package refetch はWebhookを契機としたアクティビティ詳細の再取得を
// 呼び出し元から切り離して実行するワーカープールを提供する。
// キューは有界で、満杯の場合はジョブを破棄してエラーシンクに通知する。
package refetch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/stravaexport/internal/metrics"
)

// デフォルト値
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 100
)

var (
	// ErrQueueFull はキューが満杯でジョブを受け付けられなかったことを示す。
	ErrQueueFull = errors.New("refetch queue is full")
	// ErrPoolStopped は停止済みのプールにジョブが投入されたことを示す。
	ErrPoolStopped = errors.New("refetch pool is stopped")
)

// Job はアクティビティ詳細の再取得要求。
type Job struct {
	AccountID  string
	ActivityID int64
	AspectType string
	EnqueuedAt time.Time
}

// Handler はジョブを1件処理するインターフェース。
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc は関数をHandlerとして扱うアダプタ。
type HandlerFunc func(ctx context.Context, job Job) error

// Handle はf(ctx, job)を呼び出す。
func (f HandlerFunc) Handle(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// ErrorSink は処理に失敗した、または破棄されたジョブの通知先。
// ワーカーのゴルーチンから呼ばれるため、ブロックしてはならない。
type ErrorSink func(job Job, err error)

// Pool は固定数のワーカーで有界キューのジョブを処理する。
// 失敗したジョブは再試行しない。
type Pool struct {
	handler Handler
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	onError ErrorSink
	workers int

	queue chan Job
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewPool はPoolの新しいインスタンスを生成する。
// workers, queueSizeが0以下の場合はデフォルト値を使用する。
// onErrorがnilの場合は失敗をログに記録するだけになる。
func NewPool(
	handler Handler,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	workers, queueSize int,
	onError ErrorSink,
) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	p := &Pool{
		handler: handler,
		metrics: collector,
		logger:  logger,
		workers: workers,
		queue:   make(chan Job, queueSize),
	}
	p.onError = onError
	if p.onError == nil {
		p.onError = p.logError
	}
	return p
}

// Submit はジョブをキューに投入する。ブロックしない。
// キューが満杯、またはプールが停止済みの場合はfalseを返し、エラーシンクに通知する。
func (p *Pool) Submit(job Job) bool {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.onError(job, ErrPoolStopped)
		return false
	}

	select {
	case p.queue <- job:
		return true
	default:
		p.metrics.RecordRefetch(metrics.RefetchDropped)
		p.onError(job, ErrQueueFull)
		return false
	}
}

// Start はワーカーを起動する。2回目以降の呼び出しは何もしない。
// ctxはジョブ処理に渡され、キャンセルされると処理中のジョブも中断される。
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}

	p.logger.Info("再取得ワーカープールを開始しました",
		slog.Int("workers", p.workers),
		slog.Int("queue_size", cap(p.queue)),
	)
}

// Stop は新規ジョブの受付を停止し、キューに残ったジョブの処理完了を待つ。
// ワーカーが起動していない場合、キューに残ったジョブはErrPoolStoppedとしてエラーシンクに通知する。
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	close(p.queue)
	p.mu.Unlock()

	if !started {
		for job := range p.queue {
			p.onError(job, ErrPoolStopped)
		}
	}

	p.wg.Wait()
	p.logger.Info("再取得ワーカープールを停止しました")
}

// work はキューが閉じられるまでジョブを処理する。
func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for job := range p.queue {
		p.run(ctx, job)
	}
}

// run は1件のジョブを処理する。パニックはワーカーを止めずにエラーとして通知する。
func (p *Pool) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.onError(job, errors.New("refetch handler panicked"))
		}
	}()

	if err := p.handler.Handle(ctx, job); err != nil {
		p.onError(job, err)
	}
}

// logError はデフォルトのエラーシンク。
func (p *Pool) logError(job Job, err error) {
	p.logger.Warn("アクティビティ詳細の再取得に失敗しました",
		slog.String("account_id", job.AccountID),
		slog.Int64("activity_id", job.ActivityID),
		slog.String("error", err.Error()),
	)
}
