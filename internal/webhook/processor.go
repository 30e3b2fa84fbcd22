// Package webhook はプロバイダーからのWebhookの購読検証とイベント受信処理を提供する。
// 受信処理は下流の処理を待たずに応答し、アクティビティ詳細の再取得はワーカープールに委ねる。
package webhook

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hitoshi/stravaexport/internal/metrics"
	"github.com/hitoshi/stravaexport/internal/model"
	"github.com/hitoshi/stravaexport/internal/repository"
	"github.com/hitoshi/stravaexport/internal/worker/refetch"
)

// SubscribeMode は購読検証で受け付けるhub.modeの値。
const SubscribeMode = "subscribe"

// ValidationError は購読検証の失敗を表す。StatusはそのままHTTPステータスとして返す。
type ValidationError struct {
	Status int
	Code   string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return e.Code
}

// 購読検証のエラー
var (
	ErrInvalidMode         = &ValidationError{Status: http.StatusBadRequest, Code: "invalid_mode"}
	ErrVerifyTokenMismatch = &ValidationError{Status: http.StatusForbidden, Code: "verify_token_mismatch"}
	ErrMissingChallenge    = &ValidationError{Status: http.StatusBadRequest, Code: "missing_challenge"}
)

// Scheduler は再取得ジョブを非同期に投入するインターフェース。
// refetch.Pool が実装する。
type Scheduler interface {
	Submit(job refetch.Job) bool
}

// Processor はWebhookの検証と受信イベントの振り分けを行う。
type Processor struct {
	verifyToken string
	creds       repository.CredentialStore
	cache       repository.ActivityCache
	events      repository.EventLog
	scheduler   Scheduler
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// NewProcessor はProcessorを生成する。
// verifyTokenが空の場合、購読検証は常に失敗する。
func NewProcessor(
	verifyToken string,
	creds repository.CredentialStore,
	cache repository.ActivityCache,
	events repository.EventLog,
	scheduler Scheduler,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Processor {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Processor{
		verifyToken: verifyToken,
		creds:       creds,
		cache:       cache,
		events:      events,
		scheduler:   scheduler,
		metrics:     collector,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Validate は購読検証リクエストを判定し、成功時はchallengeをそのまま返す。
// I/Oを伴わないため、プロバイダーの短いタイムアウト内に必ず応答できる。
func (p *Processor) Validate(mode, verifyToken, challenge string) (string, error) {
	if mode != SubscribeMode {
		return "", ErrInvalidMode
	}
	if p.verifyToken == "" || verifyToken != p.verifyToken {
		return "", ErrVerifyTokenMismatch
	}
	if challenge == "" {
		return "", ErrMissingChallenge
	}
	return challenge, nil
}

// DecodeEvent はリクエストボディをイベントに変換する。
// JSONとして不正、またはobject_type・aspect_typeが欠けている場合はErrMalformedWebhookEventを返す。
func DecodeEvent(body []byte) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrMalformedWebhookEvent, err)
	}
	if event.ObjectType == "" || event.AspectType == "" {
		return nil, model.ErrMalformedWebhookEvent
	}
	return &event, nil
}

// Ingest は受信したボディを処理し、受理したかどうかを返す。
// 不正なイベントはログに記録してfalseを返す。呼び出し側は常にHTTP 200で応答する。
// 認可取り消しと削除イベントは応答前に同期的に反映し、作成・更新イベントは再取得を予約するだけで待たない。
func (p *Processor) Ingest(body []byte) bool {
	event, err := DecodeEvent(body)
	if err != nil {
		p.logger.Warn("不正なWebhookイベントを受信しました",
			slog.String("error", err.Error()),
			slog.Int("body_bytes", len(body)),
		)
		return false
	}

	// 1. 診断用ログに記録する
	p.events.Append(model.LoggedEvent{
		ID:         p.newID(),
		ReceivedAt: p.now().UTC(),
		Event:      *event,
	})
	p.metrics.RecordWebhookEvent(event.ObjectType, event.AspectType)

	// 2. 種別ごとに振り分ける
	p.dispatch(event)
	return true
}

// dispatch はイベント種別に応じた処理を行う。
func (p *Processor) dispatch(event *model.WebhookEvent) {
	accountID := strconv.FormatInt(event.OwnerID, 10)

	switch {
	case event.IsDeauthorization():
		p.creds.Delete(accountID)
		p.cache.DropAccount(accountID)
		p.logger.Info("アカウントの認可取り消しを反映しました",
			slog.String("account_id", accountID),
		)

	case event.ObjectType == model.WebhookObjectActivity && event.AspectType == model.WebhookAspectDelete:
		p.cache.Delete(accountID, event.ObjectID)
		p.logger.Info("削除されたアクティビティをキャッシュから除去しました",
			slog.String("account_id", accountID),
			slog.Int64("activity_id", event.ObjectID),
		)

	case event.ObjectType == model.WebhookObjectActivity &&
		(event.AspectType == model.WebhookAspectCreate || event.AspectType == model.WebhookAspectUpdate):
		// 結果は待たない。失敗はプールのエラーシンクでログに残る
		p.scheduler.Submit(refetch.Job{
			AccountID:  accountID,
			ActivityID: event.ObjectID,
			AspectType: event.AspectType,
			EnqueuedAt: p.now(),
		})

	default:
		p.logger.Debug("処理対象外のWebhookイベントです",
			slog.String("object_type", event.ObjectType),
			slog.String("aspect_type", event.AspectType),
		)
	}
}

// Events は保持中のイベントを古い順に返す。
func (p *Processor) Events() []model.LoggedEvent {
	return p.events.Snapshot()
}
