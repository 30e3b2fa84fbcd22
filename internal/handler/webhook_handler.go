package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/stravaexport/internal/middleware"
	"github.com/hitoshi/stravaexport/internal/model"
	"github.com/hitoshi/stravaexport/internal/webhook"
)

// maxWebhookBodyBytes はWebhookイベントボディの上限。
const maxWebhookBodyBytes = 64 << 10

// WebhookProcessorInterface はWebhookハンドラーが必要とする処理のインターフェース。
type WebhookProcessorInterface interface {
	Validate(mode, verifyToken, challenge string) (string, error)
	Ingest(body []byte) bool
	Events() []model.LoggedEvent
}

// WebhookHandler はWebhookの購読検証・イベント受信のHTTPハンドラー。
type WebhookHandler struct {
	processor WebhookProcessorInterface
	logger    *slog.Logger
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(processor WebhookProcessorInterface, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		logger:    logger,
	}
}

// Verify は購読検証のハンドシェイクに応答する。I/Oを伴わない。
// GET /api/webhook?hub.mode=subscribe&hub.verify_token=xxx&hub.challenge=yyy
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := h.processor.Validate(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if err != nil {
		var vErr *webhook.ValidationError
		if !errors.As(err, &vErr) {
			middleware.WriteInternalServerError(w)
			return
		}
		h.logger.Warn("webhook subscription validation rejected", slog.String("reason", vErr.Code))
		middleware.WriteJSON(w, vErr.Status, map[string]string{"error": vErr.Code})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

// Receive はイベントを受信する。処理結果によらず200で応答し、プロバイダーの再送を防ぐ。
// POST /api/webhook
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Warn("failed to read webhook body", slog.String("error", err.Error()))
		middleware.WriteJSON(w, http.StatusOK, map[string]bool{"received": false})
		return
	}

	received := h.processor.Ingest(body)
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"received": received})
}

// Events は直近の受信イベントを返す。本番環境ではルーティングしない。
// GET /api/webhook/events
func (h *WebhookHandler) Events(w http.ResponseWriter, r *http.Request) {
	events := h.processor.Events()
	if events == nil {
		events = []model.LoggedEvent{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
