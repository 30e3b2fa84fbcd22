// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/stravaexport/internal/middleware"
	"github.com/hitoshi/stravaexport/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginAuthorization() (string, error)
	CompleteAuthorization(ctx context.Context, code, state string) (*model.TokenBundle, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendOrigin string // 認可完了後のリダイレクト先オリジン
}

// AuthHandler はOAuth認可フローのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	logger  *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
		logger:  logger,
	}
}

// Login は認可フローを開始し、プロバイダーの認可画面へリダイレクトする。
// GET /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.service.BeginAuthorization()
	if err != nil {
		h.logger.Error("failed to begin authorization", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
			Code:     model.ErrCodeInternal,
			Message:  "Could not start authorization",
			Category: "system",
			Action:   "Please try again later.",
		})
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback は認可コールバックを処理し、フロントエンドへリダイレクトする。
// アカウントID・有効期限・表示名はURLフラグメントで渡し、サーバーのアクセスログに残さない。
// GET /api/auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	bundle, err := h.service.CompleteAuthorization(r.Context(), code, state)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidState):
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		case errors.Is(err, model.ErrTokenExchangeFailed):
			// 原因はサーバーログのみに残す
			h.logger.Error("authorization code exchange failed", slog.String("error", err.Error()))
			middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewTokenExchangeFailedError())
		default:
			h.logger.Error("authorization callback failed", slog.String("error", err.Error()))
			middleware.WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
				Code:     model.ErrCodeInternal,
				Message:  "Authorization failed",
				Category: "system",
				Action:   "Please try again later.",
			})
		}
		return
	}

	middleware.SetAccountID(r.Context(), bundle.AccountKey())
	http.Redirect(w, r, h.successURL(bundle), http.StatusFound)
}

// successURL はフロントエンドの認可完了ページのURLを組み立てる。
func (h *AuthHandler) successURL(bundle *model.TokenBundle) string {
	fragment := strings.Join([]string{
		"athleteId=" + fragmentEscape(bundle.AccountKey()),
		"expiresAt=" + strconv.FormatInt(bundle.ExpiresAt, 10),
		"username=" + fragmentEscape(bundle.DisplayName()),
	}, "&")
	return strings.TrimRight(h.config.FrontendOrigin, "/") + "/auth/success#" + fragment
}

// fragmentEscape はフラグメント内のキー・値用にエスケープする。空白は%20にする。
func fragmentEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
