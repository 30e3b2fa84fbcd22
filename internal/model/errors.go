// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ドメインエラーの分類。呼び出し側は errors.Is で判定する。
var (
	// ErrInvalidState はCSRF stateが未発行・使用済み・不一致、または認可コードが空であることを示す。
	ErrInvalidState = errors.New("invalid oauth state or missing code")
	// ErrNotAuthenticated は指定アカウントのクレデンシャルが存在しないことを示す。
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrTokenExchangeFailed はプロバイダーが認可コードまたはリフレッシュトークンの交換を拒否したことを示す。
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	// ErrUpstreamFetchFailed はページング取得中のエラー（レート制限による拒否を含む）を示す。
	ErrUpstreamFetchFailed = errors.New("upstream fetch failed")
	// ErrMalformedWebhookEvent は必須フィールドが欠けたWebhookイベントを示す。
	ErrMalformedWebhookEvent = errors.New("malformed webhook event")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ（1行）
	Category string // カテゴリ: auth, validation, export, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeNotAuthenticated    = "NOT_AUTHENTICATED"
	ErrCodeTokenExchangeFailed = "TOKEN_EXCHANGE_FAILED"
	ErrCodeUpstreamFetchFailed = "UPSTREAM_FETCH_FAILED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewInvalidStateError はCSRF state不正エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "Invalid OAuth state or missing code",
		Category: "auth",
		Action:   "Restart the authorization flow.",
	}
}

// NewInvalidRequestError はリクエスト検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "Check the request fields and try again.",
	}
}

// NewNotAuthenticatedError は未認可アカウントエラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "Not authenticated",
		Category: "auth",
		Action:   "Connect your account again.",
	}
}

// NewTokenExchangeFailedError はトークン交換失敗エラーを生成する。
// 原因の詳細はサーバーログのみに記録する。
func NewTokenExchangeFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExchangeFailed,
		Message:  "Token exchange failed",
		Category: "auth",
		Action:   "Connect your account again.",
	}
}

// NewUpstreamFetchFailedError はアクティビティ取得失敗エラーを生成する。
func NewUpstreamFetchFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFetchFailed,
		Message:  "Fetching activities failed",
		Category: "export",
		Action:   "Wait a few minutes and request the export again.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "export failed",
		Category: "system",
		Action:   "Please try again later.",
	}
}
