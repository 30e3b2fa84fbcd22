// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"sync"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// requestInfoContextKey はリクエスト単位の注釈を格納するためのキー。
var requestInfoContextKey = contextKey("request_info")

// requestInfo はハンドラーがリクエスト処理中に判明した情報をログミドルウェアへ渡すための入れ物。
// アカウントIDはリクエストボディやクエリから判明するため、ミドルウェアの時点では分からない。
type requestInfo struct {
	mu        sync.Mutex
	accountID string
}

// withRequestInfo はコンテキストに空の注釈を注入する。
func withRequestInfo(ctx context.Context) (context.Context, *requestInfo) {
	info := &requestInfo{}
	return context.WithValue(ctx, requestInfoContextKey, info), info
}

// SetAccountID はリクエストの対象アカウントIDを記録する。
// ログミドルウェアを通過していないコンテキストでは何もしない。
func SetAccountID(ctx context.Context, accountID string) {
	info, ok := ctx.Value(requestInfoContextKey).(*requestInfo)
	if !ok {
		return
	}
	info.mu.Lock()
	info.accountID = accountID
	info.mu.Unlock()
}

// AccountIDFromContext は記録済みのアカウントIDを返す。未記録の場合は空文字列を返す。
func AccountIDFromContext(ctx context.Context) string {
	info, ok := ctx.Value(requestInfoContextKey).(*requestInfo)
	if !ok {
		return ""
	}
	return info.get()
}

func (i *requestInfo) get() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.accountID
}
