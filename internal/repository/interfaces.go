// Package repository はプロセス内で保持するストアのインターフェースと実装を提供する。
// すべてのストアは起動時に空で、永続化されない。
// 呼び出し側はインターフェース越しに操作し、背後のコンテナを直接参照しない。
package repository

import (
	"time"

	"github.com/hitoshi/stravaexport/internal/model"
)

// CredentialStore はアカウントIDからトークンバンドルへのマッピングを保持する。
// 1アカウントにつき常に1バンドルのみ存在し、Putは全体を置き換える。
type CredentialStore interface {
	// Get は指定アカウントのバンドルを返す。存在しない場合はfalseを返す。
	// 返却値はコピーであり、変更してもストアには反映されない。
	Get(accountID string) (*model.TokenBundle, bool)
	// Put はバンドルを丸ごと置き換える。
	Put(accountID string, bundle *model.TokenBundle)
	// Delete は指定アカウントのバンドルを削除する。存在しなくてもエラーにならない。
	Delete(accountID string)
}

// StateStore は発行済みで未使用のCSRF stateを保持する。
type StateStore interface {
	// Add はstateを有効期限付きで登録する。
	Add(state string, expiresAt time.Time)
	// Consume はstateが有効であれば削除してtrueを返す。
	// 未登録・使用済み・期限切れの場合はfalseを返す。判定と削除は不可分に行う。
	Consume(state string, now time.Time) bool
	// PurgeExpired は期限切れのstateを削除し、削除件数を返す。
	PurgeExpired(now time.Time) int
}

// EventLog は受信したWebhookイベントを固定容量で保持する診断用ログ。
type EventLog interface {
	// Append はイベントを追加する。容量超過時は最も古いイベントを破棄する。
	Append(event model.LoggedEvent)
	// Snapshot は保持中のイベントを古い順に返す。
	Snapshot() []model.LoggedEvent
}

// ActivityCache はアカウントごとにアクティビティ詳細を固定容量で保持する。
// 容量超過時は挿入順で最も古いエントリを破棄する。
type ActivityCache interface {
	// Put は詳細を保存する。既存IDの場合は値のみ更新し、挿入順は変えない。
	Put(accountID string, activityID int64, detail *model.Activity)
	// Get は詳細を返す。存在しない場合はfalseを返す。
	Get(accountID string, activityID int64) (*model.Activity, bool)
	// Delete は詳細を削除する。存在しなくてもエラーにならない。
	Delete(accountID string, activityID int64)
	// Len はアカウントのエントリ数を返す。
	Len(accountID string) int
	// DropAccount はアカウントのエントリをすべて破棄する。
	DropAccount(accountID string)
}
