package model

import "time"

// Webhookイベントのobject_type。
// プロバイダーはアカウントを "athlete" で通知するが、"account" も同義として扱う。
const (
	WebhookObjectActivity = "activity"
	WebhookObjectAthlete  = "athlete"
	WebhookObjectAccount  = "account"
)

// Webhookイベントのaspect_type
const (
	WebhookAspectCreate = "create"
	WebhookAspectUpdate = "update"
	WebhookAspectDelete = "delete"
)

// WebhookEvent はプロバイダーから非同期に届く変更通知1件を表す。
type WebhookEvent struct {
	ObjectType     string         `json:"object_type"`
	ObjectID       int64          `json:"object_id"`
	AspectType     string         `json:"aspect_type"`
	OwnerID        int64          `json:"owner_id"`
	SubscriptionID int64          `json:"subscription_id"`
	EventTime      int64          `json:"event_time"`
	Updates        map[string]any `json:"updates,omitempty"`
}

// IsAccountObject はアカウントを対象とするイベントかを判定する。
func (e *WebhookEvent) IsAccountObject() bool {
	return e.ObjectType == WebhookObjectAthlete || e.ObjectType == WebhookObjectAccount
}

// IsDeauthorization はアカウントの認可取り消しイベントかを判定する。
// updates.authorized が文字列 "false" の場合のみ該当する。
func (e *WebhookEvent) IsDeauthorization() bool {
	if !e.IsAccountObject() || e.AspectType != WebhookAspectUpdate {
		return false
	}
	v, ok := e.Updates["authorized"].(string)
	return ok && v == "false"
}

// LoggedEvent はイベントログに保持される受信済みイベント。
type LoggedEvent struct {
	ID         string       `json:"id"`
	ReceivedAt time.Time    `json:"received_at"`
	Event      WebhookEvent `json:"event"`
}
