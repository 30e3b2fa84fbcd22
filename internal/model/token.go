package model

import (
	"strconv"
	"time"
)

// Athlete はトークンに紐づく外部アカウントの所有者情報を表す。
type Athlete struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// TokenBundle は1アカウント分のOAuth2クレデンシャル一式を表す。
// Credential Storeが唯一の所有者であり、利用側は呼び出しごとにストアから取得し直す。
type TokenBundle struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    int64   `json:"expires_at"` // epoch秒
	Athlete      Athlete `json:"athlete"`
	Scope        string  `json:"scope,omitempty"`
}

// AccountKey はCredential Storeのキーとなるアカウント識別子を返す。
func (b *TokenBundle) AccountKey() string {
	return strconv.FormatInt(b.Athlete.ID, 10)
}

// DisplayName は表示名を返す。ユーザー名が無い場合は "athlete<id>" を返す。
func (b *TokenBundle) DisplayName() string {
	if b.Athlete.Username != "" {
		return b.Athlete.Username
	}
	return "athlete" + b.AccountKey()
}

// Expiry は有効期限をtime.Timeで返す。
func (b *TokenBundle) Expiry() time.Time {
	return time.Unix(b.ExpiresAt, 0)
}

// ExpiresWithin は有効期限がnowからd以内に到来するかを判定する。
func (b *TokenBundle) ExpiresWithin(now time.Time, d time.Duration) bool {
	return b.ExpiresAt-now.Unix() <= int64(d/time.Second)
}

// Clone はバンドルのコピーを返す。
func (b *TokenBundle) Clone() *TokenBundle {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}
