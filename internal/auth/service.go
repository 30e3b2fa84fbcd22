// Package auth はOAuth認可フローとトークンのライフサイクル管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/stravaexport/internal/metrics"
	"github.com/hitoshi/stravaexport/internal/model"
	"github.com/hitoshi/stravaexport/internal/repository"
	"github.com/hitoshi/stravaexport/internal/strava"
	"golang.org/x/sync/singleflight"
)

const (
	// stateBytes はCSRF stateの乱数バイト数（128ビット）。
	stateBytes = 16
	// defaultStateTTL は発行済みstateの有効期間。
	defaultStateTTL = 10 * time.Minute
	// refreshThreshold は有効期限までの残り時間がこれ以下になったらリフレッシュする閾値。
	// リクエスト処理中に期限切れになることを避ける。
	refreshThreshold = 60 * time.Second
)

// OAuthProvider はOAuth認可プロバイダーのインターフェース。
type OAuthProvider interface {
	// AuthCodeURL は認可エンドポイントのURLを生成する。
	AuthCodeURL(state string) string
	// ExchangeCode は認可コードをトークンバンドルに交換する。
	ExchangeCode(ctx context.Context, code string) (*model.TokenBundle, error)
	// RefreshToken はリフレッシュトークンで新しいトークンを取得する。
	RefreshToken(ctx context.Context, refreshToken string) (*strava.TokenGrant, error)
}

// ServiceConfig は認可サービスの設定。
type ServiceConfig struct {
	StateTTL time.Duration // 発行済みstateの有効期間
}

// Service はOAuth認可フローとトークンリフレッシュを扱う。
// 同一アカウントへの同時リフレッシュはsingleflightで1回のプロバイダー呼び出しにまとめる。
type Service struct {
	provider OAuthProvider
	creds    repository.CredentialStore
	states   repository.StateStore
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	config   ServiceConfig

	refreshGroup singleflight.Group
	now          func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	provider OAuthProvider,
	creds repository.CredentialStore,
	states repository.StateStore,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	if config.StateTTL <= 0 {
		config.StateTTL = defaultStateTTL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		provider: provider,
		creds:    creds,
		states:   states,
		metrics:  collector,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// SetNow は現在時刻の取得関数を差し替える（テスト用）。
func (s *Service) SetNow(fn func() time.Time) {
	s.now = fn
}

// BeginAuthorization は新しいCSRF stateを発行し、認可URLを返す。
func (s *Service) BeginAuthorization() (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}

	s.states.Add(state, s.now().Add(s.config.StateTTL))
	return s.provider.AuthCodeURL(state), nil
}

// CompleteAuthorization は認可コールバックを処理する。
// stateの検証はネットワーク呼び出しより前に行い、検証に成功したstateは消費される。
// 交換したバンドルはアカウント単位でCredential Storeに保存（上書き）される。
func (s *Service) CompleteAuthorization(ctx context.Context, code, state string) (*model.TokenBundle, error) {
	// 1. code・stateの検証（codeが空の場合はstateを消費しない）
	if code == "" || state == "" {
		return nil, model.ErrInvalidState
	}
	if !s.states.Consume(state, s.now()) {
		return nil, model.ErrInvalidState
	}

	// 2. 認可コードをトークンに交換
	bundle, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrTokenExchangeFailed, err)
	}

	// 3. アカウント単位で保存
	key := bundle.AccountKey()
	s.creds.Put(key, bundle)

	s.logger.Info("アカウントの認可が完了しました",
		slog.String("account_id", key),
		slog.String("display_name", bundle.DisplayName()),
		slog.Time("expires_at", bundle.Expiry().UTC()),
	)

	return bundle, nil
}

// EnsureFreshToken は有効なトークンバンドルを返す。
// 有効期限まで60秒を超える場合はプロバイダーを呼び出さずにそのまま返す。
// それ以外はrefresh_tokenグラントで更新し、返却されたフィールドのみをマージして保存する。
// 交換に失敗した場合は既存のバンドルを変更しない。
func (s *Service) EnsureFreshToken(ctx context.Context, accountID string) (*model.TokenBundle, error) {
	bundle, ok := s.creds.Get(accountID)
	if !ok {
		return nil, model.ErrNotAuthenticated
	}
	if !bundle.ExpiresWithin(s.now(), refreshThreshold) {
		return bundle, nil
	}

	// 共有されたリフレッシュは最初の呼び出し元のキャンセルに巻き込まれないよう切り離して実行する。
	// 各呼び出し元は自身のコンテキストが終了した時点で待機をやめる。
	ch := s.refreshGroup.DoChan(accountID, func() (interface{}, error) {
		return s.refresh(context.WithoutCancel(ctx), accountID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.TokenBundle).Clone(), nil
	}
}

// refresh はリフレッシュ処理の本体。singleflightの内側で実行される。
func (s *Service) refresh(ctx context.Context, accountID string) (*model.TokenBundle, error) {
	// 待機中に他のリクエストが更新・削除している可能性があるため読み直す
	current, ok := s.creds.Get(accountID)
	if !ok {
		return nil, model.ErrNotAuthenticated
	}
	if !current.ExpiresWithin(s.now(), refreshThreshold) {
		return current, nil
	}

	grant, err := s.provider.RefreshToken(ctx, current.RefreshToken)
	if err != nil {
		s.metrics.RecordTokenRefresh(false)
		s.logger.Error("トークンのリフレッシュに失敗しました",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", model.ErrTokenExchangeFailed, err)
	}
	s.metrics.RecordTokenRefresh(true)

	updated := current.Clone()
	updated.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		updated.RefreshToken = grant.RefreshToken
	}
	updated.ExpiresAt = grant.ExpiresAt

	// リフレッシュ中に認可取り消しで削除された場合は復活させない
	if _, ok := s.creds.Get(accountID); !ok {
		return nil, model.ErrNotAuthenticated
	}
	s.creds.Put(accountID, updated)

	s.logger.Info("トークンをリフレッシュしました",
		slog.String("account_id", accountID),
		slog.Time("expires_at", updated.Expiry().UTC()),
	)
	return updated, nil
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
