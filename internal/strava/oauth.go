package strava

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/stravaexport/internal/model"
	"golang.org/x/oauth2"
)

// authScopes は認可URLに付与する固定スコープ。
// プロバイダーはカンマ区切りを要求するため、oauth2.ConfigのScopesは使わずに直接指定する。
var authScopes = []string{"read", "activity:read", "activity:read_all"}

// TokenGrant はリフレッシュグラントで返却されるフィールド。
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// AuthCodeURL はプロバイダーの認可エンドポイントURLを生成する。
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("approval_prompt", "auto"),
		oauth2.SetAuthURLParam("scope", strings.Join(authScopes, ",")),
	)
}

// ExchangeCode はauthorization_codeグラントで認可コードをトークンバンドルに交換する。
func (c *Client) ExchangeCode(ctx context.Context, code string) (*model.TokenBundle, error) {
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("authorization code exchange failed: %w", err)
	}

	athlete, err := athleteFromToken(tok)
	if err != nil {
		return nil, err
	}

	bundle := &model.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAtFromToken(tok),
		Athlete:      athlete,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		bundle.Scope = scope
	}
	return bundle, nil
}

// RefreshToken はrefresh_tokenグラントで新しいアクセストークンを取得する。
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token exchange failed: %w", err)
	}
	return &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAtFromToken(tok),
	}, nil
}

// oauthContext はoauth2パッケージにHTTPクライアントを渡すためのコンテキストを返す。
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// expiresAtFromToken はレスポンスのexpires_at（epoch秒）を優先し、無ければexpires_inから算出した値を返す。
func expiresAtFromToken(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_at").(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	return tok.Expiry.Unix()
}

// athleteFromToken はトークンレスポンスに含まれるathleteオブジェクトを取り出す。
func athleteFromToken(tok *oauth2.Token) (model.Athlete, error) {
	raw, ok := tok.Extra("athlete").(map[string]interface{})
	if !ok {
		return model.Athlete{}, fmt.Errorf("token response has no athlete")
	}

	id, ok := raw["id"].(float64)
	if !ok || id == 0 {
		return model.Athlete{}, fmt.Errorf("token response has no athlete id")
	}

	athlete := model.Athlete{ID: int64(id)}
	if username, ok := raw["username"].(string); ok {
		athlete.Username = username
	}
	return athlete, nil
}
