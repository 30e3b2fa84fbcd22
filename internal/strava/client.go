// Package strava はフィットネストラッキングサービスのREST APIクライアントを提供する。
// OAuth2の認可コード交換・トークンリフレッシュと、アクティビティの一覧・詳細取得を含む。
package strava

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/hitoshi/stravaexport/internal/model"
	"golang.org/x/oauth2"
)

const (
	defaultAuthURL  = "https://www.strava.com/oauth/authorize"
	defaultTokenURL = "https://www.strava.com/api/v3/oauth/token"
	defaultAPIURL   = "https://www.strava.com/api/v3"
)

// Config はプロバイダークライアントの設定。
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	APIURL   string
}

// APIError はプロバイダーが200以外を返したことを表す。
type APIError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound はエラーがプロバイダーの404（削除・非公開化）かを判定する。
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRateLimited はエラーがプロバイダーの429かを判定する。
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// Client はプロバイダーAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	oauth      *oauth2.Config
	apiURL     string
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientがnilの場合はhttp.DefaultClientを使用する。
func NewClient(config Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if config.AuthURL == "" {
		config.AuthURL = defaultAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	if config.APIURL == "" {
		config.APIURL = defaultAPIURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiURL: config.APIURL,
	}
}

// ListParams はアクティビティ一覧取得のパラメータ。
type ListParams struct {
	After   int64 // epoch秒（この時刻より後）
	Before  int64 // epoch秒（この時刻より前）
	Page    int
	PerPage int
}

// ActivityPage はアクティビティ一覧の1ページ分の結果。
type ActivityPage struct {
	Activities []model.Activity
	RateLimit  RateLimitUsage
}

// ListActivities は認証済みアカウントのアクティビティ一覧を1ページ取得する。
func (c *Client) ListActivities(ctx context.Context, accessToken string, params ListParams) (*ActivityPage, error) {
	q := url.Values{
		"after":    {strconv.FormatInt(params.After, 10)},
		"before":   {strconv.FormatInt(params.Before, 10)},
		"page":     {strconv.Itoa(params.Page)},
		"per_page": {strconv.Itoa(params.PerPage)},
	}

	var activities []model.Activity
	header, err := c.getJSON(ctx, accessToken, "/athlete/activities?"+q.Encode(), &activities)
	if err != nil {
		return nil, err
	}

	return &ActivityPage{
		Activities: activities,
		RateLimit:  ParseRateLimit(header),
	}, nil
}

// GetActivity はアクティビティの詳細を取得する。
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (*model.Activity, error) {
	var activity model.Activity
	if _, err := c.getJSON(ctx, accessToken, "/activities/"+strconv.FormatInt(activityID, 10), &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// getJSON はBearer認証付きでGETし、レスポンスをoutにデコードする。
func (c *Client) getJSON(ctx context.Context, accessToken, path string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("プロバイダーAPIの呼び出しに失敗しました",
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("プロバイダーAPIがエラーステータスを返しました",
			slog.String("path", req.URL.Path),
			slog.Int("http_status", resp.StatusCode),
		)
		return resp.Header, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resp.Header, fmt.Errorf("failed to parse response: %w", err)
	}

	return resp.Header, nil
}
