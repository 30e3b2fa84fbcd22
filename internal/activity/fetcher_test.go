package activity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/stravaexport/internal/metrics"
	"github.com/hitoshi/stravaexport/internal/model"
	"github.com/hitoshi/stravaexport/internal/strava"
)

// --- モック定義 ---

type mockTokenSource struct {
	fn func(ctx context.Context, accountID string) (*model.TokenBundle, error)
}

func (m *mockTokenSource) EnsureFreshToken(ctx context.Context, accountID string) (*model.TokenBundle, error) {
	if m.fn != nil {
		return m.fn(ctx, accountID)
	}
	return &model.TokenBundle{AccessToken: "access-1"}, nil
}

// mockLister はページ番号ごとに用意した結果を返す。
type mockLister struct {
	pages  []*strava.ActivityPage
	errAt  int // このページ番号でエラーを返す（0は無効）
	calls  []strava.ListParams
	tokens []string
}

func (m *mockLister) ListActivities(ctx context.Context, accessToken string, params strava.ListParams) (*strava.ActivityPage, error) {
	m.calls = append(m.calls, params)
	m.tokens = append(m.tokens, accessToken)
	if m.errAt != 0 && params.Page == m.errAt {
		return nil, &strava.APIError{StatusCode: 429, Body: "Rate Limit Exceeded"}
	}
	if params.Page-1 < len(m.pages) {
		return m.pages[params.Page-1], nil
	}
	return &strava.ActivityPage{}, nil
}

func newTestFetcher(tokens TokenSource, lister ActivityLister) (*Fetcher, *[]time.Duration) {
	var buf bytes.Buffer
	f := NewFetcher(tokens, lister, metrics.Nop{}, slog.New(slog.NewJSONHandler(&buf, nil)))
	var slept []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return f, &slept
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// --- テスト ---

func TestDayBounds_InclusiveUTC(t *testing.T) {
	after, before := DayBounds(date("2025-03-01"), date("2025-03-31"))

	wantAfter := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).Unix()
	wantBefore := time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC).Unix()
	if after != wantAfter {
		t.Errorf("after = %d, want %d", after, wantAfter)
	}
	if before != wantBefore {
		t.Errorf("before = %d, want %d", before, wantBefore)
	}
}

func TestFetcher_OnlyWithDistanceFiltersAndStopsOnEmptyPage(t *testing.T) {
	lister := &mockLister{pages: []*strava.ActivityPage{
		{Activities: []model.Activity{{ID: 1, Distance: 0}, {ID: 2, Distance: 5}}},
		{Activities: nil},
	}}
	f, _ := newTestFetcher(&mockTokenSource{}, lister)

	got, err := f.FetchActivities(context.Background(), Query{
		AccountID:        "42",
		StartDate:        date("2025-01-01"),
		EndDate:          date("2025-01-31"),
		OnlyWithDistance: true,
	})
	if err != nil {
		t.Fatalf("FetchActivities: %v", err)
	}

	if len(got) != 1 || got[0].ID != 2 {
		t.Errorf("activities = %+v, want only id 2", got)
	}
	if len(lister.calls) != 2 {
		t.Errorf("pages requested = %d, want 2", len(lister.calls))
	}
}

func TestFetcher_ShortPageDoesNotStopPaging(t *testing.T) {
	lister := &mockLister{pages: []*strava.ActivityPage{
		{Activities: []model.Activity{{ID: 1, Distance: 10}}},
		{Activities: []model.Activity{{ID: 2, Distance: 0}, {ID: 3, Distance: 20}}},
		{},
	}}
	f, _ := newTestFetcher(&mockTokenSource{}, lister)

	got, err := f.FetchActivities(context.Background(), Query{AccountID: "42", StartDate: date("2025-01-01"), EndDate: date("2025-01-02")})
	if err != nil {
		t.Fatalf("FetchActivities: %v", err)
	}

	// 距離フィルタなしでは全件を返却順で連結する
	wantIDs := []int64{1, 2, 3}
	if len(got) != len(wantIDs) {
		t.Fatalf("len = %d, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %d, want %d", i, got[i].ID, id)
		}
	}

	for i, p := range lister.calls {
		if p.Page != i+1 {
			t.Errorf("call %d page = %d, want %d", i, p.Page, i+1)
		}
		if p.PerPage != PageSize {
			t.Errorf("per_page = %d, want %d", p.PerPage, PageSize)
		}
	}
}

func TestFetcher_CooldownOnlyWhenAboveThreshold(t *testing.T) {
	lister := &mockLister{pages: []*strava.ActivityPage{
		{Activities: []model.Activity{{ID: 1}}, RateLimit: strava.RateLimitUsage{Present: true, ShortUsed: 90, ShortLimit: 100}},
		{Activities: []model.Activity{{ID: 2}}, RateLimit: strava.RateLimitUsage{Present: true, ShortUsed: 91, ShortLimit: 100}},
		{Activities: []model.Activity{{ID: 3}}},
		{RateLimit: strava.RateLimitUsage{Present: true, ShortUsed: 99, ShortLimit: 100}},
	}}
	f, slept := newTestFetcher(&mockTokenSource{}, lister)

	if _, err := f.FetchActivities(context.Background(), Query{AccountID: "42", StartDate: date("2025-01-01"), EndDate: date("2025-01-02")}); err != nil {
		t.Fatalf("FetchActivities: %v", err)
	}

	if len(*slept) != 1 {
		t.Fatalf("cooldowns = %d, want 1", len(*slept))
	}
	if (*slept)[0] != 1200*time.Millisecond {
		t.Errorf("cooldown = %v, want 1.2s", (*slept)[0])
	}
}

func TestFetcher_UsesFreshTokenOnce(t *testing.T) {
	calls := 0
	tokens := &mockTokenSource{fn: func(ctx context.Context, accountID string) (*model.TokenBundle, error) {
		calls++
		if accountID != "42" {
			t.Errorf("accountID = %q, want 42", accountID)
		}
		return &model.TokenBundle{AccessToken: "fresh-token"}, nil
	}}
	lister := &mockLister{pages: []*strava.ActivityPage{{Activities: []model.Activity{{ID: 1}}}}}
	f, _ := newTestFetcher(tokens, lister)

	if _, err := f.FetchActivities(context.Background(), Query{AccountID: "42", StartDate: date("2025-01-01"), EndDate: date("2025-01-01")}); err != nil {
		t.Fatalf("FetchActivities: %v", err)
	}
	if calls != 1 {
		t.Errorf("EnsureFreshToken calls = %d, want 1", calls)
	}
	for _, tok := range lister.tokens {
		if tok != "fresh-token" {
			t.Errorf("access token = %q, want fresh-token", tok)
		}
	}
}

func TestFetcher_TokenErrorPropagates(t *testing.T) {
	tokens := &mockTokenSource{fn: func(ctx context.Context, accountID string) (*model.TokenBundle, error) {
		return nil, model.ErrNotAuthenticated
	}}
	lister := &mockLister{}
	f, _ := newTestFetcher(tokens, lister)

	_, err := f.FetchActivities(context.Background(), Query{AccountID: "42", StartDate: date("2025-01-01"), EndDate: date("2025-01-01")})
	if !errors.Is(err, model.ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
	if len(lister.calls) != 0 {
		t.Errorf("no page should be requested, got %d", len(lister.calls))
	}
}

func TestFetcher_PageErrorAbortsWithoutPartialResult(t *testing.T) {
	lister := &mockLister{
		pages: []*strava.ActivityPage{{Activities: []model.Activity{{ID: 1}}}},
		errAt: 2,
	}
	f, _ := newTestFetcher(&mockTokenSource{}, lister)

	got, err := f.FetchActivities(context.Background(), Query{AccountID: "42", StartDate: date("2025-01-01"), EndDate: date("2025-01-01")})
	if !errors.Is(err, model.ErrUpstreamFetchFailed) {
		t.Errorf("err = %v, want ErrUpstreamFetchFailed", err)
	}
	if !strava.IsRateLimited(err) {
		t.Error("原因の429がラップされていなければならない")
	}
	if got != nil {
		t.Errorf("partial result must not be returned, got %d records", len(got))
	}
}
