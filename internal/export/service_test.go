package export

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/stravaexport/internal/activity"
	"github.com/hitoshi/stravaexport/internal/model"
	"github.com/hitoshi/stravaexport/internal/security"
)

type mockFetcher struct {
	fn func(ctx context.Context, q activity.Query) ([]model.Activity, error)
}

func (m *mockFetcher) FetchActivities(ctx context.Context, q activity.Query) ([]model.Activity, error) {
	return m.fn(ctx, q)
}

type exportRecord struct {
	success bool
	rows    int
}

// recordingMetrics はRecordExportの呼び出しを記録する。
type recordingMetrics struct {
	exports []exportRecord
}

func (m *recordingMetrics) RecordTokenRefresh(bool)        {}
func (m *recordingMetrics) RecordPageFetched()             {}
func (m *recordingMetrics) RecordRateLimitCooldown()       {}
func (m *recordingMetrics) RecordWebhookEvent(_, _ string) {}
func (m *recordingMetrics) RecordRefetch(string)           {}
func (m *recordingMetrics) RecordExport(success bool, rows int, _ time.Duration) {
	m.exports = append(m.exports, exportRecord{success: success, rows: rows})
}

func newTestService(fetcher ActivityFetcher, m *recordingMetrics) *Service {
	var buf bytes.Buffer
	return NewService(fetcher, NewFormatter(security.NewCSVSanitizer()), m, slog.New(slog.NewJSONHandler(&buf, nil)))
}

func TestService_Export_PassesQuery(t *testing.T) {
	var got activity.Query
	fetcher := &mockFetcher{fn: func(ctx context.Context, q activity.Query) ([]model.Activity, error) {
		got = q
		return []model.Activity{{ID: 1, Name: "Run", Type: "Run", Distance: 5000}}, nil
	}}
	m := &recordingMetrics{}
	svc := newTestService(fetcher, m)

	req := Request{
		AccountID:        "42",
		StartDate:        mustDate(t, "2025-02-01"),
		EndDate:          mustDate(t, "2025-02-28"),
		OnlyWithDistance: true,
	}
	archive, err := svc.Export(context.Background(), req)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if got.AccountID != "42" || !got.OnlyWithDistance || !got.StartDate.Equal(req.StartDate) || !got.EndDate.Equal(req.EndDate) {
		t.Errorf("query = %+v", got)
	}
	if archive.Rows != 1 {
		t.Errorf("Rows = %d, want 1", archive.Rows)
	}
	if len(m.exports) != 1 || !m.exports[0].success || m.exports[0].rows != 1 {
		t.Errorf("metrics = %+v", m.exports)
	}
}

func TestService_Export_FetchErrorReturnsNoArchive(t *testing.T) {
	fetcher := &mockFetcher{fn: func(ctx context.Context, q activity.Query) ([]model.Activity, error) {
		return nil, model.ErrUpstreamFetchFailed
	}}
	m := &recordingMetrics{}
	svc := newTestService(fetcher, m)

	archive, err := svc.Export(context.Background(), Request{AccountID: "42", StartDate: mustDate(t, "2025-02-01"), EndDate: mustDate(t, "2025-02-01")})
	if !errors.Is(err, model.ErrUpstreamFetchFailed) {
		t.Errorf("err = %v, want ErrUpstreamFetchFailed", err)
	}
	if archive != nil {
		t.Error("archive must be nil on failure")
	}
	if len(m.exports) != 1 || m.exports[0].success {
		t.Errorf("metrics = %+v, want one failure", m.exports)
	}
}
