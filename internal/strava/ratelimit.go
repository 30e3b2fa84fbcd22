package strava

import (
	"net/http"
	"strconv"
	"strings"
)

// defaultShortWindowLimit はレート制限ヘッダーが無い場合の短期ウィンドウ上限。
const defaultShortWindowLimit = 100

// RateLimitUsage はレスポンスヘッダーから読み取った短期ウィンドウの使用状況。
type RateLimitUsage struct {
	Present    bool // 使用量ヘッダーが存在したか
	ShortUsed  int
	ShortLimit int
}

// ExceedsShortWindow は短期ウィンドウの使用量が上限のpercent%を超えているかを判定する。
func (u RateLimitUsage) ExceedsShortWindow(percent int) bool {
	if !u.Present || u.ShortLimit <= 0 {
		return false
	}
	return u.ShortUsed*100 > u.ShortLimit*percent
}

// ParseRateLimit はレート制限ヘッダーを解析する。
// X-RateLimit-Usage を優先し、無ければ X-ReadRateLimit-Usage を使う。
// ヘッダーは "短期,日次" のカンマ区切りで、先頭の値のみを参照する。
func ParseRateLimit(h http.Header) RateLimitUsage {
	usageHeader, limitHeader := "X-RateLimit-Usage", "X-RateLimit-Limit"
	if h.Get(usageHeader) == "" {
		usageHeader, limitHeader = "X-ReadRateLimit-Usage", "X-ReadRateLimit-Limit"
	}

	used, ok := firstValue(h.Get(usageHeader))
	if !ok {
		return RateLimitUsage{}
	}

	limit, ok := firstValue(h.Get(limitHeader))
	if !ok || limit <= 0 {
		limit = defaultShortWindowLimit
	}

	return RateLimitUsage{Present: true, ShortUsed: used, ShortLimit: limit}
}

func firstValue(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	first, _, _ := strings.Cut(v, ",")
	n, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, false
	}
	return n, true
}
