package model

// Activity はプロバイダーのアクティビティ一覧・詳細APIが返す生レコード。
// エクスポートで参照するフィールドのみを保持する。
type Activity struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	SportType      string  `json:"sport_type,omitempty"`
	StartDate      string  `json:"start_date"`
	StartDateLocal string  `json:"start_date_local"`
	MovingTime     int64   `json:"moving_time"`  // 秒
	ElapsedTime    int64   `json:"elapsed_time"` // 秒
	Distance       float64 `json:"distance"`     // メートル
}

// ActivityCategory はエクスポート上のアクティビティ分類。
type ActivityCategory string

const (
	CategoryRun  ActivityCategory = "Run"
	CategoryRoll ActivityCategory = "Roll"
	CategoryWalk ActivityCategory = "Walk"
)

// ExportRow はエクスポートの正規化済み1行を表す。
type ExportRow struct {
	ID       int64
	Comment  string
	Category ActivityCategory
	Date     string // YYYY-MM-DD
	Duration string // HH:MM:SS
	Miles    float64
}
