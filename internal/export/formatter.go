// Package export はアクティビティをCSVに整形し、zipアーカイブとして返すエクスポート機能を提供する。
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/hitoshi/stravaexport/internal/model"
	"github.com/hitoshi/stravaexport/internal/security"
)

// DateLayout はリクエストとファイル名で使用する日付の書式。
const DateLayout = "2006-01-02"

// metersToMiles はメートルをマイルに変換する係数。
const metersToMiles = 0.00062137

// Header はCSVの固定ヘッダー。列の順序と有無は変更できない。
var Header = []string{"Comment", "Activity Type", "Activity Date", "Activity Time", "Distance in Miles"}

// Archive はエクスポート結果のzipアーカイブ。
type Archive struct {
	Filename  string // レスポンスのContent-Dispositionに使うファイル名
	EntryName string // zip内のCSVエントリ名
	Data      []byte
	Rows      int
}

// Categorize はプロバイダーのアクティビティ種別をRun/Roll/Walkのいずれかに分類する。
// 大文字小文字を区別し、未知の種別は全てWalkになる。
func Categorize(activityType string) model.ActivityCategory {
	switch activityType {
	case "Run", "VirtualRun":
		return model.CategoryRun
	case "Ride", "EBikeRide", "VirtualRide", "Velomobile", "Wheelchair", "InlineSkate", "RollerSki", "Hnadcycle":
		// "Hnadcycle"はプロバイダー側の表記ゆれをそのまま受け付ける
		return model.CategoryRoll
	default:
		return model.CategoryWalk
	}
}

// FormatDuration は秒数をHH:MM:SSに変換する。時間は日で繰り上げない。
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// MetersToMiles はメートルをマイルに変換する。丸めは行わない。
func MetersToMiles(meters float64) float64 {
	return meters * metersToMiles
}

// activityDate はアクティビティの開始日（YYYY-MM-DD）を返す。
// 現地時刻の開始日時を優先し、無ければUTCの開始日時を使う。
func activityDate(a model.Activity) string {
	raw := a.StartDateLocal
	if raw == "" {
		raw = a.StartDate
	}
	if len(raw) >= len(DateLayout) {
		if _, err := time.Parse(DateLayout, raw[:len(DateLayout)]); err == nil {
			return raw[:len(DateLayout)]
		}
	}
	return ""
}

// activityType は分類に使う種別を返す。typeが無い場合はsport_typeを使う。
func activityType(a model.Activity) string {
	if a.Type != "" {
		return a.Type
	}
	return a.SportType
}

// Formatter はアクティビティをエクスポート行に正規化し、アーカイブを生成する。
type Formatter struct {
	sanitizer security.TextSanitizer
}

// NewFormatter はFormatterを生成する。
func NewFormatter(sanitizer security.TextSanitizer) *Formatter {
	return &Formatter{sanitizer: sanitizer}
}

// Rows はアクティビティを入力順のままエクスポート行に変換する。
func (f *Formatter) Rows(activities []model.Activity) []model.ExportRow {
	rows := make([]model.ExportRow, 0, len(activities))
	for _, a := range activities {
		rows = append(rows, model.ExportRow{
			ID:       a.ID,
			Comment:  f.sanitizer.SanitizeText(a.Name),
			Category: Categorize(activityType(a)),
			Date:     activityDate(a),
			Duration: FormatDuration(a.MovingTime),
			Miles:    MetersToMiles(a.Distance),
		})
	}
	return rows
}

// WriteCSV はヘッダーと行をCSVとして書き出す。行が0件でもヘッダーは必ず出力する。
func WriteCSV(w io.Writer, rows []model.ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.Comment,
			string(r.Category),
			r.Date,
			r.Duration,
			strconv.FormatFloat(r.Miles, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// EntryName は期間から決まるzip内のCSVエントリ名を返す。
func EntryName(start, end time.Time) string {
	return fmt.Sprintf("summary_%s_%s.csv", start.Format(DateLayout), end.Format(DateLayout))
}

// ArchiveFilename は期間から決まるダウンロードファイル名を返す。
func ArchiveFilename(start, end time.Time) string {
	return fmt.Sprintf("strava_export_%s_%s.zip", start.Format(DateLayout), end.Format(DateLayout))
}

// ToArchive はアクティビティをCSVに整形し、1エントリのみを含むzipアーカイブを返す。
func (f *Formatter) ToArchive(activities []model.Activity, start, end time.Time) (*Archive, error) {
	// 1. 行に正規化する
	rows := f.Rows(activities)

	// 2. CSVを1エントリとしてzipに書き込む
	entry := EntryName(start, end)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(entry)
	if err != nil {
		return nil, fmt.Errorf("create zip entry: %w", err)
	}
	if err := WriteCSV(w, rows); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}

	return &Archive{
		Filename:  ArchiveFilename(start, end),
		EntryName: entry,
		Data:      buf.Bytes(),
		Rows:      len(rows),
	}, nil
}
