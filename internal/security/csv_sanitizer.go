// Package security はアプリケーションのセキュリティ機能を提供する。
package security

// TextSanitizer はプロバイダー由来の自由記述テキストをエクスポート前に処理するインターフェース。
// エクスポートのComment列を書き出す前に使用される。
type TextSanitizer interface {
	// SanitizeText は表計算ソフトで数式として評価されない文字列を返す。
	// 該当しない入力はそのまま返す。
	SanitizeText(raw string) string
}

// formulaPrefixes は表計算ソフトがセルを数式として解釈する先頭文字。
const formulaPrefixes = "=+-@"

// csvSanitizer はCSVインジェクション（数式インジェクション）を無害化するTextSanitizer。
type csvSanitizer struct{}

// NewCSVSanitizer はTextSanitizerを生成する。
func NewCSVSanitizer() TextSanitizer {
	return csvSanitizer{}
}

// SanitizeText は先頭が数式開始文字の場合のみ ' を前置する。
// タグ・実体参照・空白を含め、それ以外の文字は変更しない。
func (csvSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	for _, p := range formulaPrefixes {
		if rune(raw[0]) == p {
			return "'" + raw
		}
	}
	return raw
}
