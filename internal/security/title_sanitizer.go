// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TitleSanitizer はタスクタイトルからHTMLマークアップを除去し、プレーンテキストとして保存できる形にする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TitleSanitizer はタスクタイトルのサニタイズ機能のインターフェース。
type TitleSanitizer interface {
	// Sanitize はすべてのタグを除去し、前後の空白を取り除いたテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(title string) string
}

// titleSanitizer はbluemondayのStrictPolicyによるTitleSanitizerの実装。
// ポリシーはスレッドセーフで、複数のリクエストから共有できる。
type titleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerを生成する。
func NewTitleSanitizer() TitleSanitizer {
	return &titleSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタイトルをプレーンテキストに変換する。
// StrictPolicyがエスケープした文字参照（&amp;等）は元の文字に戻す。
func (s *titleSanitizer) Sanitize(title string) string {
	stripped := s.policy.Sanitize(title)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
