// Package security は入力テキストの無害化とアバターURLのSSRF対策を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキストとして保存するフィールドからマークアップを取り除く。
// TODOのタイトル・説明はHTMLとして描画しないため、タグはすべて除去する。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はすべてのタグを除去するポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// StripTags はタグを除去し、bluemondayがエスケープした文字実体を元の文字に戻す。
// 後ろに'>'が続かない'<'はタグになり得ないため文字として残す（"x <y" はそのまま）。
// 結果は前後の空白を除いて返す。
func (s *TextSanitizer) StripTags(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(escapeUnclosedOpeners(text))))
}

// escapeUnclosedOpeners は最後の'>'より後ろにある'<'を文字実体に置き換える。
func escapeUnclosedOpeners(text string) string {
	last := strings.LastIndexByte(text, '>')
	tail := text[last+1:]
	if !strings.Contains(tail, "<") {
		return text
	}
	return text[:last+1] + strings.ReplaceAll(tail, "<", "&lt;")
}
