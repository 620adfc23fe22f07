// Package validate はフォーム入力のフィールド単位の検証を提供する。
// 検証エラーはまとめてmodel.APIError（VALIDATION_ERROR）として返す。
package validate

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/hitoshi/todoman/internal/model"
)

// Validator はフィールド検証エラーをチェーン形式で収集する。
// 並行利用は安全ではない。検証ごとに生成すること。
type Validator struct {
	errs []model.FieldError
}

// New はValidatorを生成する。
func New() *Validator {
	return &Validator{}
}

// Normalize は文字数検証の前に入力をNFC正規化し、前後の空白を除去する。
func Normalize(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// Required は空白を除いた値が空の場合に失敗する。
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.add(field, "必須項目です")
	}
	return v
}

// MinLen は文字数がminに満たない場合に失敗する。
func (v *Validator) MinLen(field, value string, min int) *Validator {
	if utf8.RuneCountInString(value) < min {
		v.add(field, fmt.Sprintf("%d文字以上で入力してください", min))
	}
	return v
}

// MaxLen は文字数がmaxを超える場合に失敗する。
func (v *Validator) MaxLen(field, value string, max int) *Validator {
	if utf8.RuneCountInString(value) > max {
		v.add(field, fmt.Sprintf("%d文字以内で入力してください", max))
	}
	return v
}

// Email はRFC 5322のメールアドレスとして解釈できない場合に失敗する。
func (v *Validator) Email(field, value string) *Validator {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v.add(field, "有効なメールアドレスを入力してください")
	}
	return v
}

// OptionalURL は空文字列、またはhttp/httpsの絶対URLのみを許可する。
func (v *Validator) OptionalURL(field, value string) *Validator {
	if value == "" {
		return v
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.add(field, "有効なURLを入力するか、空欄にしてください")
	}
	return v
}

// Custom は条件が真の場合に任意のメッセージで失敗する。
func (v *Validator) Custom(field string, failed bool, message string) *Validator {
	if failed {
		v.add(field, message)
	}
	return v
}

// HasErrors はこれまでに失敗した検証があるかを返す。
func (v *Validator) HasErrors() bool {
	return len(v.errs) > 0
}

// Err は失敗した検証があればValidationErrorを返す。
func (v *Validator) Err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return model.NewValidationError(v.errs)
}

func (v *Validator) add(field, message string) {
	v.errs = append(v.errs, model.FieldError{Field: field, Message: message})
}
