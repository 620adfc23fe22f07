// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string       `json:"code"`             // エラーコード
	Message  string       `json:"message"`          // エラーメッセージ
	Category string       `json:"category"`         // カテゴリ: auth, validation, todo, profile, system
	Action   string       `json:"action"`           // ユーザー向け対処方法
	Fields   []FieldError `json:"fields,omitempty"` // フィールド単位の検証エラー（validationカテゴリのみ）
}

// FieldError はフォームの1フィールドに対する検証エラーを表す。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// HasCode はエラーチェーンに指定コードのAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// 定義済みエラーコード
const (
	ErrCodeAuth                  = "AUTH_ERROR"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken            = "EMAIL_TAKEN"
	ErrCodeUnknownProvider       = "UNKNOWN_PROVIDER"
	ErrCodeProfileNotFound       = "PROFILE_NOT_FOUND"
	ErrCodeSignupAlreadyFinished = "SIGNUP_ALREADY_FINISHED"
	ErrCodeTodoNotFound          = "TODO_NOT_FOUND"
	ErrCodeMutation              = "MUTATION_ERROR"
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeAvatarUnreachable     = "AVATAR_UNREACHABLE"
	ErrCodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRF                  = "CSRF_TOKEN_INVALID"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewAuthError は認証処理（セッション取得・サインイン・サインアウト）の失敗を表すエラーを生成する。
func NewAuthError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeAuth,
		Message:  fmt.Sprintf("認証処理に失敗しました: %s", reason),
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です",
		Category: "auth",
		Action:   "ログインしてください",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致のエラーを生成する。
// どちらが誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewEmailTakenError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログイン画面からサインインしてください。",
	}
}

// NewUnknownProviderError は未設定のOAuthプロバイダが指定された場合のエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("対応していないログインプロバイダです: %s", provider),
		Category: "auth",
		Action:   "別のログイン方法を選択してください。",
	}
}

// NewProfileNotFoundError はプロフィール未作成（サインアップ未完了）を表すエラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "プロフィールが登録されていません。",
		Category: "profile",
		Action:   "サインアップを完了してください。",
	}
}

// NewSignupAlreadyFinishedError はサインアップ完了済みユーザーが再度完了しようとした場合のエラーを生成する。
func NewSignupAlreadyFinishedError() *APIError {
	return &APIError{
		Code:     ErrCodeSignupAlreadyFinished,
		Message:  "サインアップは既に完了しています。",
		Category: "profile",
		Action:   "プロフィール画面から編集してください。",
	}
}

// NewTodoNotFoundError はTODO未検出エラーを生成する。
func NewTodoNotFoundError(todoID int64) *APIError {
	return &APIError{
		Code:     ErrCodeTodoNotFound,
		Message:  fmt.Sprintf("指定されたTODOが見つかりません: %d", todoID),
		Category: "todo",
		Action:   "一覧を再読み込みしてください。",
	}
}

// NewMutationError は書き込み（作成・更新・削除）失敗エラーを生成する。
// ローカル状態は楽観的に更新していないため、ロールバックは不要。
func NewMutationError(op string) *APIError {
	return &APIError{
		Code:     ErrCodeMutation,
		Message:  fmt.Sprintf("%sに失敗しました。", op),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewValidationError はフォーム検証エラーを生成する。
func NewValidationError(fields []FieldError) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "各項目のエラーを確認して修正してください。",
		Fields:   fields,
	}
}

// NewAvatarUnreachableError はアバター画像URLの検証失敗エラーを生成する。
func NewAvatarUnreachableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeAvatarUnreachable,
		Message:  fmt.Sprintf("アバター画像を取得できませんでした: %s", reason),
		Category: "validation",
		Action:   "公開されている画像のURLを指定してください。",
		Fields:   []FieldError{{Field: "avatar_url", Message: "画像を取得できません"}},
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "リクエストを検証できませんでした。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
