// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// パスワード認証ユーザーのみPasswordHashを持つ。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Metadata     map[string]any // 最後にサインインしたIdPが返したユーザーメタデータ
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	Data           map[string]any // IdPが返した生のアイデンティティ情報
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProviderEmail はメール/パスワード認証を表すプロバイダ名。
const ProviderEmail = "email"

// Session はユーザーのログインセッションを表す。
// 1つのデバイス（ブラウザプロファイル）に紐付く。
type Session struct {
	ID        string
	UserID    string
	DeviceID  string
	ExpiresAt time.Time
	CreatedAt time.Time

	// User は読み込み時に付与される認証ユーザー情報。永続化はしない。
	User *AuthUser
}

// AuthUser はセッションが保持するユーザー情報。
type AuthUser struct {
	ID         string
	Email      string
	Metadata   map[string]any
	Identities []Identity
}

// UserIDOrEmpty はセッションのユーザーIDを返す。nilセッションでは空文字列。
func (s *Session) UserIDOrEmpty() string {
	if s == nil {
		return ""
	}
	return s.UserID
}

// SessionEventType はセッション変更フィードのイベント種別。
type SessionEventType string

const (
	SessionSignedIn       SessionEventType = "SIGNED_IN"
	SessionSignedOut      SessionEventType = "SIGNED_OUT"
	SessionTokenRefreshed SessionEventType = "TOKEN_REFRESHED"
)

// SessionEvent はセッション変更フィードが配信するイベント。
// SignedOutではSessionはnil。
type SessionEvent struct {
	Type    SessionEventType
	Session *Session
}
