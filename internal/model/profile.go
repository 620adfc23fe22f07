package model

import "time"

// Profile はユーザーの表示用プロフィールとオンボーディング状態を表す。
// IDはユーザーIDと同一。
type Profile struct {
	ID                string    `json:"id"`
	UserName          *string   `json:"user_name"`
	AvatarURL         *string   `json:"avatar_url"`
	HasFinishedSignup bool      `json:"has_finished_signup"`
	SyncWithProvider  bool      `json:"sync_with_provider"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EmailProfile はメール/パスワード登録ユーザーがサインアップ完了時に登録するプロフィール。
type EmailProfile struct {
	ID        string
	UserName  string
	AvatarURL *string
	CreatedAt time.Time
}

// ProfileInput はプロフィール編集フォームの入力値。
type ProfileInput struct {
	UserName         string `json:"user_name"`
	AvatarURL        string `json:"avatar_url"`
	SyncWithProvider bool   `json:"sync_with_provider"`
}

// SignupInput はサインアップ完了フォームの入力値。
type SignupInput struct {
	UserName  string `json:"user_name"`
	AvatarURL string `json:"avatar_url"`
}
