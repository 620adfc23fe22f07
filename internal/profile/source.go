// Package profile は表示用プロフィールの導出と同期、およびプロフィール編集を提供する。
package profile

import (
	"context"
	"fmt"

	"github.com/hitoshi/todoman/internal/model"
)

// Source は表示用プロフィールの導出元。
// 保存済みの行をそのまま使うStoredと、IdPのアイデンティティで表示名・アバターを上書きするDerivedのいずれか。
type Source interface {
	// StoredRow は保存済みのプロフィール行を返す。
	StoredRow() model.Profile
	isSource()
}

// Stored は保存済みの行をそのまま表示に使う導出元。
type Stored struct {
	Row model.Profile
}

// Derived は保存済みの行の表示名・アバターをIdPのアイデンティティ情報で上書きする導出元。
type Derived struct {
	Row      model.Profile
	Identity map[string]any
}

func (s Stored) StoredRow() model.Profile  { return s.Row }
func (d Derived) StoredRow() model.Profile { return d.Row }
func (Stored) isSource()                   {}
func (Derived) isSource()                  {}

// NewSource は行のsync_with_providerに応じて導出元を選ぶ。
func NewSource(row model.Profile, identity map[string]any) Source {
	if row.SyncWithProvider {
		return Derived{Row: row, Identity: identity}
	}
	return Stored{Row: row}
}

// userNameKeys は表示名の候補キー。先頭から順に最初に値を持つものを採用する。
var userNameKeys = []string{"preferred_username", "user_name", "name", "full_name"}

// avatarKeys はアバターURLの候補キー。
var avatarKeys = []string{"avatar_url", "picture"}

// Resolve は導出元から表示用プロフィールを計算する。
// Derivedでは表示名とアバターをアイデンティティからのみ導出し、該当する値がなければnilとする。
// 保存済みのuser_name・avatar_urlは使わない。
func Resolve(src Source) model.Profile {
	switch s := src.(type) {
	case Derived:
		p := s.Row
		p.UserName = nil
		p.AvatarURL = nil
		if name, ok := firstString(s.Identity, userNameKeys); ok {
			p.UserName = &name
		}
		if avatar, ok := firstString(s.Identity, avatarKeys); ok {
			p.AvatarURL = &avatar
		}
		return p
	case Stored:
		return s.Row
	default:
		return src.StoredRow()
	}
}

// IdentityData は表示名の導出に使うアイデンティティ情報を選ぶ。
// ユーザーメタデータが空でなければそれを、空であればメール以外の最後に紐付いたIdPの情報を返す。
func IdentityData(user *model.AuthUser) map[string]any {
	if user == nil {
		return nil
	}
	if len(user.Metadata) > 0 {
		return user.Metadata
	}
	for i := len(user.Identities) - 1; i >= 0; i-- {
		if user.Identities[i].Provider != model.ProviderEmail {
			return user.Identities[i].Data
		}
	}
	return nil
}

// Finder はプロフィール行の読み出しインターフェース。
type Finder interface {
	// FindByID はユーザーIDでプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)
}

// Fetch はプロフィール行を読み出し、導出元を返す。
// 行がない場合はProfileNotFoundエラーを返す。
func Fetch(ctx context.Context, repo Finder, userID string, identity map[string]any) (Source, error) {
	row, err := repo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if row == nil {
		return nil, model.NewProfileNotFoundError()
	}
	return NewSource(*row, identity), nil
}

func firstString(data map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if s, ok := data[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
