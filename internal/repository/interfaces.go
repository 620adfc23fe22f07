// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/todoman/internal/model"
)

// ErrNotFound は更新・削除対象の行が存在しない（または所有者が異なる）ことを表す。
var ErrNotFound = errors.New("record not found")

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate record")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザー・identity・プロフィールを同一トランザクションで作成する。
	// profileがnilの場合はプロフィールを作成しない。
	// メールアドレスが登録済みの場合はErrDuplicateを返す。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity, profile *model.Profile) error

	// UpdateMetadata はユーザーメタデータを更新する。
	UpdateMetadata(ctx context.Context, userID string, metadata map[string]any) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// ListByUserID はユーザーのidentityを紐付けた順に取得する。
	ListByUserID(ctx context.Context, userID string) ([]model.Identity, error)

	// UpdateData はidentityのIdP提供情報を更新する。
	UpdateData(ctx context.Context, id string, data map[string]any) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// FindLatestByDeviceID はデバイスに紐付く最新の有効なセッションを取得する。
	// 見つからない場合はnilを返す。
	FindLatestByDeviceID(ctx context.Context, deviceID string) (*model.Session, error)
	// Rotate は旧セッションを削除して新セッションを作成する。
	// 旧セッションが存在しない場合はErrNotFoundを返す。
	Rotate(ctx context.Context, oldID string, next *model.Session) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpiredBefore は指定時刻より前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID はユーザーIDでプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	// Update はプロフィールを更新する。行が存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, profile *model.Profile) error
}

// EmailProfileRepository はメール登録ユーザーのプロフィールの永続化インターフェース。
type EmailProfileRepository interface {
	// FindByID はユーザーIDで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.EmailProfile, error)
	// CreateWithProfile はemail_profilesの行を作成し、profilesの行を作成または更新する。
	CreateWithProfile(ctx context.Context, emailProfile *model.EmailProfile, profile *model.Profile) error
}

// TodoRepository はTODOの永続化インターフェース。
// 更新系はすべてユーザーIDで所有者を限定し、該当行がない場合はErrNotFoundを返す。
type TodoRepository interface {
	// ListByUser はユーザーのTODOを未完了→完了の順、次にsortの順、最後にIDの昇順で返す。
	ListByUser(ctx context.Context, userID string, sort model.SortOptions) ([]model.Todo, error)
	// Insert はTODOを作成し、採番されたIDと作成日時を設定する。
	Insert(ctx context.Context, todo *model.Todo) error
	// Update はタイトル・説明・優先度を更新する。
	Update(ctx context.Context, userID string, id int64, in model.TodoInput) error
	// SetCompleted は完了状態を更新する。
	SetCompleted(ctx context.Context, userID string, id int64, completed bool) error
	// Delete はTODOを削除する。
	Delete(ctx context.Context, userID string, id int64) error
}
