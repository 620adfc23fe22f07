package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/todoman/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, COALESCE(email, ''), COALESCE(password_hash, ''), raw_user_meta_data, created_at, updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var meta []byte
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &meta, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	m, err := decodeJSONMap(meta)
	if err != nil {
		return nil, err
	}
	user.Metadata = m
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// CreateWithIdentity はユーザー・identity・プロフィールを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity, profile *model.Profile) error {
	meta, err := encodeJSONMap(user.Metadata)
	if err != nil {
		return err
	}
	identityData, err := encodeJSONMap(identity.Data)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, raw_user_meta_data, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6)`,
		user.ID, user.Email, user.PasswordHash, meta, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	// identityを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, identity_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identityData, identity.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	// プロフィールを自動作成
	if profile != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO profiles (id, user_name, avatar_url, has_finished_signup, sync_with_provider, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now())`,
			profile.ID, profile.UserName, profile.AvatarURL, profile.HasFinishedSignup, profile.SyncWithProvider,
		)
		if err != nil {
			return fmt.Errorf("failed to insert profile: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateMetadata はユーザーメタデータを更新する。
func (r *PostgresUserRepo) UpdateMetadata(ctx context.Context, userID string, metadata map[string]any) error {
	meta, err := encodeJSONMap(metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE users SET raw_user_meta_data = $2, updated_at = now() WHERE id = $1`,
		userID, meta,
	)
	if err != nil {
		return fmt.Errorf("failed to update user metadata: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
