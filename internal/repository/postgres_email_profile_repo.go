package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/todoman/internal/model"
)

// PostgresEmailProfileRepo はPostgreSQLを使用したメール登録ユーザーのプロフィールリポジトリ。
type PostgresEmailProfileRepo struct {
	db *sql.DB
}

// NewPostgresEmailProfileRepo はPostgresEmailProfileRepoを生成する。
func NewPostgresEmailProfileRepo(db *sql.DB) *PostgresEmailProfileRepo {
	return &PostgresEmailProfileRepo{db: db}
}

// FindByID はユーザーIDで取得する。見つからない場合はnilを返す。
func (r *PostgresEmailProfileRepo) FindByID(ctx context.Context, id string) (*model.EmailProfile, error) {
	ep := &model.EmailProfile{}
	var avatarURL sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_name, avatar_url, created_at FROM email_profiles WHERE id = $1`,
		id,
	).Scan(&ep.ID, &ep.UserName, &avatarURL, &ep.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find email profile: %w", err)
	}
	ep.AvatarURL = nullStringPtr(avatarURL)
	return ep, nil
}

// CreateWithProfile はemail_profilesの行を作成し、profilesの行を作成または更新する。
// email_profilesが既に存在する場合はErrDuplicateを返す。
func (r *PostgresEmailProfileRepo) CreateWithProfile(ctx context.Context, ep *model.EmailProfile, p *model.Profile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO email_profiles (id, user_name, avatar_url, created_at)
		 VALUES ($1, $2, $3, now())`,
		ep.ID, ep.UserName, ep.AvatarURL,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert email profile: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (id, user_name, avatar_url, has_finished_signup, sync_with_provider, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (id) DO UPDATE
		 SET user_name = EXCLUDED.user_name,
		     avatar_url = EXCLUDED.avatar_url,
		     has_finished_signup = EXCLUDED.has_finished_signup,
		     sync_with_provider = EXCLUDED.sync_with_provider,
		     updated_at = now()`,
		p.ID, p.UserName, p.AvatarURL, p.HasFinishedSignup, p.SyncWithProvider,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ EmailProfileRepository = (*PostgresEmailProfileRepo)(nil)
