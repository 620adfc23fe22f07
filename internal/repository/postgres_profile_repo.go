package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/todoman/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID はユーザーIDでプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p := &model.Profile{}
	var userName, avatarURL sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_name, avatar_url, has_finished_signup, sync_with_provider, updated_at
		 FROM profiles
		 WHERE id = $1`,
		id,
	).Scan(&p.ID, &userName, &avatarURL, &p.HasFinishedSignup, &p.SyncWithProvider, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	p.UserName = nullStringPtr(userName)
	p.AvatarURL = nullStringPtr(avatarURL)
	return p, nil
}

// Update はプロフィールを更新する。行が存在しない場合はErrNotFoundを返す。
func (r *PostgresProfileRepo) Update(ctx context.Context, p *model.Profile) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET user_name = $2, avatar_url = $3, has_finished_signup = $4, sync_with_provider = $5, updated_at = now()
		 WHERE id = $1`,
		p.ID, p.UserName, p.AvatarURL, p.HasFinishedSignup, p.SyncWithProvider,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
