package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/todoman/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	identity := &model.Identity{}
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, identity_data, created_at, updated_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID, &data, &identity.CreatedAt, &identity.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if identity.Data, err = decodeJSONMap(data); err != nil {
		return nil, err
	}
	return identity, nil
}

// ListByUserID はユーザーのidentityを紐付けた順に取得する。
func (r *PostgresIdentityRepo) ListByUserID(ctx context.Context, userID string) ([]model.Identity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, identity_data, created_at, updated_at
		 FROM identities
		 WHERE user_id = $1
		 ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []model.Identity
	for rows.Next() {
		var identity model.Identity
		var data []byte
		if err := rows.Scan(&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID, &data, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		if identity.Data, err = decodeJSONMap(data); err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate identities: %w", err)
	}
	return identities, nil
}

// UpdateData はidentityのIdP提供情報を更新する。
func (r *PostgresIdentityRepo) UpdateData(ctx context.Context, id string, data map[string]any) error {
	b, err := encodeJSONMap(data)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE identities SET identity_data = $2, updated_at = now() WHERE id = $1`,
		id, b,
	)
	if err != nil {
		return fmt.Errorf("failed to update identity data: %w", err)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
