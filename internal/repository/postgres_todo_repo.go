package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/todoman/internal/model"
)

// PostgresTodoRepo はPostgreSQLを使用したTODOリポジトリ。
type PostgresTodoRepo struct {
	db *sql.DB
}

// NewPostgresTodoRepo はPostgresTodoRepoを生成する。
func NewPostgresTodoRepo(db *sql.DB) *PostgresTodoRepo {
	return &PostgresTodoRepo{db: db}
}

// sortColumns はソートキーとカラム名の対応。ORDER BY句にはこの表の値のみを埋め込む。
var sortColumns = map[model.SortBy]string{
	model.SortByCreatedAt: "created_at",
	model.SortByTitle:     "title",
	model.SortByPriority:  "priority",
}

// orderClause はORDER BY句を組み立てる。
// 未完了を先頭に、次に指定キー、同値はIDの昇順で並べる。不正な指定は既定値に置き換える。
func orderClause(sort model.SortOptions) string {
	col, ok := sortColumns[sort.SortBy]
	if !ok {
		col = sortColumns[model.DefaultSortOptions().SortBy]
	}
	dir := "DESC"
	switch sort.Order {
	case model.OrderAsc:
		dir = "ASC"
	case model.OrderDesc:
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY completed ASC, %s %s, id ASC", col, dir)
}

// ListByUser はユーザーのTODOを並び順に従って取得する。
func (r *PostgresTodoRepo) ListByUser(ctx context.Context, userID string, sort model.SortOptions) ([]model.Todo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, COALESCE(description, ''), priority, completed, created_at
		 FROM todos
		 WHERE user_id = $1 `+orderClause(sort),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	defer rows.Close()

	todos := make([]model.Todo, 0)
	for rows.Next() {
		var t model.Todo
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Priority, &t.Completed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate todos: %w", err)
	}
	return todos, nil
}

// Insert はTODOを作成し、採番されたIDと作成日時を設定する。
func (r *PostgresTodoRepo) Insert(ctx context.Context, todo *model.Todo) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO todos (user_id, title, description, priority, completed)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		 RETURNING id, created_at`,
		todo.UserID, todo.Title, todo.Description, todo.Priority, todo.Completed,
	).Scan(&todo.ID, &todo.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert todo: %w", err)
	}
	return nil
}

// Update はタイトル・説明・優先度を更新する。
func (r *PostgresTodoRepo) Update(ctx context.Context, userID string, id int64, in model.TodoInput) error {
	return r.execOwned(ctx, "update todo",
		`UPDATE todos SET title = $3, description = NULLIF($4, ''), priority = $5
		 WHERE id = $1 AND user_id = $2`,
		id, userID, in.Title, in.Description, in.Priority,
	)
}

// SetCompleted は完了状態を更新する。
func (r *PostgresTodoRepo) SetCompleted(ctx context.Context, userID string, id int64, completed bool) error {
	return r.execOwned(ctx, "update todo completion",
		`UPDATE todos SET completed = $3 WHERE id = $1 AND user_id = $2`,
		id, userID, completed,
	)
}

// Delete はTODOを削除する。
func (r *PostgresTodoRepo) Delete(ctx context.Context, userID string, id int64) error {
	return r.execOwned(ctx, "delete todo",
		`DELETE FROM todos WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
}

// execOwned は所有者を限定した更新系クエリを実行する。対象行がない場合はErrNotFoundを返す。
func (r *PostgresTodoRepo) execOwned(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
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

// compile-time interface check
var _ TodoRepository = (*PostgresTodoRepo)(nil)
