package todo

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/validate"
)

// 入力値の文字数制約
const (
	TitleMaxLen       = 64
	DescriptionMaxLen = 256
)

// 書き込み操作のメトリクスラベル
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpComplete = "complete"
	OpDelete   = "delete"
)

// Sanitizer はタイトル・説明からマークアップを取り除く。
type Sanitizer interface {
	StripTags(text string) string
}

// MutationRecorder は書き込み操作のメトリクス記録インターフェース。
type MutationRecorder interface {
	RecordMutation(op string, err error)
}

// Service はTODOの作成・更新・完了切り替え・削除を行う。
// ローカルの一覧は更新せず、変更フィードによるCollectionの再取得に任せる。
type Service struct {
	repo      repository.TodoRepository
	sanitizer Sanitizer
	metrics   MutationRecorder
	logger    *slog.Logger
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(repo repository.TodoRepository, sanitizer Sanitizer, metrics MutationRecorder, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   metrics,
		logger:    logger,
	}
}

// Create はTODOを作成する。優先度の指定がない場合はLowになる。
func (s *Service) Create(ctx context.Context, userID string, in model.TodoInput) (*model.Todo, error) {
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	todo := &model.Todo{
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
	}
	err = s.repo.Insert(ctx, todo)
	s.record(OpCreate, err)
	if err != nil {
		return nil, s.mutationFailed("TODOの追加", userID, 0, err)
	}
	s.logger.Info("todo created",
		slog.String("user_id", userID),
		slog.Int64("todo_id", todo.ID),
	)
	return todo, nil
}

// Update はタイトル・説明・優先度を更新する。
func (s *Service) Update(ctx context.Context, userID string, id int64, in model.TodoInput) error {
	in, err := s.normalize(in)
	if err != nil {
		return err
	}
	err = s.repo.Update(ctx, userID, id, in)
	s.record(OpUpdate, err)
	return s.result("TODOの更新", userID, id, err)
}

// SetCompleted は完了状態を切り替える。
func (s *Service) SetCompleted(ctx context.Context, userID string, id int64, completed bool) error {
	err := s.repo.SetCompleted(ctx, userID, id, completed)
	s.record(OpComplete, err)
	return s.result("TODOの完了状態の更新", userID, id, err)
}

// Delete はTODOを削除する。
func (s *Service) Delete(ctx context.Context, userID string, id int64) error {
	err := s.repo.Delete(ctx, userID, id)
	s.record(OpDelete, err)
	return s.result("TODOの削除", userID, id, err)
}

// normalize はマークアップを除去して入力を検証する。
func (s *Service) normalize(in model.TodoInput) (model.TodoInput, error) {
	in.Title = validate.Normalize(s.sanitizer.StripTags(in.Title))
	in.Description = validate.Normalize(s.sanitizer.StripTags(in.Description))
	if in.Priority == 0 {
		in.Priority = model.PriorityLow
	}

	err := validate.New().
		Required("title", in.Title).
		MaxLen("title", in.Title, TitleMaxLen).
		MaxLen("description", in.Description, DescriptionMaxLen).
		Custom("priority", !in.Priority.Valid(), "優先度は1〜3で指定してください").
		Err()
	return in, err
}

func (s *Service) result(op, userID string, id int64, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return model.NewTodoNotFoundError(id)
	default:
		return s.mutationFailed(op, userID, id, err)
	}
}

func (s *Service) record(op string, err error) {
	if s.metrics != nil {
		s.metrics.RecordMutation(op, err)
	}
}

func (s *Service) mutationFailed(op, userID string, id int64, err error) error {
	s.logger.Error("todo mutation failed",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.Int64("todo_id", id),
		slog.String("error", err.Error()),
	)
	return model.NewMutationError(op)
}
