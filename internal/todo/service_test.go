package todo

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/todoman/internal/eventloop"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/reactive"
	"github.com/hitoshi/todoman/internal/realtime"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/security"
	"github.com/hitoshi/todoman/internal/session"
)

// memRepo はPostgresTodoRepoと同じ並び順規則を持つメモリ上のリポジトリ。
type memRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]model.Todo
	err    error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[int64]model.Todo)}
}

func (r *memRepo) ListByUser(_ context.Context, userID string, opts model.SortOptions) ([]model.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}

	out := make([]model.Todo, 0)
	for _, t := range r.rows {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	less := func(a, b model.Todo) int {
		switch opts.SortBy {
		case model.SortByTitle:
			return strings.Compare(a.Title, b.Title)
		case model.SortByPriority:
			return int(a.Priority) - int(b.Priority)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Completed != b.Completed {
			return !a.Completed
		}
		if c := less(a, b); c != 0 {
			if opts.Order == model.OrderAsc {
				return c < 0
			}
			return c > 0
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (r *memRepo) Insert(_ context.Context, todo *model.Todo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.nextID++
	todo.ID = r.nextID
	todo.CreatedAt = time.Unix(r.nextID, 0)
	r.rows[todo.ID] = *todo
	return nil
}

func (r *memRepo) owned(userID string, id int64) (model.Todo, error) {
	if r.err != nil {
		return model.Todo{}, r.err
	}
	t, ok := r.rows[id]
	if !ok || t.UserID != userID {
		return model.Todo{}, repository.ErrNotFound
	}
	return t, nil
}

func (r *memRepo) Update(_ context.Context, userID string, id int64, in model.TodoInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.owned(userID, id)
	if err != nil {
		return err
	}
	t.Title, t.Description, t.Priority = in.Title, in.Description, in.Priority
	r.rows[id] = t
	return nil
}

func (r *memRepo) SetCompleted(_ context.Context, userID string, id int64, completed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.owned(userID, id)
	if err != nil {
		return err
	}
	t.Completed = completed
	r.rows[id] = t
	return nil
}

func (r *memRepo) Delete(_ context.Context, userID string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.owned(userID, id); err != nil {
		return err
	}
	delete(r.rows, id)
	return nil
}

type mutationLog struct {
	mu  sync.Mutex
	ops []string
}

func (m *mutationLog) RecordMutation(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops = append(m.ops, op+":"+result)
}

func newTestService() (*Service, *memRepo, *mutationLog) {
	repo := newMemRepo()
	log := &mutationLog{}
	return NewService(repo, security.NewTextSanitizer(), log, discardLogger()), repo, log
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("優先度の既定値はLow", func(t *testing.T) {
		svc, _, _ := newTestService()
		todo, err := svc.Create(ctx, "user-1", model.TodoInput{Title: "Buy milk"})
		require.NoError(t, err)
		assert.Equal(t, model.PriorityLow, todo.Priority)
		assert.False(t, todo.Completed)
		assert.NotZero(t, todo.ID)
	})

	t.Run("タグを除去して前後の空白を詰める", func(t *testing.T) {
		svc, _, _ := newTestService()
		todo, err := svc.Create(ctx, "user-1", model.TodoInput{
			Title:       "  <b>Buy</b> milk & eggs ",
			Description: "<script>alert(1)</script>2 liters",
			Priority:    model.PriorityHigh,
		})
		require.NoError(t, err)
		assert.Equal(t, "Buy milk & eggs", todo.Title)
		assert.Equal(t, "2 liters", todo.Description)
	})

	t.Run("検証エラー", func(t *testing.T) {
		tests := []struct {
			name  string
			in    model.TodoInput
			field string
		}{
			{"タイトル空", model.TodoInput{Title: "   "}, "title"},
			{"タグのみのタイトル", model.TodoInput{Title: "<br>"}, "title"},
			{"タイトル65文字", model.TodoInput{Title: strings.Repeat("a", 65)}, "title"},
			{"説明257文字", model.TodoInput{Title: "a", Description: strings.Repeat("あ", 257)}, "description"},
			{"優先度範囲外", model.TodoInput{Title: "a", Priority: 4}, "priority"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc, repo, _ := newTestService()
				_, err := svc.Create(ctx, "user-1", tt.in)
				var apiErr *model.APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, model.ErrCodeValidation, apiErr.Code)
				require.NotEmpty(t, apiErr.Fields)
				assert.Equal(t, tt.field, apiErr.Fields[0].Field)
				assert.Empty(t, repo.rows)
			})
		}
	})

	t.Run("境界値は受け付ける", func(t *testing.T) {
		svc, _, _ := newTestService()
		_, err := svc.Create(ctx, "user-1", model.TodoInput{
			Title:       strings.Repeat("あ", TitleMaxLen),
			Description: strings.Repeat("a", DescriptionMaxLen),
		})
		assert.NoError(t, err)
	})

	t.Run("書き込み失敗", func(t *testing.T) {
		svc, repo, log := newTestService()
		repo.err = errors.New("connection refused")
		_, err := svc.Create(ctx, "user-1", model.TodoInput{Title: "a"})
		assert.True(t, model.HasCode(err, model.ErrCodeMutation))
		assert.Equal(t, []string{"create:error"}, log.ops)
	})
}

func TestService_OwnerScopedMutations(t *testing.T) {
	ctx := context.Background()
	svc, repo, log := newTestService()

	todo, err := svc.Create(ctx, "owner", model.TodoInput{Title: "Buy milk"})
	require.NoError(t, err)

	assert.True(t, model.HasCode(svc.SetCompleted(ctx, "intruder", todo.ID, true), model.ErrCodeTodoNotFound))
	assert.True(t, model.HasCode(svc.Delete(ctx, "intruder", todo.ID), model.ErrCodeTodoNotFound))
	assert.True(t, model.HasCode(svc.Update(ctx, "intruder", todo.ID, model.TodoInput{Title: "x"}), model.ErrCodeTodoNotFound))

	require.NoError(t, svc.Update(ctx, "owner", todo.ID, model.TodoInput{Title: "Buy oat milk", Priority: model.PriorityMedium}))
	require.NoError(t, svc.SetCompleted(ctx, "owner", todo.ID, true))
	assert.Equal(t, "Buy oat milk", repo.rows[todo.ID].Title)
	assert.True(t, repo.rows[todo.ID].Completed)

	require.NoError(t, svc.Delete(ctx, "owner", todo.ID))
	assert.True(t, model.HasCode(svc.Delete(ctx, "owner", todo.ID), model.ErrCodeTodoNotFound))

	assert.Equal(t, []string{
		"create:ok",
		"complete:error", "delete:error", "update:error",
		"update:ok", "complete:ok", "delete:ok", "delete:error",
	}, log.ops)
}

// 追加が成功しINSERT通知が届くと、コレクションは再取得して新しい未完了項目を含む。
func TestEndToEnd_CreateThenPushRefetches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := eventloop.New(discardLogger())
	defer loop.Close()

	svc, repo, _ := newTestService()
	repo.rows[100] = model.Todo{ID: 100, UserID: "user-1", Title: "done already", Priority: model.PriorityHigh, Completed: true, CreatedAt: time.Unix(0, 0)}
	repo.rows[101] = model.Todo{ID: 101, UserID: "user-1", Title: "older", Priority: model.PriorityLow, CreatedAt: time.Unix(0, 0)}
	repo.nextID = 101

	sessions := &fakeSessions{loop: loop, value: reactive.NewValue(session.State{
		Session: &model.Session{ID: "sess", UserID: "user-1"},
	})}
	sorts := &fakeSorts{loop: loop, value: reactive.NewValue(model.SortOptions{SortBy: model.SortByPriority, Order: model.OrderDesc})}
	broker := realtime.NewBroker(discardLogger(), nil)

	c := NewCollection(loop, sessions, sorts, repo, broker, nil, discardLogger())
	c.Start(ctx)
	defer c.Close()

	require.Eventually(t, func() bool { return len(c.State().Todos) == 2 }, 2*time.Second, 5*time.Millisecond)

	todo, err := svc.Create(ctx, "user-1", model.TodoInput{Title: "Buy milk", Priority: model.PriorityMedium})
	require.NoError(t, err)

	// 非楽観的更新: 通知が届くまで一覧は変わらない
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.State().Todos, 2)

	broker.Publish(todoChange(model.ChangeInsert, "user-1", todo.ID))

	require.Eventually(t, func() bool { return len(c.State().Todos) == 3 }, 2*time.Second, 5*time.Millisecond)
	st := c.State()
	assert.Equal(t, []string{"Buy milk", "older", "done already"}, titles(st.Todos))

	var matches []model.Todo
	for _, todo := range st.Todos {
		if todo.Title == "Buy milk" {
			matches = append(matches, todo)
		}
	}
	require.Len(t, matches, 1)
	assert.Equal(t, model.PriorityMedium, matches[0].Priority)
	assert.False(t, matches[0].Completed)
}
