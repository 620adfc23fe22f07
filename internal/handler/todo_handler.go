package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/todoman/internal/model"
)

// TodoServiceInterface はTODOハンドラーが必要とする書き込みサービスのインターフェース。
// 一覧はWorkspaceのTODO一覧から返すため、読み出し操作は持たない。
type TodoServiceInterface interface {
	Create(ctx context.Context, userID string, in model.TodoInput) (*model.Todo, error)
	Update(ctx context.Context, userID string, id int64, in model.TodoInput) error
	SetCompleted(ctx context.Context, userID string, id int64, completed bool) error
	Delete(ctx context.Context, userID string, id int64) error
}

// TodoHandler はTODO管理のHTTPハンドラー。
type TodoHandler struct {
	service    TodoServiceInterface
	workspaces WorkspaceProvider
}

// NewTodoHandler はTodoHandlerを生成する。
func NewTodoHandler(service TodoServiceInterface, workspaces WorkspaceProvider) *TodoHandler {
	return &TodoHandler{
		service:    service,
		workspaces: workspaces,
	}
}

// todoListResponse はTODO一覧のレスポンス。
type todoListResponse struct {
	Todos   []model.Todo      `json:"todos"`
	Sort    model.SortOptions `json:"sort"`
	Loading bool              `json:"loading"`
	Error   *model.APIError   `json:"error,omitempty"`
}

// completedRequest は完了状態切り替えリクエストのボディ。
type completedRequest struct {
	Completed *bool `json:"completed"`
}

// ListTodos はWorkspaceが保持しているTODO一覧を現在の並び順で返す。
// セッションの切り替えがWorkspaceに反映されるまではloading=trueの空一覧を返す。
// GET /api/todos
func (h *TodoHandler) ListTodos(w http.ResponseWriter, r *http.Request) {
	ws, syncing, ok := boundWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	snap := ws.Snapshot()
	if syncing {
		writeJSON(w, http.StatusOK, todoListResponse{Todos: []model.Todo{}, Sort: snap.Sort, Loading: true})
		return
	}
	writeJSON(w, http.StatusOK, todoListResponse{
		Todos:   snap.Todos,
		Sort:    snap.Sort,
		Loading: snap.TodosLoading,
		Error:   snap.TodosError,
	})
}

// CreateTodo はTODOを作成する。
// POST /api/todos
func (h *TodoHandler) CreateTodo(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req model.TodoInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.service.Create(r.Context(), userID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateTodo はTODOのタイトル・説明・優先度を更新する。
// PATCH /api/todos/{id}
func (h *TodoHandler) UpdateTodo(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req model.TodoInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.service.Update(r.Context(), userID, id, req); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetCompleted はTODOの完了状態を切り替える。
// PUT /api/todos/{id}/completed
func (h *TodoHandler) SetCompleted(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req completedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Completed == nil {
		writeError(w, r, model.NewValidationError([]model.FieldError{
			{Field: "completed", Message: "完了状態を指定してください"},
		}))
		return
	}

	if err := h.service.SetCompleted(r.Context(), userID, id, *req.Completed); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTodo はTODOを削除する。
// DELETE /api/todos/{id}
func (h *TodoHandler) DeleteTodo(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// target は操作対象のユーザーIDとTODOのIDを取得する。
// IDが数値でない場合は存在しないTODOとして扱う。
func (h *TodoHandler) target(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return "", 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, model.NewTodoNotFoundError(id))
		return "", 0, false
	}
	return userID, id, true
}
