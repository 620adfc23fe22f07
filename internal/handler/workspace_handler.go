package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/session"
	"github.com/hitoshi/todoman/internal/workspace"
)

// sseHeartbeatInterval はSSE接続を維持するためのコメント行の送信間隔。
const sseHeartbeatInterval = 15 * time.Second

// DeviceWorkspace はハンドラーが参照する1デバイス分のクライアント状態。
// workspace.Workspaceが実装する。
type DeviceWorkspace interface {
	Snapshot() workspace.Snapshot
	Watch() (<-chan workspace.Snapshot, func())
	Done() <-chan struct{}
	Touch()

	Session() session.State
	PreviewProfile(sync bool) (*model.Profile, bool)

	Sort() model.SortOptions
	SetSort(ctx context.Context, opts model.SortOptions) error
}

// WorkspaceProvider はデバイスIDに対応するWorkspaceを返す。
type WorkspaceProvider interface {
	Workspace(deviceID string) (DeviceWorkspace, error)
}

// WorkspaceHandler はWorkspaceの状態配信と並び順設定のHTTPハンドラー。
type WorkspaceHandler struct {
	workspaces WorkspaceProvider
	logger     *slog.Logger
}

// NewWorkspaceHandler はWorkspaceHandlerを生成する。
func NewWorkspaceHandler(workspaces WorkspaceProvider, logger *slog.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{
		workspaces: workspaces,
		logger:     logger,
	}
}

// workspaceFor はリクエストのデバイスに対応するWorkspaceを返す。
// 取得できない場合はエラーレスポンスを書き込みfalseを返す。
func workspaceFor(w http.ResponseWriter, r *http.Request, provider WorkspaceProvider) (DeviceWorkspace, bool) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return nil, false
	}
	ws, err := provider.Workspace(deviceID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return ws, true
}

// boundWorkspace はリクエストのユーザーのセッションを保持するWorkspaceを返す。
// セッション変更がまだWorkspaceに反映されていない間はsyncing=trueを返す。
// 別ユーザーのセッションを保持している場合は401を書き込みok=falseを返す。
func boundWorkspace(w http.ResponseWriter, r *http.Request, provider WorkspaceProvider) (ws DeviceWorkspace, syncing, ok bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return nil, false, false
	}
	ws, ok = workspaceFor(w, r, provider)
	if !ok {
		return nil, false, false
	}
	ss := ws.Session()
	switch {
	case ss.Loading || ss.Session == nil:
		return ws, true, true
	case ss.UserID() != userID:
		writeError(w, r, model.NewUnauthorizedError())
		return nil, false, false
	}
	return ws, false, true
}

// GetState は現在のスナップショットを返す。
// GET /api/state
func (h *WorkspaceHandler) GetState(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFor(w, r, h.workspaces)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.Snapshot())
}

// GetRoute は表示すべき画面を返す。
// GET /api/route
func (h *WorkspaceHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFor(w, r, h.workspaces)
	if !ok {
		return
	}
	snap := ws.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"destination":            snap.Destination,
		"complete_profile_alert": snap.CompleteProfileAlert,
	})
}

// Events はスナップショットの変更をServer-Sent Eventsで配信する。
// 接続直後に現在の状態を1件送り、以降は変更のたびに最新の状態を送る。
// GET /api/events
func (h *WorkspaceHandler) Events(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFor(w, r, h.workspaces)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// ストリーミング中はサーバーのWriteTimeoutを適用しない
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && err != http.ErrNotSupported {
		h.logger.Warn("failed to clear write deadline", slog.String("error", err.Error()))
	}

	ch, cancel := ws.Watch()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error("streaming not supported", slog.String("error", err.Error()))
		return
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ws.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, "snapshot", snap); err != nil {
				h.logger.Debug("sse write failed", slog.String("error", err.Error()))
				return
			}
		case <-heartbeat.C:
			ws.Touch()
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeEvent はSSEのイベントを1件書き込む。
func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// GetSort は現在の並び順を返す。
// GET /api/preferences/sort
func (h *WorkspaceHandler) GetSort(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFor(w, r, h.workspaces)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.Sort())
}

// UpdateSort は並び順を保存する。省略した項目は変更しない。
// PUT /api/preferences/sort
func (h *WorkspaceHandler) UpdateSort(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFor(w, r, h.workspaces)
	if !ok {
		return
	}

	var req model.SortOptions
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if fields := validateSort(req); len(fields) > 0 {
		writeError(w, r, model.NewValidationError(fields))
		return
	}

	if err := ws.SetSort(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.Sort())
}

func validateSort(opts model.SortOptions) []model.FieldError {
	var fields []model.FieldError
	if opts.SortBy != "" && !opts.SortBy.Valid() {
		fields = append(fields, model.FieldError{Field: "sort_by", Message: "created_at、title、priorityのいずれかを指定してください"})
	}
	if opts.Order != "" && !opts.Order.Valid() {
		fields = append(fields, model.FieldError{Field: "order", Message: "ascまたはdescを指定してください"})
	}
	return fields
}
