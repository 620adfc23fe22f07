package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/session"
	"github.com/hitoshi/todoman/internal/workspace"
)

// --- モック定義 ---

// fakeWorkspace はDeviceWorkspaceのテスト用実装。
type fakeWorkspace struct {
	snapshot workspace.Snapshot
	session  session.State
	watch    []workspace.Snapshot
	done     chan struct{}
	touched  int

	previewFn func(sync bool) (*model.Profile, bool)
	setSortFn func(ctx context.Context, opts model.SortOptions) error
	sort      model.SortOptions
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		done: make(chan struct{}),
		sort: model.DefaultSortOptions(),
	}
}

func (f *fakeWorkspace) Snapshot() workspace.Snapshot { return f.snapshot }

// Watch は登録済みのスナップショットを順に返した後にクローズされるチャネルを返す。
func (f *fakeWorkspace) Watch() (<-chan workspace.Snapshot, func()) {
	ch := make(chan workspace.Snapshot, len(f.watch))
	for _, s := range f.watch {
		ch <- s
	}
	close(ch)
	return ch, func() {}
}

func (f *fakeWorkspace) Done() <-chan struct{} { return f.done }
func (f *fakeWorkspace) Touch()                 { f.touched++ }
func (f *fakeWorkspace) Session() session.State { return f.session }

func (f *fakeWorkspace) PreviewProfile(sync bool) (*model.Profile, bool) {
	if f.previewFn != nil {
		return f.previewFn(sync)
	}
	return nil, false
}

func (f *fakeWorkspace) Sort() model.SortOptions { return f.sort }

func (f *fakeWorkspace) SetSort(ctx context.Context, opts model.SortOptions) error {
	if f.setSortFn != nil {
		if err := f.setSortFn(ctx, opts); err != nil {
			return err
		}
	}
	if opts.SortBy != "" {
		f.sort.SortBy = opts.SortBy
	}
	if opts.Order != "" {
		f.sort.Order = opts.Order
	}
	return nil
}

// signedInAs はWorkspaceのセッションを指定ユーザーのものにする。
func (f *fakeWorkspace) signedInAs(userID string) *fakeWorkspace {
	f.session = session.State{Session: &model.Session{ID: "s-" + userID, UserID: userID}}
	return f
}

type mockWorkspaceProvider struct {
	ws       *fakeWorkspace
	err      error
	deviceID string
}

func (m *mockWorkspaceProvider) Workspace(deviceID string) (DeviceWorkspace, error) {
	m.deviceID = deviceID
	if m.err != nil {
		return nil, m.err
	}
	return m.ws, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- テスト ---

func TestWorkspaceHandler_GetState(t *testing.T) {
	ws := newFakeWorkspace()
	ws.snapshot = workspace.Snapshot{
		SignedIn:    true,
		User:        &workspace.SnapshotUser{ID: "user-1", Email: "a@example.com"},
		Todos:       []model.Todo{{ID: 1, Title: "milk"}},
		Sort:        model.DefaultSortOptions(),
		Destination: workspace.DestTodos,
	}
	provider := &mockWorkspaceProvider{ws: ws}
	h := NewWorkspaceHandler(provider, discardLogger())

	w := httptest.NewRecorder()
	h.GetState(w, withDevice(httptest.NewRequest(http.MethodGet, "/api/state", nil)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if provider.deviceID != testDeviceID {
		t.Errorf("workspace requested for %q, want %q", provider.deviceID, testDeviceID)
	}
	var got workspace.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !got.SignedIn || got.Destination != workspace.DestTodos || len(got.Todos) != 1 {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestWorkspaceHandler_RequiresDevice(t *testing.T) {
	h := NewWorkspaceHandler(&mockWorkspaceProvider{ws: newFakeWorkspace()}, discardLogger())

	w := httptest.NewRecorder()
	h.GetState(w, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestWorkspaceHandler_ProviderError(t *testing.T) {
	h := NewWorkspaceHandler(&mockWorkspaceProvider{err: errors.New("closed")}, discardLogger())

	w := httptest.NewRecorder()
	h.GetRoute(w, withDevice(httptest.NewRequest(http.MethodGet, "/api/route", nil)))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), "closed") {
		t.Error("internal error detail should not leak")
	}
}

func TestWorkspaceHandler_GetRoute(t *testing.T) {
	ws := newFakeWorkspace()
	ws.snapshot = workspace.Snapshot{Destination: workspace.DestFinishSignup, CompleteProfileAlert: false}
	h := NewWorkspaceHandler(&mockWorkspaceProvider{ws: ws}, discardLogger())

	w := httptest.NewRecorder()
	h.GetRoute(w, withDevice(httptest.NewRequest(http.MethodGet, "/api/route", nil)))

	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["destination"] != "/finish-signup" {
		t.Errorf("destination = %v, want /finish-signup", body["destination"])
	}
}

func TestWorkspaceHandler_Events_StreamsSnapshots(t *testing.T) {
	ws := newFakeWorkspace()
	ws.watch = []workspace.Snapshot{
		{SessionLoading: true, Destination: workspace.DestLoading, Todos: []model.Todo{}},
		{SignedIn: true, Destination: workspace.DestTodos, Todos: []model.Todo{}},
	}
	h := NewWorkspaceHandler(&mockWorkspaceProvider{ws: ws}, discardLogger())

	w := httptest.NewRecorder()
	h.Events(w, withDevice(httptest.NewRequest(http.MethodGet, "/api/events", nil)))

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if !w.Flushed {
		t.Error("response should be flushed")
	}

	body := w.Body.String()
	var destinations []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var snap workspace.Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			t.Fatalf("invalid event data %q: %v", data, err)
		}
		destinations = append(destinations, string(snap.Destination))
	}
	if got := strings.Join(destinations, ","); got != "loading,/todos" {
		t.Errorf("streamed destinations = %q, want loading,/todos", got)
	}
	if c := strings.Count(body, "event: snapshot\n"); c != 2 {
		t.Errorf("event count = %d, want 2", c)
	}
}

func TestWorkspaceHandler_Events_StopsWhenWorkspaceCloses(t *testing.T) {
	ws := newFakeWorkspace()
	close(ws.done)
	// Watchのチャネルが閉じられない場合でもWorkspaceの終了で抜ける
	provider := &blockingWatchProvider{fakeWorkspace: ws}
	h := NewWorkspaceHandler(provider, discardLogger())

	w := httptest.NewRecorder()
	h.Events(w, withDevice(httptest.NewRequest(http.MethodGet, "/api/events", nil)))

	if strings.Contains(w.Body.String(), "data:") {
		t.Errorf("no events expected, got %q", w.Body.String())
	}
}

func TestWorkspaceHandler_Events_StopsWhenClientDisconnects(t *testing.T) {
	ws := newFakeWorkspace()
	h := NewWorkspaceHandler(&blockingWatchProvider{fakeWorkspace: ws}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := withDevice(httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx))
	w := httptest.NewRecorder()

	h.Events(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

// blockingWatchProvider は値を送らないWatchチャネルを持つWorkspaceを返す。
type blockingWatchProvider struct {
	*fakeWorkspace
}

func (b *blockingWatchProvider) Workspace(string) (DeviceWorkspace, error) {
	return blockingWatch{b.fakeWorkspace}, nil
}

type blockingWatch struct {
	*fakeWorkspace
}

func (blockingWatch) Watch() (<-chan workspace.Snapshot, func()) {
	return make(chan workspace.Snapshot), func() {}
}

func TestWorkspaceHandler_GetSort(t *testing.T) {
	ws := newFakeWorkspace()
	ws.sort = model.SortOptions{SortBy: model.SortByTitle, Order: model.OrderAsc}
	h := NewWorkspaceHandler(&mockWorkspaceProvider{ws: ws}, discardLogger())

	w := httptest.NewRecorder()
	h.GetSort(w, withDevice(httptest.NewRequest(http.MethodGet, "/api/preferences/sort", nil)))

	var got model.SortOptions
	json.NewDecoder(w.Body).Decode(&got)
	if got != ws.sort {
		t.Errorf("sort = %+v, want %+v", got, ws.sort)
	}
}

func TestWorkspaceHandler_UpdateSort(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setErr     error
		wantStatus int
		wantSort   model.SortOptions
		wantFields []string
	}{
		{
			name:       "sort_by only",
			body:       `{"sort_by":"priority"}`,
			wantStatus: http.StatusOK,
			wantSort:   model.SortOptions{SortBy: model.SortByPriority, Order: model.OrderDesc},
		},
		{
			name:       "both",
			body:       `{"sort_by":"title","order":"asc"}`,
			wantStatus: http.StatusOK,
			wantSort:   model.SortOptions{SortBy: model.SortByTitle, Order: model.OrderAsc},
		},
		{
			name:       "invalid values",
			body:       `{"sort_by":"due_date","order":"sideways"}`,
			wantStatus: http.StatusBadRequest,
			wantFields: []string{"sort_by", "order"},
		},
		{
			name:       "persist failure",
			body:       `{"order":"asc"}`,
			setErr:     model.NewMutationError("並び順の保存"),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := newFakeWorkspace()
			ws.setSortFn = func(ctx context.Context, opts model.SortOptions) error { return tt.setErr }
			h := NewWorkspaceHandler(&mockWorkspaceProvider{ws: ws}, discardLogger())

			req := withDevice(httptest.NewRequest(http.MethodPut, "/api/preferences/sort", strings.NewReader(tt.body)))
			w := httptest.NewRecorder()
			h.UpdateSort(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				var got model.SortOptions
				json.NewDecoder(w.Body).Decode(&got)
				if got != tt.wantSort {
					t.Errorf("sort = %+v, want %+v", got, tt.wantSort)
				}
				return
			}
			if tt.wantFields != nil {
				body := decodeAPIError(t, w)
				var fields []string
				for _, f := range body.Fields {
					fields = append(fields, f.Field)
				}
				if strings.Join(fields, ",") != strings.Join(tt.wantFields, ",") {
					t.Errorf("fields = %v, want %v", fields, tt.wantFields)
				}
			}
		})
	}
}
