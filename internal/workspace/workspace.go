// Package workspace はブラウザプロファイル（デバイス）単位のクライアント状態を束ねる。
//
// Workspaceは1つのイベントループと、その上で動くセッションストア・プロフィール・
// 並び順設定・TODO一覧を1組ずつ所有する。ストア同士は生成時に渡された参照だけで接続される。
package workspace

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hitoshi/todoman/internal/eventloop"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/preference"
	"github.com/hitoshi/todoman/internal/profile"
	"github.com/hitoshi/todoman/internal/reactive"
	"github.com/hitoshi/todoman/internal/realtime"
	"github.com/hitoshi/todoman/internal/session"
	"github.com/hitoshi/todoman/internal/todo"
)

// Deps はWorkspaceが依存するバックエンドの窓口。
type Deps struct {
	Sessions session.Provider
	Profiles profile.Finder
	Todos    todo.Lister
	Feed     realtime.Feed
	KV       preference.KV
	Metrics  todo.MetricsRecorder // nilでもよい
	Logger   *slog.Logger
}

// Workspace は1デバイス分のストア群。
type Workspace struct {
	DeviceID string

	loop    *eventloop.Loop
	cancel  context.CancelFunc
	session *session.Store
	profile *profile.Reconciler
	prefs   *preference.Store
	todos   *todo.Collection
	snap    *reactive.Value[Snapshot]

	lastUsed atomic.Int64
	closed   atomic.Bool
}

// New はWorkspaceを生成し、ストアの追従を開始する。
// 依存順（セッション→プロフィール/並び順→TODO一覧）に生成し、各ストアには依存先を明示的に渡す。
func New(deviceID string, deps Deps) *Workspace {
	logger := deps.Logger.With(slog.String("device_id", deviceID))
	ctx, cancel := context.WithCancel(context.Background())
	loop := eventloop.New(logger)

	w := &Workspace{
		DeviceID: deviceID,
		loop:     loop,
		cancel:   cancel,
	}
	w.session = session.NewStore(loop, deps.Sessions, logger)
	w.profile = profile.NewReconciler(loop, w.session, deps.Profiles, deps.Feed, logger)
	w.prefs = preference.NewStore(ctx, loop, deps.KV, logger)
	w.todos = todo.NewCollection(loop, w.session, w.prefs, deps.Todos, deps.Feed, deps.Metrics, logger)
	w.snap = reactive.NewValue(w.compute())
	w.Touch()

	w.profile.Start(ctx)
	w.todos.Start(ctx)

	// 依存ストアのリスナーより後に登録し、スナップショットは遷移が伝播した後に再計算する
	refresh := func() { w.snap.Set(w.compute()) }
	w.session.OnChange(func(session.State) { refresh() })
	w.profile.OnChange(func(profile.State) { refresh() })
	w.prefs.OnChange(func(model.SortOptions) { refresh() })
	w.todos.OnChange(func(todo.State) { refresh() })

	w.session.Start(ctx)
	return w
}

// Snapshot は現在の状態をまとめて返す。
func (w *Workspace) Snapshot() Snapshot {
	w.Touch()
	return w.compute()
}

// Watch はスナップショットの変更を受け取るチャネルを返す。
// 受信側が遅れた場合は最新の値だけが残る。
func (w *Workspace) Watch() (<-chan Snapshot, func()) {
	w.Touch()
	return w.snap.Watch()
}

// Destination は現在表示すべき画面を返す。
func (w *Workspace) Destination() Destination {
	return w.Snapshot().Destination
}

// Session はセッションストアの現在の状態を返す。
func (w *Workspace) Session() session.State {
	return w.session.State()
}

// Profile はプロフィールの現在の状態を返す。
func (w *Workspace) Profile() profile.State {
	return w.profile.State()
}

// PreviewProfile はsync_with_providerを切り替えた場合の表示用プロフィールを返す。
func (w *Workspace) PreviewProfile(sync bool) (*model.Profile, bool) {
	w.Touch()
	return w.profile.Preview(sync)
}

// Todos はTODO一覧の現在の状態を返す。
func (w *Workspace) Todos() todo.State {
	w.Touch()
	return w.todos.State()
}

// Sort は現在の並び順を返す。
func (w *Workspace) Sort() model.SortOptions {
	return w.prefs.State()
}

// SetSort は並び順を保存して反映する。変更のない項目は書き込まない。
func (w *Workspace) SetSort(ctx context.Context, opts model.SortOptions) error {
	w.Touch()
	cur := w.prefs.State()
	if opts.SortBy != "" && opts.SortBy != cur.SortBy {
		if err := w.prefs.SetSortBy(ctx, opts.SortBy); err != nil {
			return err
		}
	}
	if opts.Order != "" && opts.Order != cur.Order {
		if err := w.prefs.SetOrder(ctx, opts.Order); err != nil {
			return err
		}
	}
	return nil
}

// Touch は最終利用時刻を更新する。
func (w *Workspace) Touch() {
	w.lastUsed.Store(time.Now().UnixNano())
}

// IdleSince は最終利用時刻を返す。
func (w *Workspace) IdleSince() time.Time {
	return time.Unix(0, w.lastUsed.Load())
}

// Done はWorkspaceが閉じられるとクローズされるチャネルを返す。
func (w *Workspace) Done() <-chan struct{} {
	return w.loop.Done()
}

// Close はすべての購読を解除してイベントループを停止する。冪等。
func (w *Workspace) Close() {
	if w.closed.Swap(true) {
		return
	}
	w.todos.Close()
	w.profile.Close()
	w.session.Close()
	w.cancel()
	w.loop.Close()
}
