package profile

import (
	"context"
	"log/slog"

	"github.com/hitoshi/todoman/internal/eventloop"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/reactive"
	"github.com/hitoshi/todoman/internal/realtime"
	"github.com/hitoshi/todoman/internal/session"
)

// State はReconcilerの公開状態。
type State struct {
	Loading bool
	Profile *model.Profile

	// IncompleteSignup はプロフィール行が存在しないこと（サインアップ未完了）を表す。
	IncompleteSignup bool
	Err              error

	// Source とIdentityは直近に取得した導出元。Previewで使う。
	Source   Source
	Identity map[string]any
}

// SessionSource はReconcilerが参照するセッションストア。
type SessionSource interface {
	State() session.State
	OnChange(fn func(session.State)) func()
}

// Reconciler はログイン中ユーザーの表示用プロフィールを保持し、変更フィードで最新に保つ。
type Reconciler struct {
	loop     *eventloop.Loop
	sessions SessionSource
	repo     Finder
	feed     realtime.Feed
	logger   *slog.Logger
	value    *reactive.Value[State]

	ctx            context.Context
	removeListener func()

	// 以下はイベントループ上でのみ参照する
	userID string
	user   *model.AuthUser
	seq    uint64
	sub    realtime.Subscription
	closed bool
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(loop *eventloop.Loop, sessions SessionSource, repo Finder, feed realtime.Feed, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		loop:     loop,
		sessions: sessions,
		repo:     repo,
		feed:     feed,
		logger:   logger,
		value:    reactive.NewValue(State{Loading: true}),
	}
}

// Start はセッションストアの変更への追従を開始する。
func (r *Reconciler) Start(ctx context.Context) {
	r.ctx = ctx
	r.removeListener = r.sessions.OnChange(r.handleSession)
	r.loop.Post(func() { r.handleSession(r.sessions.State()) })
}

// State は現在の状態を返す。
func (r *Reconciler) State() State {
	return r.value.Get()
}

// OnChange は状態遷移ごとにイベントループ上で呼ばれるリスナーを登録する。
func (r *Reconciler) OnChange(fn func(State)) func() {
	return r.value.OnChange(fn)
}

// Preview はsync_with_providerを切り替えた場合の表示用プロフィールを、
// 直近に取得した行とアイデンティティ情報から計算する。バックエンドへの問い合わせは行わない。
func (r *Reconciler) Preview(sync bool) (*model.Profile, bool) {
	st := r.value.Get()
	if st.Source == nil {
		return nil, false
	}
	row := st.Source.StoredRow()
	row.SyncWithProvider = sync
	p := Resolve(NewSource(row, st.Identity))
	return &p, true
}

// Close はセッションへの追従と変更フィードの購読を終了する。
func (r *Reconciler) Close() {
	teardown := func() {
		r.closed = true
		if r.removeListener != nil {
			r.removeListener()
		}
		r.stopSubscription()
	}
	if !r.loop.Do(teardown) {
		// ループ終了後は競合する処理がないため直接解除する
		teardown()
	}
}

// handleSession はセッションのユーザーが変わったときにプロフィールの取得と購読をやり直す。
// サインアウト時はプロフィールを同じ処理の中で消去する。
func (r *Reconciler) handleSession(st session.State) {
	if r.closed {
		return
	}
	if st.Session != nil {
		r.user = st.Session.User
	}

	uid := st.UserID()
	if uid == r.userID {
		if uid == "" {
			r.setSignedOut(st.Loading)
		}
		return
	}

	r.stopSubscription()
	// 前のユーザーに対する取得結果を破棄する
	r.seq++
	r.userID = uid
	if uid == "" {
		r.user = nil
		r.setSignedOut(st.Loading)
		return
	}

	r.value.Set(State{Loading: true})
	r.sub = r.feed.Subscribe(model.TableProfiles, []model.ChangeEvent{model.ChangeUpdate}, func(c model.Change) {
		r.loop.Post(func() { r.handleChange(uid, c) })
	})
	r.fetch()
}

// handleChange は自分のプロフィール行のUPDATEか再同期の合図で再取得する。
// ペイロードはキー列のみのため、そのままは使わない。
func (r *Reconciler) handleChange(uid string, c model.Change) {
	if r.closed || uid != r.userID {
		return
	}
	if c.IsResync() {
		r.fetch()
		return
	}
	id, ok := realtime.RowString(c.New, "id")
	if !ok {
		r.logger.Warn("ignoring malformed profile change", slog.String("event", string(c.Event)))
		return
	}
	if id != uid {
		return
	}
	r.fetch()
}

func (r *Reconciler) fetch() {
	r.seq++
	seq := r.seq
	uid := r.userID
	identity := IdentityData(r.user)
	ctx := r.ctx

	go func() {
		src, err := Fetch(ctx, r.repo, uid, identity)
		r.loop.Post(func() { r.applyFetch(seq, src, identity, err) })
	}()
}

func (r *Reconciler) applyFetch(seq uint64, src Source, identity map[string]any, err error) {
	if r.closed || seq != r.seq {
		return
	}

	switch {
	case model.HasCode(err, model.ErrCodeProfileNotFound):
		r.value.Set(State{IncompleteSignup: true})
	case err != nil:
		r.logger.Error("failed to fetch profile",
			slog.String("user_id", r.userID),
			slog.String("error", err.Error()),
		)
		st := r.value.Get()
		st.Loading = false
		st.Err = err
		r.value.Set(st)
	default:
		p := Resolve(src)
		r.value.Set(State{Profile: &p, Source: src, Identity: identity})
	}
}

func (r *Reconciler) setSignedOut(sessionLoading bool) {
	cur := r.value.Get()
	if cur.Loading == sessionLoading && cur.Profile == nil && cur.Source == nil && !cur.IncompleteSignup && cur.Err == nil {
		return
	}
	r.value.Set(State{Loading: sessionLoading})
}

func (r *Reconciler) stopSubscription() {
	if r.sub != nil {
		r.sub.Cancel()
		r.sub = nil
	}
}
