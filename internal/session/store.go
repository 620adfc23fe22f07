// Package session は認証セッションの状態ストアを提供する。
//
// ストアは認証プロバイダのセッション変更フィードを購読してから初回のセッション取得を行い、
// 以降は受信したイベントで状態を置き換える。状態遷移はすべてイベントループ上で行われる。
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/todoman/internal/eventloop"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/reactive"
	"github.com/hitoshi/todoman/internal/realtime"
)

// Provider は認証プロバイダのセッション取得と変更フィードのインターフェース。
type Provider interface {
	// CurrentSession は現在のセッションを返す。未ログインの場合はnilを返す。
	CurrentSession(ctx context.Context) (*model.Session, error)
	// OnSessionChange はセッション変更イベントを購読する。
	OnSessionChange(fn func(model.SessionEvent)) realtime.Subscription
}

// State はセッションストアの公開状態。
type State struct {
	Loading bool
	Session *model.Session
	Err     error
}

// UserID はログイン中ユーザーのIDを返す。未ログインの場合は空文字列。
func (s State) UserID() string {
	return s.Session.UserIDOrEmpty()
}

// User はログイン中ユーザーの情報を返す。
func (s State) User() *model.AuthUser {
	if s.Session == nil {
		return nil
	}
	return s.Session.User
}

// Store は認証セッションの状態を保持する。
type Store struct {
	loop     *eventloop.Loop
	provider Provider
	logger   *slog.Logger
	value    *reactive.Value[State]

	mu  sync.Mutex
	sub realtime.Subscription

	// 以下はイベントループ上でのみ参照する
	eventSeen bool
	closed    bool
}

// NewStore はStoreを生成する。初期状態は読み込み中。
func NewStore(loop *eventloop.Loop, provider Provider, logger *slog.Logger) *Store {
	return &Store{
		loop:     loop,
		provider: provider,
		logger:   logger,
		value:    reactive.NewValue(State{Loading: true}),
	}
}

// Start はセッション変更フィードを購読し、その後に初回のセッション取得を開始する。
// 取得結果とフィードのイベントはいずれもイベントループ上で到着順に適用される。
func (s *Store) Start(ctx context.Context) {
	sub := s.provider.OnSessionChange(func(ev model.SessionEvent) {
		s.loop.Post(func() { s.applyEvent(ev) })
	})
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	go func() {
		sess, err := s.provider.CurrentSession(ctx)
		s.loop.Post(func() { s.applyInitial(sess, err) })
	}()
}

// State は現在の状態を返す。
func (s *Store) State() State {
	return s.value.Get()
}

// OnChange は状態遷移ごとにイベントループ上で呼ばれるリスナーを登録する。
func (s *Store) OnChange(fn func(State)) func() {
	return s.value.OnChange(fn)
}

// Watch は状態の変更を受け取るチャネルを返す。
func (s *Store) Watch() (<-chan State, func()) {
	return s.value.Watch()
}

// Close は変更フィードの購読を解除する。以降に届いた結果やイベントは状態を変更しない。
func (s *Store) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	s.loop.Do(func() { s.closed = true })
}

// applyEvent はフィードのイベントでセッションを無条件に置き換える。
func (s *Store) applyEvent(ev model.SessionEvent) {
	if s.closed {
		return
	}
	s.eventSeen = true

	st := s.value.Get()
	st.Session = ev.Session
	if ev.Session != nil {
		st.Err = nil
	}
	s.logger.Debug("session event applied",
		slog.String("event", string(ev.Type)),
		slog.Bool("signed_in", ev.Session != nil),
	)
	s.value.Set(st)
}

// applyInitial は初回取得の結果を適用する。
// 取得中にフィードのイベントを処理済みであれば、そちらが新しいためセッションは置き換えない。
func (s *Store) applyInitial(sess *model.Session, err error) {
	if s.closed {
		return
	}

	st := s.value.Get()
	st.Loading = false
	switch {
	case err != nil:
		s.logger.Warn("failed to fetch current session", slog.String("error", err.Error()))
		st.Err = err
	case !s.eventSeen:
		st.Session = sess
	}
	s.value.Set(st)
}
