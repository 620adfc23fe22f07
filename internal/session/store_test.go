package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/todoman/internal/eventloop"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/realtime"
)

type fetchResult struct {
	session *model.Session
	err     error
}

// fakeProvider は初回取得の完了タイミングをテストから制御できるProvider。
type fakeProvider struct {
	mu        sync.Mutex
	handlers  []func(model.SessionEvent)
	cancelled int
	fetch     chan fetchResult
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{fetch: make(chan fetchResult)}
}

func (p *fakeProvider) CurrentSession(ctx context.Context) (*model.Session, error) {
	select {
	case r := <-p.fetch:
		return r.session, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *fakeProvider) OnSessionChange(fn func(model.SessionEvent)) realtime.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, fn)
	return &fakeSub{p: p}
}

func (p *fakeProvider) emit(ev model.SessionEvent) {
	p.mu.Lock()
	hs := append([]func(model.SessionEvent){}, p.handlers...)
	p.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

type fakeSub struct{ p *fakeProvider }

func (s *fakeSub) Cancel() {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.cancelled++
}

func newTestStore(t *testing.T) (*Store, *fakeProvider, *eventloop.Loop) {
	t.Helper()
	loop := eventloop.New(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	p := newFakeProvider()
	s := NewStore(loop, p, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.Close()
		loop.Close()
	})
	return s, p, loop
}

func waitForState(t *testing.T, s *Store, cond func(State) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(s.State()) }, time.Second, 5*time.Millisecond)
}

func TestStore_InitialFetchResolvesSession(t *testing.T) {
	s, p, _ := newTestStore(t)
	assert.True(t, s.State().Loading)

	p.fetch <- fetchResult{session: &model.Session{ID: "s1", UserID: "u1"}}

	waitForState(t, s, func(st State) bool { return !st.Loading })
	assert.Equal(t, "u1", s.State().UserID())
	assert.NoError(t, s.State().Err)
}

func TestStore_EventBeforeInitialFetchWins(t *testing.T) {
	s, p, loop := newTestStore(t)

	p.emit(model.SessionEvent{Type: model.SessionSignedIn, Session: &model.Session{ID: "s2", UserID: "u2"}})
	loop.Do(func() {})
	assert.Equal(t, "u2", s.State().UserID())

	// 遅れて解決した初回取得（ログイン前の状態）はイベントを上書きしない
	p.fetch <- fetchResult{session: nil}

	waitForState(t, s, func(st State) bool { return !st.Loading })
	assert.Equal(t, "u2", s.State().UserID())
}

func TestStore_LastEventWins(t *testing.T) {
	s, p, loop := newTestStore(t)
	p.fetch <- fetchResult{session: &model.Session{ID: "s1", UserID: "u1"}}
	waitForState(t, s, func(st State) bool { return !st.Loading })

	p.emit(model.SessionEvent{Type: model.SessionTokenRefreshed, Session: &model.Session{ID: "s1b", UserID: "u1"}})
	p.emit(model.SessionEvent{Type: model.SessionSignedOut})
	loop.Do(func() {})

	assert.Nil(t, s.State().Session)
}

func TestStore_FetchFailureKeepsSubscriptionAlive(t *testing.T) {
	s, p, loop := newTestStore(t)

	fetchErr := model.NewAuthError("backend unavailable")
	p.fetch <- fetchResult{err: fetchErr}

	waitForState(t, s, func(st State) bool { return !st.Loading })
	st := s.State()
	assert.Nil(t, st.Session)
	assert.True(t, errors.Is(st.Err, fetchErr))

	p.emit(model.SessionEvent{Type: model.SessionSignedIn, Session: &model.Session{ID: "s3", UserID: "u3"}})
	loop.Do(func() {})

	st = s.State()
	assert.Equal(t, "u3", st.UserID())
	assert.NoError(t, st.Err)
}

func TestStore_CloseStopsUpdates(t *testing.T) {
	s, p, _ := newTestStore(t)
	p.fetch <- fetchResult{session: &model.Session{ID: "s1", UserID: "u1"}}
	waitForState(t, s, func(st State) bool { return !st.Loading })

	s.Close()
	before := s.State()

	assert.NotPanics(t, func() {
		p.emit(model.SessionEvent{Type: model.SessionSignedOut})
	})
	assert.Equal(t, before, s.State())

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.cancelled)
}

func TestStore_OnChangeNotifiesDependents(t *testing.T) {
	s, p, loop := newTestStore(t)

	var seen []string
	s.OnChange(func(st State) { seen = append(seen, st.UserID()) })

	p.emit(model.SessionEvent{Type: model.SessionSignedIn, Session: &model.Session{UserID: "u1"}})
	p.emit(model.SessionEvent{Type: model.SessionSignedOut})

	var got []string
	loop.Do(func() { got = append(got, seen...) })
	assert.Equal(t, []string{"u1", ""}, got)
}
