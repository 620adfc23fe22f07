// Package todo はログイン中ユーザーのTODO一覧ストアと書き込み操作を提供する。
//
// Collectionは変更フィードの通知を受けるたびに一覧全体を取得し直す。
// 取得には発行順の連番を付け、最後に発行した取得の結果だけを適用する。
package todo

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/todoman/internal/eventloop"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/reactive"
	"github.com/hitoshi/todoman/internal/realtime"
	"github.com/hitoshi/todoman/internal/session"
)

// State はCollectionの公開状態。
type State struct {
	Loading bool
	Todos   []model.Todo
	// Sort はTodosの取得に使った並び順。
	Sort model.SortOptions
	Err  error
}

// Lister はTODO一覧の取得インターフェース。
type Lister interface {
	ListByUser(ctx context.Context, userID string, sort model.SortOptions) ([]model.Todo, error)
}

// SessionSource はCollectionが参照するセッションストア。
type SessionSource interface {
	State() session.State
	OnChange(fn func(session.State)) func()
}

// SortSource は並び順設定のストア。
type SortSource interface {
	State() model.SortOptions
	OnChange(fn func(model.SortOptions)) func()
}

// MetricsRecorder はコレクション取得のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordCollectionFetch(err error, duration time.Duration)
	RecordStaleFetchDiscarded()
}

// Collection はログイン中ユーザーのTODO一覧を保持する。
type Collection struct {
	loop     *eventloop.Loop
	sessions SessionSource
	sorts    SortSource
	repo     Lister
	feed     realtime.Feed
	metrics  MetricsRecorder
	logger   *slog.Logger
	value    *reactive.Value[State]

	ctx     context.Context
	removes []func()

	// 以下はイベントループ上でのみ参照する
	userID string
	sort   model.SortOptions
	issued uint64
	sub    realtime.Subscription
	closed bool
}

// NewCollection はCollectionを生成する。metricsはnilでもよい。
func NewCollection(
	loop *eventloop.Loop,
	sessions SessionSource,
	sorts SortSource,
	repo Lister,
	feed realtime.Feed,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *Collection {
	return &Collection{
		loop:     loop,
		sessions: sessions,
		sorts:    sorts,
		repo:     repo,
		feed:     feed,
		metrics:  metrics,
		logger:   logger,
		value:    reactive.NewValue(State{Sort: sorts.State()}),
	}
}

// Start はセッションと並び順の変更への追従を開始する。
func (c *Collection) Start(ctx context.Context) {
	c.ctx = ctx
	c.removes = append(c.removes,
		c.sessions.OnChange(func(st session.State) { c.handleUser(st.UserID()) }),
		c.sorts.OnChange(c.handleSort),
	)
	c.loop.Post(func() {
		c.sort = c.sorts.State()
		c.handleUser(c.sessions.State().UserID())
	})
}

// State は現在の状態を返す。
func (c *Collection) State() State {
	return c.value.Get()
}

// OnChange は状態遷移ごとにイベントループ上で呼ばれるリスナーを登録する。
func (c *Collection) OnChange(fn func(State)) func() {
	return c.value.OnChange(fn)
}

// Close は追従と変更フィードの購読を終了する。
// 以降に届いた取得結果や通知は状態を変更しない。
func (c *Collection) Close() {
	teardown := func() {
		c.closed = true
		for _, remove := range c.removes {
			remove()
		}
		c.removes = nil
		c.stopSubscription()
	}
	if !c.loop.Do(teardown) {
		teardown()
	}
}

// handleUser はユーザーが変わったときに購読と取得をやり直す。
func (c *Collection) handleUser(uid string) {
	if c.closed || uid == c.userID {
		return
	}

	c.stopSubscription()
	c.userID = uid
	// 前のユーザーに対する取得結果を破棄する
	c.issued++

	if uid == "" {
		c.value.Set(State{Sort: c.sort})
		return
	}

	c.sub = c.feed.Subscribe(model.TableTodos, nil, func(ch model.Change) {
		if ch.IsResync() {
			c.loop.Post(func() { c.handleChange(uid) })
			return
		}
		owner, ok := realtime.RowOwner(ch, "user_id")
		if !ok {
			c.logger.Warn("ignoring malformed todo change", slog.String("event", string(ch.Event)))
			return
		}
		if owner != uid {
			return
		}
		c.loop.Post(func() { c.handleChange(uid) })
	})
	c.value.Set(State{Loading: true, Sort: c.sort})
	c.fetch()
}

// handleSort は並び順が変わったときに取得し直す。
func (c *Collection) handleSort(sort model.SortOptions) {
	if c.closed || sort == c.sort {
		return
	}
	c.sort = sort
	if c.userID == "" {
		st := c.value.Get()
		st.Sort = sort
		c.value.Set(st)
		return
	}
	c.fetch()
}

// handleChange は自分の行の挿入・更新・削除で一覧全体を取得し直す。
func (c *Collection) handleChange(uid string) {
	if c.closed || uid != c.userID {
		return
	}
	c.fetch()
}

func (c *Collection) fetch() {
	c.issued++
	seq := c.issued
	uid := c.userID
	sort := c.sort
	ctx := c.ctx

	go func() {
		start := time.Now()
		todos, err := c.repo.ListByUser(ctx, uid, sort)
		if c.metrics != nil {
			c.metrics.RecordCollectionFetch(err, time.Since(start))
		}
		c.loop.Post(func() { c.apply(seq, sort, todos, err) })
	}()
}

// apply は最後に発行した取得の結果のみを適用する。
func (c *Collection) apply(seq uint64, sort model.SortOptions, todos []model.Todo, err error) {
	if c.closed {
		return
	}
	if seq != c.issued {
		if c.metrics != nil {
			c.metrics.RecordStaleFetchDiscarded()
		}
		c.logger.Debug("discarding stale todo fetch",
			slog.Uint64("seq", seq),
			slog.Uint64("latest", c.issued),
		)
		return
	}

	if err != nil {
		c.logger.Error("failed to fetch todos",
			slog.String("user_id", c.userID),
			slog.String("error", err.Error()),
		)
		st := c.value.Get()
		st.Loading = false
		st.Err = err
		c.value.Set(st)
		return
	}
	c.value.Set(State{Todos: todos, Sort: sort})
}

func (c *Collection) stopSubscription() {
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
}
