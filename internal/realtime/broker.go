// Package realtime はテーブル変更フィードとセッション変更フィードを提供する。
// PostgreSQLのLISTEN/NOTIFYで受信した行変更をプロセス内の購読者へ配信する。
package realtime

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/todoman/internal/model"
)

// Subscription は購読の解除ハンドル。
// Cancelは冪等で、解除後に新たな配信は開始されない（配信中のものを除く）。
type Subscription interface {
	Cancel()
}

// Handler はテーブル変更の受信コールバック。
type Handler func(model.Change)

// Feed はテーブル単位の変更フィードの購読インターフェース。
type Feed interface {
	Subscribe(table string, events []model.ChangeEvent, h Handler) Subscription
}

// MetricsRecorder は変更フィードのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordChangeEvent(table, event string)
	RecordChangeEventDropped()
}

// Broker はテーブル変更をプロセス内の購読者へファンアウトする。
type Broker struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*changeSub
	logger  *slog.Logger
	metrics MetricsRecorder
}

// NewBroker はBrokerを生成する。metricsはnilでもよい。
func NewBroker(logger *slog.Logger, metrics MetricsRecorder) *Broker {
	return &Broker{
		subs:    make(map[uint64]*changeSub),
		logger:  logger,
		metrics: metrics,
	}
}

type changeSub struct {
	id        uint64
	table     string
	events    map[model.ChangeEvent]struct{}
	handler   Handler
	cancelled atomic.Bool
	broker    *Broker
}

func (s *changeSub) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	s.broker.mu.Lock()
	delete(s.broker.subs, s.id)
	s.broker.mu.Unlock()
}

func (s *changeSub) matches(c model.Change) bool {
	if s.table != c.Table {
		return false
	}
	_, ok := s.events[c.Event]
	return ok
}

// Subscribe は指定テーブル・イベント種別の変更を購読する。
// eventsが空の場合は全種別を購読する。
func (b *Broker) Subscribe(table string, events []model.ChangeEvent, h Handler) Subscription {
	if len(events) == 0 {
		events = []model.ChangeEvent{model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete}
	}
	set := make(map[model.ChangeEvent]struct{}, len(events))
	for _, e := range events {
		set[e] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &changeSub{
		id:      b.nextID,
		table:   table,
		events:  set,
		handler: h,
		broker:  b,
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish は変更を一致する購読者へ同期的に配信する。
// 購読者のpanicは回復してログに記録する。
func (b *Broker) Publish(c model.Change) {
	if b.metrics != nil {
		b.metrics.RecordChangeEvent(c.Table, string(c.Event))
	}

	b.mu.RLock()
	matched := make([]*changeSub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(c) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		if s.cancelled.Load() {
			continue
		}
		b.deliver(s, c)
	}
}

// SubscriberCount は現在の購読者数を返す。
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) deliver(s *changeSub, c model.Change) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("change handler panicked",
				slog.String("table", c.Table),
				slog.String("event", string(c.Event)),
				slog.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	s.handler(c)
}
