// Package eventloop は登録された処理を単一ゴルーチン上で登録順に実行するタスクキューを提供する。
// 1つのワークスペースに属するストアの状態遷移はすべてこのループ上で直列化される。
package eventloop

import (
	"fmt"
	"log/slog"
	"sync"
)

// Loop は無制限のFIFOキューを持つ協調的イベントループ。
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake   chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// New はLoopを生成し、処理ゴルーチンを起動する。
func New(logger *slog.Logger) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

// Post は処理をキューに追加する。呼び出し元はブロックしない。
// Close後はfalseを返し、処理は実行されない。
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	l.signal()
	return true
}

// Do は処理をキューに追加し、実行完了まで待機する。
// ループ上の処理から呼び出してはならない（デッドロックする）。
func (l *Loop) Do(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Close は新規の受付を停止し、受付済みの処理をすべて実行してからループを終了する。
// 複数回呼び出してもよい。
func (l *Loop) Close() {
	l.mu.Lock()
	already := l.closed
	l.closed = true
	l.mu.Unlock()

	if !already {
		l.signal()
	}
	<-l.done
}

// Done はループ終了時にクローズされるチャネルを返す。
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				break
			}
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()

			for _, fn := range batch {
				l.exec(fn)
			}
		}
	}
}

// exec は1件の処理を実行する。panicはログに記録してループを継続する。
func (l *Loop) exec(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("event loop task panicked",
				slog.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	fn()
}
