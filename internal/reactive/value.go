// Package reactive は変更通知付きの値ホルダーを提供する。
package reactive

import "sync"

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Value は単一の値を保持し、更新を購読者へ通知する。
//
// OnChangeで登録したリスナーはSetを呼び出したゴルーチン上で同期的に呼ばれる。
// Watchで得たチャネルは最新値のみを保持し、読み出しが遅れた場合は古い値が上書きされる。
type Value[T any] struct {
	mu        sync.RWMutex
	current   T
	nextID    uint64
	listeners []listener[T]
	watchers  map[uint64]chan T
}

// NewValue は初期値を持つValueを生成する。
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		current:  initial,
		watchers: make(map[uint64]chan T),
	}
}

// Get は現在の値を返す。
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Set は値を更新し、ウォッチャーとリスナーへ通知する。
func (v *Value[T]) Set(next T) {
	v.mu.Lock()
	v.current = next
	for _, ch := range v.watchers {
		offer(ch, next)
	}
	ls := make([]listener[T], len(v.listeners))
	copy(ls, v.listeners)
	v.mu.Unlock()

	for _, l := range ls {
		l.fn(next)
	}
}

// OnChange は値の更新ごとに同期的に呼ばれるリスナーを登録する。
// 戻り値の関数で登録を解除する。
func (v *Value[T]) OnChange(fn func(T)) (remove func()) {
	v.mu.Lock()
	v.nextID++
	id := v.nextID
	v.listeners = append(v.listeners, listener[T]{id: id, fn: fn})
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		for i, l := range v.listeners {
			if l.id == id {
				v.listeners = append(v.listeners[:i:i], v.listeners[i+1:]...)
				return
			}
		}
	}
}

// Watch は現在値と以降の更新を受け取るチャネルを返す。
// cancelを呼ぶとチャネルはクローズされる。
func (v *Value[T]) Watch() (<-chan T, func()) {
	ch := make(chan T, 1)

	v.mu.Lock()
	v.nextID++
	id := v.nextID
	ch <- v.current
	v.watchers[id] = ch
	v.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.watchers, id)
			close(ch)
			v.mu.Unlock()
		})
	}
	return ch, cancel
}

// offer は容量1のチャネルへ最新値を書き込む。未読の古い値は破棄する。
// 送信側はv.muを保持しているため、破棄後の送信はブロックしない。
func offer[T any](ch chan T, x T) {
	select {
	case ch <- x:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- x
	}
}
