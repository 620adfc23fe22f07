package realtime

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/todoman/internal/model"
)

// SessionHub はデバイス単位でセッション変更イベントを配信する。
// サインイン・サインアウト・トークン更新は発生したデバイスの購読者のみに届く。
type SessionHub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]*sessionSub
	logger *slog.Logger
}

// NewSessionHub はSessionHubを生成する。
func NewSessionHub(logger *slog.Logger) *SessionHub {
	return &SessionHub{
		subs:   make(map[string]map[uint64]*sessionSub),
		logger: logger,
	}
}

type sessionSub struct {
	id        uint64
	deviceID  string
	fn        func(model.SessionEvent)
	cancelled atomic.Bool
	hub       *SessionHub
}

func (s *sessionSub) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if device, ok := h.subs[s.deviceID]; ok {
		delete(device, s.id)
		if len(device) == 0 {
			delete(h.subs, s.deviceID)
		}
	}
}

// Subscribe はデバイスのセッション変更を購読する。
func (h *SessionHub) Subscribe(deviceID string, fn func(model.SessionEvent)) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &sessionSub{id: h.nextID, deviceID: deviceID, fn: fn, hub: h}
	device, ok := h.subs[deviceID]
	if !ok {
		device = make(map[uint64]*sessionSub)
		h.subs[deviceID] = device
	}
	device[sub.id] = sub
	return sub
}

// Publish はデバイスの購読者へイベントを同期的に配信する。
func (h *SessionHub) Publish(deviceID string, ev model.SessionEvent) {
	h.mu.RLock()
	targets := make([]*sessionSub, 0, len(h.subs[deviceID]))
	for _, s := range h.subs[deviceID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if s.cancelled.Load() {
			continue
		}
		h.deliver(s, ev)
	}
}

func (h *SessionHub) deliver(s *sessionSub, ev model.SessionEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("session handler panicked",
				slog.String("event", string(ev.Type)),
				slog.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	s.fn(ev)
}
