package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DepsFactory はデバイスごとのWorkspace依存を生成する。
type DepsFactory func(deviceID string) Deps

// MetricsRecorder はWorkspace数のメトリクス記録インターフェース。
type MetricsRecorder interface {
	WorkspaceOpened()
	WorkspaceClosed()
}

// Manager はデバイスIDごとのWorkspaceを遅延生成し、一定時間使われなかったものを閉じる。
type Manager struct {
	factory DepsFactory
	idleTTL time.Duration
	metrics MetricsRecorder
	logger  *slog.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
	closed     bool
}

// NewManager はManagerを生成する。metricsはnilでもよい。
func NewManager(factory DepsFactory, idleTTL time.Duration, metrics MetricsRecorder, logger *slog.Logger) *Manager {
	return &Manager{
		factory:    factory,
		idleTTL:    idleTTL,
		metrics:    metrics,
		logger:     logger,
		workspaces: make(map[string]*Workspace),
	}
}

// Get はデバイスのWorkspaceを返す。存在しなければ生成する。
// Manager終了後はnilを返す。
// 生成は外部ストアへの読み込みを伴うためロック外で行い、同じデバイスで競合した場合は先に登録されたものを返す。
func (m *Manager) Get(deviceID string) *Workspace {
	if w, ok := m.lookup(deviceID); ok {
		return w
	}

	created := New(deviceID, m.factory(deviceID))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		created.Close()
		return nil
	}
	if w, ok := m.workspaces[deviceID]; ok {
		w.Touch()
		m.mu.Unlock()
		created.Close()
		return w
	}
	m.workspaces[deviceID] = created
	if m.metrics != nil {
		m.metrics.WorkspaceOpened()
	}
	m.mu.Unlock()

	m.logger.Debug("workspace opened", slog.String("device_id", deviceID))
	return created
}

// lookup は登録済みのWorkspaceを返す。Manager終了後はnilとtrueを返す。
func (m *Manager) lookup(deviceID string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, true
	}
	w, ok := m.workspaces[deviceID]
	if ok {
		w.Touch()
	}
	return w, ok
}

// Len は保持しているWorkspace数を返す。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workspaces)
}

// Run はidleTTLの半分の間隔でSweepを実行する。ctxがキャンセルされるとすべてのWorkspaceを閉じる。
func (m *Manager) Run(ctx context.Context) {
	interval := m.idleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("workspace sweeper started",
		slog.Duration("idle_ttl", m.idleTTL),
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			m.Close()
			m.logger.Info("workspace sweeper stopped")
			return
		case <-ticker.C:
			m.Sweep(time.Now())
		}
	}
}

// Sweep はnowの時点でidleTTL以上使われていないWorkspaceを閉じ、閉じた数を返す。
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var idle []*Workspace
	for id, w := range m.workspaces {
		if now.Sub(w.IdleSince()) >= m.idleTTL {
			idle = append(idle, w)
			delete(m.workspaces, id)
		}
	}
	m.mu.Unlock()

	for _, w := range idle {
		m.closeWorkspace(w)
	}
	if len(idle) > 0 {
		m.logger.Info("idle workspaces closed", slog.Int("count", len(idle)))
	}
	return len(idle)
}

// Close はすべてのWorkspaceを閉じる。以降のGetはnilを返す。
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	all := make([]*Workspace, 0, len(m.workspaces))
	for _, w := range m.workspaces {
		all = append(all, w)
	}
	m.workspaces = make(map[string]*Workspace)
	m.mu.Unlock()

	for _, w := range all {
		m.closeWorkspace(w)
	}
}

func (m *Manager) closeWorkspace(w *Workspace) {
	w.Close()
	if m.metrics != nil {
		m.metrics.WorkspaceClosed()
	}
	m.logger.Debug("workspace closed", slog.String("device_id", w.DeviceID))
}
