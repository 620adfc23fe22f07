package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/todoman/internal/model"
)

// Publisher は受信した変更の配信先。
type Publisher interface {
	Publish(c model.Change)
}

// PGListenerConfig はPGListenerの設定。
// チャネル名はDBトリガーと揃えるためmodel.ChangeChannelに固定している。
type PGListenerConfig struct {
	DatabaseURL  string
	MinReconnect time.Duration
	MaxReconnect time.Duration
	PingInterval time.Duration
}

// PGListener はPostgreSQLのLISTEN/NOTIFYで受信した変更をPublisherへ橋渡しする。
// 再接続はpq.Listenerが行う。
type PGListener struct {
	cfg       PGListenerConfig
	publisher Publisher
	logger    *slog.Logger
	metrics   MetricsRecorder
}

// NewPGListener はPGListenerを生成する。
func NewPGListener(cfg PGListenerConfig, publisher Publisher, logger *slog.Logger, metrics MetricsRecorder) *PGListener {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 90 * time.Second
	}
	return &PGListener{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run はコンテキストがキャンセルされるまで通知を受信し続ける。
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.cfg.DatabaseURL, l.cfg.MinReconnect, l.cfg.MaxReconnect, l.reportEvent)
	defer listener.Close()

	if err := listener.Listen(model.ChangeChannel); err != nil {
		return fmt.Errorf("failed to listen on channel %s: %w", model.ChangeChannel, err)
	}
	l.logger.Info("change listener started", slog.String("channel", model.ChangeChannel))

	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("change listener stopped")
			return nil
		case n := <-listener.Notify:
			if n == nil {
				l.HandleReconnect()
				continue
			}
			l.HandlePayload(n.Extra)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				l.logger.Warn("change listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

// HandlePayload は1件の通知ペイロードを処理する。不正なペイロードは破棄する。
func (l *PGListener) HandlePayload(payload string) {
	c, err := DecodeNotification(payload)
	if err != nil {
		l.logger.Warn("dropping malformed change payload", slog.String("error", err.Error()))
		if l.metrics != nil {
			l.metrics.RecordChangeEventDropped()
		}
		return
	}
	l.publisher.Publish(c)
}

// HandleReconnect は再接続後に全テーブルの再同期を配信する。
// 切断中の通知は失われているため、購読側に最新状態を取得し直させる。
func (l *PGListener) HandleReconnect() {
	l.logger.Warn("change listener reconnected, requesting resync", slog.Int("tables", len(model.ChangeTables)))
	for _, table := range model.ChangeTables {
		l.publisher.Publish(model.NewResyncChange(table))
	}
}

func (l *PGListener) reportEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.logger.Info("change listener connected")
	case pq.ListenerEventDisconnected:
		l.logger.Warn("change listener disconnected", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		l.logger.Info("change listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Error("change listener connection attempt failed", slog.Any("error", err))
	}
}
