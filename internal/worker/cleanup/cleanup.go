// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// 有効期限から保持期間（デフォルト7日）を過ぎたセッションを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は期限切れセッションを残しておく日数のデフォルト値。
const DefaultRetentionDays = 7

// SessionPurger は期限切れセッションの一括削除インターフェース。
// repository.PostgresSessionRepoが実装する。
type SessionPurger interface {
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は期限切れセッションの自動削除ジョブ。
// 削除条件は時刻のみに依存するため、同じ時刻で何度実行しても結果は変わらない。
type CleanupJob struct {
	sessions      SessionPurger
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:      sessions,
		logger:        logger,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run はexpires_atが保持期限より前のセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.sessions.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// RunDaily は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされると戻る。個々の実行の失敗はログに残して継続する。
func (j *CleanupJob) RunDaily(ctx context.Context, interval time.Duration) {
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
