// Package cleanup は失効済みトークンの自動削除ジョブを提供する。
// 有効期限を過ぎた失効記録はもう照合に使われないため、定期的に削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultGrace は有効期限を過ぎてから削除するまでの猶予。
// トークン検証で許容する時計のずれより長くする。
const DefaultGrace = time.Minute

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CleanupJob は有効期限切れの失効トークン記録を削除するジョブ。
// 冪等で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
	now    func() time.Time
	Grace  time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:     db,
		logger: logger,
		now:    time.Now,
		Grace:  DefaultGrace,
	}
}

// Run は expires_at が現在時刻からGrace以上前の失効記録を削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.Add(-j.Grace).UTC()

	result, err := j.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		j.logger.Error("revoked token cleanup failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to purge revoked tokens: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to read affected rows",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	j.logger.Info("revoked token cleanup completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後intervalごとにRunを繰り返す。
// ctxがキャンセルされるまでブロックする。個々の失敗はログに残して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
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
