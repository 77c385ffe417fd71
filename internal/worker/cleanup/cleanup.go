// Package cleanup は下書きの自動削除ジョブを提供する。
// 確定済みエントリと同じ日付に残った下書きと、保持期間（デフォルト90日）を
// 超えて更新されていない下書きを削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sqlx.DB を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DefaultRetentionDays は下書きの既定の保持日数。
const DefaultRetentionDays = 90

const (
	deleteShadowedDraftsQuery = `DELETE FROM drafts d
		USING entries e
		WHERE d.user_id = e.user_id AND d.date = e.date`

	deleteStaleDraftsQuery = `DELETE FROM drafts WHERE updated_at < now() - $1::interval`
)

// Result はクリーンアップの削除件数。
type Result struct {
	Shadowed int64 // 確定済みエントリと重複していた下書き
	Stale    int64 // 保持期間を超えた下書き
}

// CleanupJob は不要になった下書きの削除ジョブ。
// 何度実行しても結果が変わらない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使う。
func NewCleanupJob(db Executor, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run は不要な下書きを削除する。
// エントリ確定後の下書き削除は失敗しても確定を取り消さないため、
// ここで取り残された下書きを回収する。
func (j *CleanupJob) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	shadowed, err := j.exec(ctx, "shadowed", deleteShadowedDraftsQuery)
	if err != nil {
		return nil, err
	}

	interval := fmt.Sprintf("%d days", j.RetentionDays)
	stale, err := j.exec(ctx, "stale", deleteStaleDraftsQuery, interval)
	if err != nil {
		return nil, err
	}

	duration := time.Since(start)
	j.logger.Info("draft cleanup completed",
		slog.Int64("shadowed_deleted", shadowed),
		slog.Int64("stale_deleted", stale),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return &Result{Shadowed: shadowed, Stale: stale}, nil
}

func (j *CleanupJob) exec(ctx context.Context, kind, query string, args ...interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("draft cleanup failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to delete %s drafts: %w", kind, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s drafts: %w", kind, err)
	}
	return n, nil
}
