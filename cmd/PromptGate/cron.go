package main

import (
	"context"
	"time"

	"PromptGate/internal/conf"
	"PromptGate/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// StartRetentionCron 启动用量归档清理定时任务
// 执行频率：每天凌晨 3 点执行一次
// 清理策略：删除超过归档保留期的 usage_records 行
func StartRetentionCron(archiver *data.UsageArchiverImpl, retention *conf.Retention, logger log.Logger) (*cron.Cron, func()) {
	helper := log.NewHelper(logger)

	maxAge := 90 * 24 * time.Hour
	if retention != nil && retention.ArchiveMaxAge != nil {
		maxAge = retention.ArchiveMaxAge.AsDuration()
	}

	c := cron.New(cron.WithSeconds())

	// 每天凌晨 3 点执行
	// Cron 表达式：0 0 3 * * * （秒 分 时 日 月 周）
	_, err := c.AddFunc("0 0 3 * * *", func() {
		helper.Info("Starting usage archive retention task...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		cutoff := time.Now().Add(-maxAge)
		rows, err := archiver.PruneBefore(ctx, cutoff)
		if err != nil {
			helper.Errorw("usage archive retention task failed", "error", err)
		} else {
			helper.Infow("usage archive retention task completed", "rows_pruned", rows)
		}
	})

	if err != nil {
		helper.Errorw("failed to register retention cron job", "error", err)
		return nil, func() {}
	}

	c.Start()
	helper.Infow("retention cron job started: runs daily at 03:00", "archive_max_age", maxAge)

	cleanup := func() {
		helper.Info("stopping retention cron job")
		c.Stop()
	}

	return c, cleanup
}
