package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailspool/backend/internal/domain"
)

// EntryOutcome 是排空过程中单个条目的处理结果。
type EntryOutcome struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// DrainReport 是一轮排空的汇总。
type DrainReport struct {
	Processed int            `json:"processed"`
	Sent      int            `json:"sent"`
	Failed    int            `json:"failed"`
	DryRun    bool           `json:"dry_run"`
	Entries   []EntryOutcome `json:"entries"`
}

// ProcessPending 处理一批待投递条目。
//
// 单个条目的失败迁入 failed/ 并继续处理后续条目，绝不中断整批；
// 只有列目录这类基础设施错误才让整轮失败。dryRun 只做组装校验，
// 条目留在 pending 目录。
func (s *SendService) ProcessPending(ctx context.Context, limit int, dryRun bool) (*DrainReport, error) {
	ids, err := s.spool.ListPending(limit)
	if err != nil {
		return nil, err
	}

	report := &DrainReport{DryRun: dryRun, Entries: make([]EntryOutcome, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++
		outcome := s.processEntry(ctx, id, dryRun)
		if outcome.State == domain.StateFailed {
			report.Failed++
		} else {
			report.Sent++
		}
		report.Entries = append(report.Entries, outcome)
	}

	if report.Processed > 0 {
		s.logger.Info("队列排空完成",
			zap.Int("processed", report.Processed),
			zap.Int("sent", report.Sent),
			zap.Int("failed", report.Failed),
			zap.Bool("dry_run", dryRun))
	}
	return report, nil
}

// processEntry 投递单个条目并迁移状态。
func (s *SendService) processEntry(ctx context.Context, id string, dryRun bool) EntryOutcome {
	entry, err := s.spool.Load(id)
	if err != nil {
		// 条目本身损坏也要出队，否则每轮都会卡在同一个文件上。
		if markErr := s.markFailed(id, &domain.SpoolEntry{SchemaVersion: domain.SpoolSchemaVersion}, err); markErr != nil {
			s.logger.Error("条目迁移失败", zap.String("entry", id), zap.Error(markErr))
		}
		return EntryOutcome{ID: id, State: domain.StateFailed, Error: err.Error()}
	}

	if dryRun {
		if _, err := s.composer.Compose(entry.Payload, s.transport.From()); err != nil {
			return EntryOutcome{ID: id, State: domain.StateFailed, Error: err.Error()}
		}
		return EntryOutcome{ID: id, State: domain.StatePending}
	}

	result, err := s.Send(ctx, entry.Payload)
	if err != nil {
		if markErr := s.markFailed(id, entry, err); markErr != nil {
			s.logger.Error("条目迁移失败", zap.String("entry", id), zap.Error(markErr))
		}
		return EntryOutcome{ID: id, State: domain.StateFailed, Error: err.Error()}
	}

	if err := s.spool.MarkSent(id, entry, result); err != nil {
		s.logger.Error("条目迁移失败", zap.String("entry", id), zap.Error(err))
		return EntryOutcome{ID: id, State: domain.StateFailed, Error: err.Error()}
	}
	if s.metrics != nil {
		s.metrics.QueueDrained.Inc()
	}
	return EntryOutcome{ID: id, State: domain.StateSent}
}

func (s *SendService) markFailed(id string, entry *domain.SpoolEntry, cause error) error {
	if s.metrics != nil {
		s.metrics.QueueFailed.Inc()
	}
	return s.spool.MarkFailed(id, entry, cause)
}

// Run 周期性排空队列，直到上下文取消。
func (s *SendService) Run(ctx context.Context, interval time.Duration, limit int) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("队列排空器已启动",
		zap.Duration("interval", interval),
		zap.Int("limit", limit))
	for {
		if _, err := s.ProcessPending(ctx, limit, false); err != nil && ctx.Err() == nil {
			s.logger.Error("队列排空出错", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("队列排空器已停止")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
