// Package spool 实现基于文件的投递队列。
//
// 目录布局固定为 pending/、sent/、failed/ 三个子目录，条目是独立的
// JSON 文件，文件名 {入队秒}-{uuid}.json 天然按时间排序。状态迁移
// 先写终态文件再删除 pending 文件，崩溃窗口只会产生重复投递，不会
// 丢失条目。
package spool

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailspool/backend/internal/domain"
)

const (
	dirPending = "pending"
	dirSent    = "sent"
	dirFailed  = "failed"
)

// Spool 管理一个队列目录。
type Spool struct {
	root   string
	logger *zap.Logger
}

// New 打开（必要时创建）队列目录。
func New(root string, logger *zap.Logger) (*Spool, error) {
	for _, sub := range []string{dirPending, dirSent, dirFailed} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create spool dir %s: %w", sub, err)
		}
	}
	return &Spool{root: root, logger: logger}, nil
}

// Root 返回队列根目录。
func (s *Spool) Root() string {
	return s.root
}

// Enqueue 写入一个待投递条目，返回条目标识（不含扩展名的文件名）。
//
// 文件以 O_EXCL 创建，同一秒内并发入队靠 uuid 后缀区分。
func (s *Spool) Enqueue(payload *domain.Payload, metadata map[string]string) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", err
	}

	now := time.Now()
	entry := &domain.SpoolEntry{
		SchemaVersion: domain.SpoolSchemaVersion,
		QueuedAt:      now.UTC(),
		Metadata:      metadata,
		Payload:       payload,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode spool entry: %w", err)
	}

	id := fmt.Sprintf("%d-%s", now.Unix(), strings.ReplaceAll(uuid.NewString(), "-", ""))
	path := filepath.Join(s.root, dirPending, id+".json")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create spool entry %s: %w", id, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write spool entry %s: %w", id, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close spool entry %s: %w", id, err)
	}

	s.logger.Info("消息已入队", zap.String("entry", id), zap.Strings("to", payload.To))
	return id, nil
}

// ListPending 返回待投递条目标识的有序快照，limit<=0 表示不限。
func (s *Spool) ListPending(limit int) ([]string, error) {
	dir := filepath.Join(s.root, dirPending)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pending dir: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Load 读取一个待投递条目。
func (s *Spool) Load(id string) (*domain.SpoolEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.root, dirPending, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &domain.NotFoundError{Kind: "spool entry", Name: id}
		}
		return nil, fmt.Errorf("read spool entry %s: %w", id, err)
	}

	entry := &domain.SpoolEntry{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("decode spool entry %s: %w", id, err)
	}
	if entry.SchemaVersion != domain.SpoolSchemaVersion {
		return nil, fmt.Errorf("spool entry %s: unsupported schema version %d", id, entry.SchemaVersion)
	}
	return entry, nil
}

// MarkSent 把条目迁移到 sent/，附带投递结果。
func (s *Spool) MarkSent(id string, entry *domain.SpoolEntry, result *domain.DeliveryResult) error {
	now := time.Now().UTC()
	entry.SentAt = &now
	entry.Result = result
	return s.finalize(id, entry, dirSent)
}

// MarkFailed 把条目迁移到 failed/，附带失败原因。
func (s *Spool) MarkFailed(id string, entry *domain.SpoolEntry, cause error) error {
	now := time.Now().UTC()
	entry.FailedAt = &now
	entry.Error = cause.Error()
	entry.Trace = errorTrace(cause)
	return s.finalize(id, entry, dirFailed)
}

// errorTrace 逐层展开错误链写入 trace 字段，供排查失败条目时查看
// 完整上下文；单层错误没有额外信息，留空。
func errorTrace(err error) string {
	var steps []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		steps = append(steps, e.Error())
	}
	if len(steps) <= 1 {
		return ""
	}
	return strings.Join(steps, "\n")
}

// finalize 先写终态文件再删除 pending 文件。
//
// 终态文件允许覆盖：崩溃后重放同一条目会再次走到这里。
func (s *Spool) finalize(id string, entry *domain.SpoolEntry, dir string) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode spool entry %s: %w", id, err)
	}
	target := filepath.Join(s.root, dir, id+".json")
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write %s entry %s: %w", dir, id, err)
	}
	if err := os.Remove(filepath.Join(s.root, dirPending, id+".json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pending entry %s: %w", id, err)
	}

	s.logger.Info("队列条目已迁移",
		zap.String("entry", id),
		zap.String("state", dir))
	return nil
}

// Counts 统计三个状态目录里的条目数，用于健康与监控。
func (s *Spool) Counts() (pending, sent, failed int, err error) {
	count := func(sub string) (int, error) {
		entries, err := os.ReadDir(filepath.Join(s.root, sub))
		if err != nil {
			return 0, fmt.Errorf("read %s dir: %w", sub, err)
		}
		n := 0
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				n++
			}
		}
		return n, nil
	}

	if pending, err = count(dirPending); err != nil {
		return 0, 0, 0, err
	}
	if sent, err = count(dirSent); err != nil {
		return 0, 0, 0, err
	}
	if failed, err = count(dirFailed); err != nil {
		return 0, 0, 0, err
	}
	return pending, sent, failed, nil
}
