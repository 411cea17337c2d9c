package domain

import "time"

// SpoolSchemaVersion 是 spool 条目文件的当前格式版本。
const SpoolSchemaVersion = 1

// Spool 条目状态。一个条目要么还在 pending 目录，要么位于两个终态目录之一；
// 状态由条目文件所在目录表达，记录内容只追加终态字段，从不原地改写 pending 记录。
const (
	StatePending = "pending"
	StateSent    = "sent"
	StateFailed  = "failed"
)

// SpoolEntry 是持久化到 spool 目录的完整记录。
//
// pending 阶段只有 SchemaVersion/QueuedAt/Metadata/Payload 四个字段；
// 转入终态时整条记录连同结果字段一起重写到终态目录。
type SpoolEntry struct {
	SchemaVersion int               `json:"schema_version"`
	QueuedAt      time.Time         `json:"queued_at"`
	Metadata      map[string]string `json:"metadata"`
	Payload       *Payload          `json:"payload"`

	// 终态字段：sent 与 failed 互斥。
	SentAt   *time.Time      `json:"sent_at,omitempty"`
	Result   *DeliveryResult `json:"result,omitempty"`
	FailedAt *time.Time      `json:"failed_at,omitempty"`
	Error    string          `json:"error,omitempty"`
	Trace    string          `json:"trace,omitempty"`
}
