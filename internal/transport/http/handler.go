// Package httptransport 暴露发送与队列管理的 HTTP 接口。
package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailspool/backend/internal/domain"
	"mailspool/backend/internal/health"
	"mailspool/backend/internal/inbox"
	"mailspool/backend/internal/service"
	"mailspool/backend/internal/spool"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	send   *service.SendService
	spool  *spool.Spool
	inbox  *inbox.Client
	health *health.HealthChecker
	logger *zap.Logger
}

// NewHandler 创建处理器。
func NewHandler(send *service.SendService, sp *spool.Spool, ib *inbox.Client, hc *health.HealthChecker, logger *zap.Logger) *Handler {
	return &Handler{
		send:   send,
		spool:  sp,
		inbox:  ib,
		health: hc,
		logger: logger,
	}
}

// Send 组装并立即投递一封邮件
// POST /api/v1/send
func (h *Handler) Send(c *gin.Context) {
	payload := &domain.Payload{}
	if err := c.ShouldBindJSON(payload); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	result, err := h.send.Send(c.Request.Context(), payload)
	if err != nil {
		WriteError(c, err, MsgSendFailed)
		return
	}
	SuccessWithMsg(c, "发送成功", result)
}

// enqueueRequest 入队请求体
type enqueueRequest struct {
	Payload  *domain.Payload   `json:"payload" binding:"required"`
	Metadata map[string]string `json:"metadata"`
}

// Enqueue 把载荷写入队列
// POST /api/v1/queue
func (h *Handler) Enqueue(c *gin.Context) {
	req := &enqueueRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	id, err := h.send.Enqueue(req.Payload, req.Metadata)
	if err != nil {
		WriteError(c, err, MsgEnqueueFailed)
		return
	}
	Created(c, gin.H{"entry": id})
}

// ListPending 列出待投递条目
// GET /api/v1/queue/pending?limit=
func (h *Handler) ListPending(c *gin.Context) {
	limit := intQuery(c, "limit", 0)
	ids, err := h.spool.ListPending(limit)
	if err != nil {
		WriteError(c, err, MsgDrainFailed)
		return
	}
	Success(c, gin.H{"entries": ids, "count": len(ids)})
}

// drainRequest 排空请求体
type drainRequest struct {
	Limit  int  `json:"limit"`
	DryRun bool `json:"dry_run"`
}

// Drain 触发一轮队列排空
// POST /api/v1/queue/drain
func (h *Handler) Drain(c *gin.Context) {
	req := &drainRequest{}
	// 空请求体等价于全量排空
	_ = c.ShouldBindJSON(req)

	report, err := h.send.ProcessPending(c.Request.Context(), req.Limit, req.DryRun)
	if err != nil {
		WriteError(c, err, MsgDrainFailed)
		return
	}
	SuccessWithMsg(c, "排空完成", report)
}

// ListUnread 列出未读邮件概要
// GET /api/v1/inbox/unread?limit=
func (h *Handler) ListUnread(c *gin.Context) {
	if !h.inbox.Enabled() {
		BadRequest(c, MsgInboxDisabled)
		return
	}
	previews, err := h.inbox.ListUnread(c.Request.Context(), intQuery(c, "limit", 20))
	if err != nil {
		WriteError(c, err, MsgInboxFailed)
		return
	}
	Success(c, gin.H{"messages": previews, "count": len(previews)})
}

// SearchInbox 按主题搜索收件箱
// GET /api/v1/inbox/search?subject=&limit=
func (h *Handler) SearchInbox(c *gin.Context) {
	if !h.inbox.Enabled() {
		BadRequest(c, MsgInboxDisabled)
		return
	}
	previews, err := h.inbox.SearchSubject(c.Request.Context(), c.Query("subject"), intQuery(c, "limit", 20))
	if err != nil {
		WriteError(c, err, MsgInboxFailed)
		return
	}
	Success(c, gin.H{"messages": previews, "count": len(previews)})
}

// LatestFrom 返回指定发件人的最新邮件
// GET /api/v1/inbox/latest?from=
func (h *Handler) LatestFrom(c *gin.Context) {
	if !h.inbox.Enabled() {
		BadRequest(c, MsgInboxDisabled)
		return
	}
	preview, err := h.inbox.LatestFrom(c.Request.Context(), c.Query("from"))
	if err != nil {
		WriteError(c, err, MsgInboxFailed)
		return
	}
	Success(c, preview)
}

// Health 返回健康摘要
// GET /healthz
func (h *Handler) Health(c *gin.Context) {
	Success(c, h.health.CheckHealth())
}

// intQuery 解析整型查询参数，非法值回落到默认值。
func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
