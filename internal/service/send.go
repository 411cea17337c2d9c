// Package service 编排组装、投递与队列三个环节。
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailspool/backend/internal/compose"
	"mailspool/backend/internal/domain"
	"mailspool/backend/internal/monitoring"
	"mailspool/backend/internal/spool"
)

// Transport 是投递通道的抽象，生产实现是 delivery.Executor。
type Transport interface {
	// From 返回信封发件人地址。
	From() string
	// Deliver 提交一封报文，返回接受/拒绝的收件人；
	// wantDiagnostics 为 true 时附带投递后采集的会话诊断。
	Deliver(ctx context.Context, recipients []string, raw []byte, wantDiagnostics bool) (accepted []string, refused map[string]string, diags *domain.Diagnostics, err error)
}

// SendService 发送服务
type SendService struct {
	composer  *compose.Composer
	transport Transport
	spool     *spool.Spool
	metrics   *monitoring.Metrics
	logger    *zap.Logger
}

// NewSendService 创建发送服务。metrics 可为 nil。
func NewSendService(composer *compose.Composer, transport Transport, sp *spool.Spool, metrics *monitoring.Metrics, logger *zap.Logger) *SendService {
	return &SendService{
		composer:  composer,
		transport: transport,
		spool:     sp,
		metrics:   metrics,
		logger:    logger,
	}
}

// Send 组装并立即投递一封邮件。
//
// 校验失败与文件缺失在投递前返回；部分收件人被拒绝不算失败，
// 结果里逐收件人给出拒绝原因。
func (s *SendService) Send(ctx context.Context, p *domain.Payload) (*domain.DeliveryResult, error) {
	start := time.Now()

	msg, err := s.composer.Compose(p, s.transport.From())
	if err != nil {
		s.countError(err)
		return nil, err
	}

	accepted, refused, diags, err := s.transport.Deliver(ctx, p.Recipients(), msg.Raw, p.Diagnostics)
	if err != nil {
		s.countError(err)
		return nil, err
	}

	result := &domain.DeliveryResult{
		Accepted:       accepted,
		Refused:        refused,
		Attachments:    msg.AttachmentNames,
		InlineImages:   msg.InlineImages,
		TemplateUsed:   msg.TemplateUsed,
		SignatureUsed:  msg.SignatureUsed,
		CalendarInvite: msg.CalendarInvite,
		Diagnostics:    diags,
	}

	if s.metrics != nil {
		s.metrics.MessagesSent.Inc()
		s.metrics.RecipientsAccepted.Add(float64(len(accepted)))
		s.metrics.RecipientsRefused.Add(float64(len(refused)))
		s.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	}

	s.logger.Info("邮件发送完成",
		zap.String("subject", p.Subject),
		zap.Int("accepted", len(accepted)),
		zap.Int("refused", len(refused)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// Enqueue 把载荷写入队列，不触碰网络。
func (s *SendService) Enqueue(p *domain.Payload, metadata map[string]string) (string, error) {
	id, err := s.spool.Enqueue(p, metadata)
	if err != nil {
		s.countError(err)
		return "", err
	}
	if s.metrics != nil {
		s.metrics.MessagesQueued.Inc()
	}
	return id, nil
}

// countError 按类别统计失败。
func (s *SendService) countError(err error) {
	if s.metrics != nil {
		s.metrics.ErrorsTotal.WithLabelValues(domain.ErrorCategory(err)).Inc()
	}
}
