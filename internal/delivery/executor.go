// Package delivery 通过 ESMTP 提交端口把组装好的报文交给上游服务器。
//
// 465 端口走隐式 TLS，其余端口先 STARTTLS 再认证。每次投递都是一个
// 独立的 SMTP 会话，逐收件人记录拒收原因，全部拒收才算投递失败。
package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailspool/backend/internal/domain"
)

// probedExtensions 是诊断信息里逐一探测的 ESMTP 扩展。
var probedExtensions = []string{
	"SIZE",
	"8BITMIME",
	"PIPELINING",
	"AUTH",
	"DSN",
	"SMTPUTF8",
	"ENHANCEDSTATUSCODES",
	"CHUNKING",
}

// Config 上游提交服务器配置
type Config struct {
	Host     string
	Port     int
	Username string
	Secret   string
	From     string
	Timeout  time.Duration
}

// Executor 执行单次投递会话。
type Executor struct {
	cfg     Config
	limiter *SessionLimiter
	logger  *zap.Logger
}

// NewExecutor 创建投递执行器。limiter 可为 nil，表示不限流。
func NewExecutor(cfg Config, limiter *SessionLimiter, logger *zap.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Executor{cfg: cfg, limiter: limiter, logger: logger}
}

// From 返回信封发件人地址。
func (e *Executor) From() string {
	return e.cfg.From
}

// Deliver 向上游提交一封报文。
//
// 返回被接受与被拒绝的收件人。部分拒收不算错误；全部收件人被拒绝时
// 返回 TransportError。wantDiagnostics 为 true 时在报文被接受后采集
// 会话诊断信息，NOOP 往返证明投递后会话仍然存活。
func (e *Executor) Deliver(ctx context.Context, recipients []string, raw []byte, wantDiagnostics bool) ([]string, map[string]string, *domain.Diagnostics, error) {
	if e.limiter != nil {
		if err := e.limiter.Acquire(ctx); err != nil {
			return nil, nil, nil, &domain.TransportError{Op: "acquire session", Err: err}
		}
		defer e.limiter.Release()
	}

	client, err := e.dial(ctx)
	if err != nil {
		return nil, nil, nil, &domain.TransportError{Op: "connect", Err: err}
	}
	defer client.Close()

	if e.cfg.Username != "" {
		auth := sasl.NewPlainClient("", e.cfg.Username, e.cfg.Secret)
		if err := client.Auth(auth); err != nil {
			return nil, nil, nil, &domain.TransportError{Op: "authenticate", Err: err}
		}
	}

	if err := client.Mail(e.cfg.From, nil); err != nil {
		return nil, nil, nil, &domain.TransportError{Op: "mail from", Err: err}
	}

	accepted := make([]string, 0, len(recipients))
	refused := make(map[string]string)
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt, nil); err != nil {
			refused[rcpt] = refusalReason(err)
			e.logger.Warn("收件人被拒绝",
				zap.String("recipient", rcpt),
				zap.String("reason", refused[rcpt]))
			continue
		}
		accepted = append(accepted, rcpt)
	}
	if len(accepted) == 0 {
		client.Quit()
		return nil, refused, nil, &domain.TransportError{
			Op:  "rcpt to",
			Err: fmt.Errorf("all %d recipients refused", len(recipients)),
		}
	}

	wc, err := client.Data()
	if err != nil {
		return nil, refused, nil, &domain.TransportError{Op: "data", Err: err}
	}
	if _, err := wc.Write(raw); err != nil {
		wc.Close()
		return nil, refused, nil, &domain.TransportError{Op: "write body", Err: err}
	}
	if err := wc.Close(); err != nil {
		return nil, refused, nil, &domain.TransportError{Op: "finish body", Err: err}
	}

	// 诊断在报文被接受之后采集，NOOP 验证投递后会话仍可用。
	var diags *domain.Diagnostics
	if wantDiagnostics {
		diags = e.probe(client)
	}

	if err := client.Quit(); err != nil {
		// 报文已被接受，断开失败只记日志。
		e.logger.Debug("QUIT 失败", zap.Error(err))
	}

	e.logger.Info("投递完成",
		zap.String("server", e.cfg.Host),
		zap.Int("accepted", len(accepted)),
		zap.Int("refused", len(refused)))
	return accepted, refused, diags, nil
}

// dial 建立与上游的连接，465 端口用隐式 TLS，其余端口用 STARTTLS。
func (e *Executor) dial(ctx context.Context) (*gosmtp.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	tlsConfig := &tls.Config{ServerName: e.cfg.Host}

	var client *gosmtp.Client
	var err error
	if e.cfg.Port == 465 {
		client, err = gosmtp.DialTLS(addr, tlsConfig)
	} else {
		client, err = gosmtp.DialStartTLS(addr, tlsConfig)
	}
	if err != nil {
		return nil, err
	}

	client.CommandTimeout = e.cfg.Timeout
	client.SubmissionTimeout = 2 * e.cfg.Timeout
	return client, nil
}

// probe 采集会话诊断信息：支持的扩展与 NOOP 往返结果。
func (e *Executor) probe(client *gosmtp.Client) *domain.Diagnostics {
	tlsMode := "starttls"
	if e.cfg.Port == 465 {
		tlsMode = "implicit"
	}
	diags := &domain.Diagnostics{
		Server:     e.cfg.Host,
		Port:       e.cfg.Port,
		TLS:        tlsMode,
		Extensions: make(map[string]string),
	}
	for _, ext := range probedExtensions {
		if ok, param := client.Extension(ext); ok {
			diags.Extensions[ext] = param
		}
	}
	if err := client.Noop(); err != nil {
		diags.Noop = err.Error()
	} else {
		diags.Noop = "ok"
	}
	return diags
}

// refusalReason 把收件人拒绝错误化为可读原因。
func refusalReason(err error) string {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		return fmt.Sprintf("%d %s", smtpErr.Code, smtpErr.Message)
	}
	return err.Error()
}
