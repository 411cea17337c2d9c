// Package inbox 通过 IMAP 只读地预览发件账号的收件箱。
//
// 所有抓取都带 Peek，不改动服务器上的任何消息标志。
package inbox

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"mailspool/backend/internal/domain"
)

// snippetSize 是正文摘要抓取的最大字节数。
const snippetSize = 512

// Preview 是一封邮件的概要。
type Preview struct {
	UID     uint32    `json:"uid"`
	Subject string    `json:"subject"`
	Sender  string    `json:"sender"`
	Date    time.Time `json:"date"`
	Snippet string    `json:"snippet,omitempty"`
}

// Config 收件箱连接配置
type Config struct {
	Host     string
	Port     int
	Username string
	Secret   string
	Mailbox  string
}

// Client 收件箱预览客户端，每次查询建立独立连接。
type Client struct {
	cfg    Config
	logger *zap.Logger
}

// NewClient 创建收件箱预览客户端。
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Port <= 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &Client{cfg: cfg, logger: logger}
}

// Enabled 报告是否配置了 IMAP 服务器。
func (c *Client) Enabled() bool {
	return c.cfg.Host != ""
}

// ListUnread 返回未读邮件的概要，按 UID 升序，limit<=0 表示不限。
func (c *Client) ListUnread(ctx context.Context, limit int) ([]Preview, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	return c.search(ctx, criteria, limit, true)
}

// SearchSubject 按主题子串搜索，limit<=0 表示不限。
func (c *Client) SearchSubject(ctx context.Context, subject string, limit int) ([]Preview, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, &domain.ValidationError{Reason: "subject search text must not be empty"}
	}
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: subject}},
	}
	return c.search(ctx, criteria, limit, false)
}

// LatestFrom 返回指定发件人的最新一封邮件，没有则返回 NotFoundError。
func (c *Client) LatestFrom(ctx context.Context, sender string) (*Preview, error) {
	if strings.TrimSpace(sender) == "" {
		return nil, &domain.ValidationError{Reason: "sender address must not be empty"}
	}
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: sender}},
	}
	previews, err := c.search(ctx, criteria, 0, true)
	if err != nil {
		return nil, err
	}
	if len(previews) == 0 {
		return nil, &domain.NotFoundError{Kind: "message from", Name: sender}
	}
	latest := previews[len(previews)-1]
	return &latest, nil
}

// connect 建立隐式 TLS 连接并登录。
func (c *Client) connect(ctx context.Context) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Enabled() {
		return nil, &domain.ValidationError{Reason: "inbox preview is not configured: set MAILSPOOL_IMAP_HOST"}
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, &domain.TransportError{Op: "connect imap", Err: err}
	}
	if err := client.Login(c.cfg.Username, c.cfg.Secret).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &domain.TransportError{Op: "imap login", Err: err}
	}
	if _, err := client.Select(c.cfg.Mailbox, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &domain.TransportError{Op: "select mailbox", Err: fmt.Errorf("%s: %w", c.cfg.Mailbox, err)}
	}
	return client, nil
}

// search 执行一次搜索并抓取概要。
func (c *Client) search(ctx context.Context, criteria *imap.SearchCriteria, limit int, withSnippet bool) ([]Preview, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &domain.TransportError{Op: "imap search", Err: err}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	// 取最新的 limit 封
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	bodySection := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierText,
		Peek:      true,
		Partial:   &imap.SectionPartial{Offset: 0, Size: snippetSize},
	}
	fetchOpts := &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	}
	if withSnippet {
		fetchOpts.BodySection = []*imap.FetchItemBodySection{bodySection}
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	previews := make([]Preview, 0, len(uids))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		preview := Preview{UID: uint32(buf.UID)}
		if env := buf.Envelope; env != nil {
			preview.Subject = env.Subject
			preview.Date = env.Date
			if len(env.From) > 0 {
				preview.Sender = env.From[0].Addr()
			}
		}
		if withSnippet {
			if raw := buf.FindBodySection(bodySection); raw != nil {
				preview.Snippet = snippet(raw)
			}
		}
		previews = append(previews, preview)
	}
	if err := fetchCmd.Close(); err != nil {
		return previews, &domain.TransportError{Op: "imap fetch", Err: err}
	}

	c.logger.Debug("收件箱查询完成", zap.Int("matched", len(previews)))
	return previews, nil
}

// snippet 把正文片段压缩成单行摘要。
func snippet(raw []byte) string {
	return strings.Join(strings.Fields(string(raw)), " ")
}
