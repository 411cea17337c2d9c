// Package compose 把结构化载荷组装为完整的多部分邮件。
//
// 组装是纯函数：除读取模板目录与引用到的附件文件外没有任何副作用，
// 不触碰网络。产出的原始报文交给 delivery 包投递。
package compose

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"mailspool/backend/internal/calendar"
	"mailspool/backend/internal/domain"
	"mailspool/backend/internal/template"
)

// cidDomain 是自动生成 Content-ID 与 Message-Id 的后缀域。
const cidDomain = "mailspool"

// Message 是一次组装的产物：原始报文加上组装过程的元数据。
type Message struct {
	Raw             []byte
	AttachmentNames []string
	InlineImages    []domain.InlineImageResult
	TemplateUsed    string
	SignatureUsed   string
	CalendarInvite  string
}

// Composer 根据载荷构造邮件报文。
type Composer struct {
	templates  *template.Store
	signatures *template.Store
}

// NewComposer 创建组装器。templateDir 与 signatureDir 分别存放正文模板与签名模板。
func NewComposer(templateDir, signatureDir string) *Composer {
	return &Composer{
		templates:  template.NewStore(templateDir, "template"),
		signatures: template.NewStore(signatureDir, "signature"),
	}
}

// filePart 是已读入内存的附件或内联图片。
type filePart struct {
	filename    string
	contentType string
	params      map[string]string
	cid         string // 仅内联图片
	data        []byte
}

// Compose 按载荷组装完整报文。
//
// 处理顺序：正文解析 → 纯文本校验 → 签名合并 → 文件附件 → 内联图片 → 日历邀请。
// 任何文件缺失都会以 NotFoundError 返回；结构性问题返回 ValidationError。
func (c *Composer) Compose(p *domain.Payload, sender string) (*Message, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	plain, html, templateUsed, err := c.resolveBody(p)
	if err != nil {
		return nil, err
	}
	if plain == "" {
		return nil, &domain.ValidationError{Reason: "provide a plain-text body or a template that renders plain text"}
	}

	plain, html, signatureUsed, err := c.mergeSignature(p, plain, html)
	if err != nil {
		return nil, err
	}

	attachments, attachmentNames, err := loadAttachments(p.Attachments)
	if err != nil {
		return nil, err
	}

	inlineParts, inlineResults, err := loadInlineImages(p.InlineImages, html)
	if err != nil {
		return nil, err
	}

	var invite *filePart
	calendarFilename := ""
	if p.CalendarEvent != nil {
		filename, payload, inviteErr := calendar.BuildInvite(p.CalendarEvent, sender, dedup(append(append([]string{}, p.To...), p.Cc...)))
		if inviteErr != nil {
			return nil, inviteErr
		}
		invite = &filePart{
			filename:    filename,
			contentType: "text/calendar",
			params:      map[string]string{"charset": "utf-8", "method": "REQUEST", "name": filename},
			data:        payload,
		}
		calendarFilename = filename
		attachmentNames = append(attachmentNames, filename)
	}

	raw, err := writeMessage(p, sender, plain, html, inlineParts, attachments, invite)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:             raw,
		AttachmentNames: attachmentNames,
		InlineImages:    inlineResults,
		TemplateUsed:    templateUsed,
		SignatureUsed:   signatureUsed,
		CalendarInvite:  calendarFilename,
	}, nil
}

// resolveBody 解析纯文本与 HTML 正文。
//
// 指定 body_template 时，模板渲染出的非空变体覆盖字面正文；
// 否则对字面正文做内联变量替换。
func (c *Composer) resolveBody(p *domain.Payload) (plain, html, templateUsed string, err error) {
	plain = p.Body
	html = p.HTMLBody

	if p.BodyTemplate != "" {
		text, rendered, renderErr := c.templates.RenderPair(p.BodyTemplate, p.TemplateVariables)
		if renderErr != nil {
			return "", "", "", renderErr
		}
		templateUsed = p.BodyTemplate
		if text != "" {
			plain = text
		}
		if rendered != "" {
			html = rendered
		}
		return plain, html, templateUsed, nil
	}

	plain = template.Render(plain, p.TemplateVariables)
	if html != "" {
		html = template.Render(html, p.TemplateVariables)
	}
	return plain, html, "", nil
}

// mergeSignature 把签名模板合并进正文。
//
// 纯文本签名在正文非空时以空行分隔追加；HTML 签名追加到现有 HTML 之后，
// 没有 HTML 正文时签名本身成为 HTML 部分。签名变量缺省复用正文模板变量。
func (c *Composer) mergeSignature(p *domain.Payload, plain, html string) (string, string, string, error) {
	if p.SignatureTemplate == "" {
		return plain, html, "", nil
	}

	variables := p.SignatureVariables
	if variables == nil {
		variables = p.TemplateVariables
	}

	sigText, sigHTML, err := c.signatures.RenderPair(p.SignatureTemplate, variables)
	if err != nil {
		return "", "", "", err
	}

	if sigText != "" {
		if strings.TrimSpace(plain) != "" {
			plain = plain + "\n\n" + sigText
		} else {
			plain = sigText
		}
	}
	if sigHTML != "" {
		if html != "" {
			html = html + "\n" + sigHTML
		} else {
			html = sigHTML
		}
	}
	return plain, html, p.SignatureTemplate, nil
}

// resolvePath 展开 ~ 前缀并绝对化路径。
func resolvePath(raw string) string {
	path := raw
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// guessContentType 按扩展名猜测 MIME 类型，缺省为不透明二进制。
func guessContentType(path string) (string, map[string]string) {
	guessed := mime.TypeByExtension(filepath.Ext(path))
	if guessed == "" {
		return "application/octet-stream", nil
	}
	mediaType, params, err := mime.ParseMediaType(guessed)
	if err != nil {
		return "application/octet-stream", nil
	}
	if len(params) == 0 {
		return mediaType, nil
	}
	return mediaType, params
}

// loadAttachments 读取全部附件文件，任何一个缺失即失败。
func loadAttachments(paths []string) ([]*filePart, []string, error) {
	parts := make([]*filePart, 0, len(paths))
	names := make([]string, 0, len(paths))
	for _, raw := range paths {
		path := resolvePath(raw)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil, &domain.NotFoundError{Kind: "attachment", Name: path}
			}
			return nil, nil, fmt.Errorf("read attachment %s: %w", path, err)
		}
		contentType, params := guessContentType(path)
		name := filepath.Base(path)
		parts = append(parts, &filePart{
			filename:    name,
			contentType: contentType,
			params:      params,
			data:        data,
		})
		names = append(names, name)
	}
	return parts, names, nil
}

// loadInlineImages 读取内联图片并分配 Content-ID。
//
// 内联图片通过 Content-ID 从 HTML 引用，因此必须已有 HTML 正文。
func loadInlineImages(images []domain.InlineImage, html string) ([]*filePart, []domain.InlineImageResult, error) {
	if len(images) == 0 {
		return nil, nil, nil
	}
	if html == "" {
		return nil, nil, &domain.ValidationError{Reason: "inline images require an HTML body or HTML template"}
	}

	parts := make([]*filePart, 0, len(images))
	results := make([]domain.InlineImageResult, 0, len(images))
	for _, img := range images {
		path := resolvePath(img.Path)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil, &domain.NotFoundError{Kind: "inline image", Name: path}
			}
			return nil, nil, fmt.Errorf("read inline image %s: %w", path, err)
		}
		cid := img.CID
		if cid == "" {
			cid = fmt.Sprintf("%s@%s", uuid.NewString(), cidDomain)
		}
		contentType, params := guessContentType(path)
		name := filepath.Base(path)
		parts = append(parts, &filePart{
			filename:    name,
			contentType: contentType,
			params:      params,
			cid:         cid,
			data:        data,
		})
		results = append(results, domain.InlineImageResult{CID: cid, Filename: name})
	}
	return parts, results, nil
}

// dedup 保序去重。
func dedup(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// writeMessage 把各部分装配为 RFC 5322 报文。
//
// 结构按需嵌套：纯文本单部分 → multipart/alternative（有 HTML）→
// multipart/related（有内联图片）→ multipart/mixed（有附件或邀请）。
func writeMessage(p *domain.Payload, sender, plain, html string, inline, attachments []*filePart, invite *filePart) ([]byte, error) {
	var header gomail.Header
	header.SetDate(time.Now())
	header.SetSubject(p.Subject)
	header.Set("From", sender)
	header.Set("To", strings.Join(p.To, ", "))
	if len(p.Cc) > 0 {
		header.Set("Cc", strings.Join(p.Cc, ", "))
	}
	// 密送地址只进信封（RCPT TO），绝不写入报文头，否则收件人能看到完整密送列表。
	header.Set("Message-Id", fmt.Sprintf("<%s@%s>", uuid.NewString(), cidDomain))
	header.Set("MIME-Version", "1.0")

	hasMixed := len(attachments) > 0 || invite != nil
	hasRelated := len(inline) > 0
	hasAlternative := html != ""

	root := header.Header
	switch {
	case hasMixed:
		root.SetContentType("multipart/mixed", nil)
	case hasRelated:
		root.SetContentType("multipart/related", nil)
	case hasAlternative:
		root.SetContentType("multipart/alternative", nil)
	default:
		root.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		root.Set("Content-Transfer-Encoding", "quoted-printable")
	}

	var buf bytes.Buffer
	w, err := message.CreateWriter(&buf, root)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}

	switch {
	case hasMixed:
		if err := writeContent(w, plain, html, inline); err != nil {
			return nil, err
		}
		for _, part := range attachments {
			if err := writeAttachment(w, part); err != nil {
				return nil, err
			}
		}
		if invite != nil {
			if err := writeAttachment(w, invite); err != nil {
				return nil, err
			}
		}
	case hasRelated:
		if err := writeAlternative(w, plain, html); err != nil {
			return nil, err
		}
		for _, part := range inline {
			if err := writeInline(w, part); err != nil {
				return nil, err
			}
		}
	case hasAlternative:
		if err := writeAlternativeParts(w, plain, html); err != nil {
			return nil, err
		}
	default:
		if _, err := io.WriteString(w, plain); err != nil {
			return nil, fmt.Errorf("write plain body: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

// writeContent 在 mixed 容器内写入正文子树（纯文本 / alternative / related）。
func writeContent(w *message.Writer, plain, html string, inline []*filePart) error {
	switch {
	case len(inline) > 0:
		var h message.Header
		h.SetContentType("multipart/related", nil)
		rw, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create related part: %w", err)
		}
		if err := writeAlternative(rw, plain, html); err != nil {
			return err
		}
		for _, part := range inline {
			if err := writeInline(rw, part); err != nil {
				return err
			}
		}
		return rw.Close()
	case html != "":
		return writeAlternative(w, plain, html)
	default:
		return writeBodyPart(w, "text/plain", plain)
	}
}

// writeAlternative 在容器内创建 multipart/alternative 子部分并写入文本与 HTML。
func writeAlternative(w *message.Writer, plain, html string) error {
	var h message.Header
	h.SetContentType("multipart/alternative", nil)
	aw, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create alternative part: %w", err)
	}
	if err := writeAlternativeParts(aw, plain, html); err != nil {
		return err
	}
	return aw.Close()
}

// writeAlternativeParts 把文本与 HTML 作为并列部分写入 w。
func writeAlternativeParts(w *message.Writer, plain, html string) error {
	if err := writeBodyPart(w, "text/plain", plain); err != nil {
		return err
	}
	return writeBodyPart(w, "text/html", html)
}

// writeBodyPart 写入一个 quoted-printable 编码的文本部分。
func writeBodyPart(w *message.Writer, contentType, body string) error {
	var h message.Header
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}

// writeAttachment 写入一个 base64 编码的附件部分。
func writeAttachment(w *message.Writer, part *filePart) error {
	var h message.Header
	h.SetContentType(part.contentType, part.params)
	h.SetContentDisposition("attachment", map[string]string{"filename": part.filename})
	h.Set("Content-Transfer-Encoding", "base64")
	pw, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create attachment part %s: %w", part.filename, err)
	}
	if _, err := pw.Write(part.data); err != nil {
		return fmt.Errorf("write attachment %s: %w", part.filename, err)
	}
	return pw.Close()
}

// writeInline 写入一个通过 Content-ID 引用的内联图片部分。
func writeInline(w *message.Writer, part *filePart) error {
	var h message.Header
	h.SetContentType(part.contentType, part.params)
	h.SetContentDisposition("inline", map[string]string{"filename": part.filename})
	h.Set("Content-Id", "<"+part.cid+">")
	h.Set("Content-Transfer-Encoding", "base64")
	pw, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create inline part %s: %w", part.filename, err)
	}
	if _, err := pw.Write(part.data); err != nil {
		return fmt.Errorf("write inline image %s: %w", part.filename, err)
	}
	return pw.Close()
}
