package compose

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailspool/backend/internal/domain"
)

const testSender = "sender@example.com"

func newTestComposer(t *testing.T) (*Composer, string, string) {
	t.Helper()
	templateDir := t.TempDir()
	signatureDir := t.TempDir()
	return NewComposer(templateDir, signatureDir), templateDir, signatureDir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestComposeValidation(t *testing.T) {
	c, _, _ := newTestComposer(t)

	t.Run("缺少收件人时报错", func(t *testing.T) {
		_, err := c.Compose(&domain.Payload{Subject: "s", Body: "b"}, testSender)
		assert.Error(t, err)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("缺少纯文本正文时报错", func(t *testing.T) {
		_, err := c.Compose(&domain.Payload{
			To:       []string{"rcpt@example.com"},
			Subject:  "s",
			HTMLBody: "<p>only html</p>",
		}, testSender)
		assert.Error(t, err)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("内联图片要求HTML正文", func(t *testing.T) {
		_, err := c.Compose(&domain.Payload{
			To:           []string{"rcpt@example.com"},
			Subject:      "s",
			Body:         "plain",
			InlineImages: []domain.InlineImage{{Path: "logo.png"}},
		}, testSender)
		assert.Error(t, err)
		assert.True(t, domain.IsValidation(err))
	})
}

func TestComposeMinimal(t *testing.T) {
	c, _, _ := newTestComposer(t)

	msg, err := c.Compose(&domain.Payload{
		To:      []string{"rcpt@example.com"},
		Subject: "Minimal",
		Body:    "Hello there",
	}, testSender)
	require.NoError(t, err)

	raw := string(msg.Raw)
	// 无附件无HTML时是单一 text/plain 部分，不嵌套 multipart
	assert.Contains(t, raw, "Content-Type: text/plain")
	assert.NotContains(t, raw, "multipart")
	assert.Contains(t, raw, "Hello there")
	assert.Contains(t, raw, "From: sender@example.com")
	assert.Contains(t, raw, "To: rcpt@example.com")
	assert.Contains(t, raw, "Subject: Minimal")
	assert.Empty(t, msg.AttachmentNames)
	assert.Empty(t, msg.TemplateUsed)
	assert.Empty(t, msg.CalendarInvite)
}

func TestComposeBccNotOnWire(t *testing.T) {
	c, _, _ := newTestComposer(t)

	msg, err := c.Compose(&domain.Payload{
		To:      []string{"rcpt@example.com"},
		Cc:      []string{"copy@example.com"},
		Bcc:     []string{"secret@example.com"},
		Subject: "Confidential",
		Body:    "Hello",
	}, testSender)
	require.NoError(t, err)

	raw := string(msg.Raw)
	// 密送地址只出现在信封里，报文头泄露会让普通收件人看到密送列表
	assert.Contains(t, raw, "To: rcpt@example.com")
	assert.Contains(t, raw, "Cc: copy@example.com")
	assert.NotContains(t, raw, "Bcc")
	assert.NotContains(t, raw, "secret@example.com")
}

func TestComposeTemplates(t *testing.T) {
	c, templateDir, signatureDir := newTestComposer(t)
	writeFile(t, templateDir, "welcome.txt", "Welcome ${name}")
	writeFile(t, templateDir, "welcome.html", "<p>Welcome ${name}</p>")
	writeFile(t, templateDir, "text_only.txt", "text only body")
	writeFile(t, signatureDir, "corp.txt", "Best regards, ${team}")

	t.Run("模板渲染覆盖字面正文", func(t *testing.T) {
		msg, err := c.Compose(&domain.Payload{
			To:                []string{"rcpt@example.com"},
			Subject:           "T",
			Body:              "literal body",
			BodyTemplate:      "welcome",
			TemplateVariables: map[string]string{"name": "Ann"},
		}, testSender)
		require.NoError(t, err)

		raw := string(msg.Raw)
		assert.Equal(t, "welcome", msg.TemplateUsed)
		assert.Contains(t, raw, "Welcome Ann")
		assert.NotContains(t, raw, "literal body")
		assert.Contains(t, raw, "multipart/alternative")
		assert.Contains(t, raw, "Content-Type: text/html")
	})

	t.Run("模板只有文本变体时保留字面HTML", func(t *testing.T) {
		msg, err := c.Compose(&domain.Payload{
			To:           []string{"rcpt@example.com"},
			Subject:      "T",
			HTMLBody:     "<p>literal html</p>",
			BodyTemplate: "text_only",
		}, testSender)
		require.NoError(t, err)

		raw := string(msg.Raw)
		assert.Contains(t, raw, "text only body")
		assert.Contains(t, raw, "literal html")
	})

	t.Run("字面正文做内联变量替换", func(t *testing.T) {
		msg, err := c.Compose(&domain.Payload{
			To:                []string{"rcpt@example.com"},
			Subject:           "T",
			Body:              "Hi ${name}, code ${missing}",
			TemplateVariables: map[string]string{"name": "Bob"},
		}, testSender)
		require.NoError(t, err)

		raw := string(msg.Raw)
		assert.Contains(t, raw, "Hi Bob")
		// 未提供的变量原样保留
		assert.Contains(t, raw, "${missing}")
	})

	t.Run("模板不存在时返回NotFound", func(t *testing.T) {
		_, err := c.Compose(&domain.Payload{
			To:           []string{"rcpt@example.com"},
			Subject:      "T",
			BodyTemplate: "nope",
		}, testSender)
		assert.Error(t, err)
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("签名追加到正文之后", func(t *testing.T) {
		msg, err := c.Compose(&domain.Payload{
			To:                 []string{"rcpt@example.com"},
			Subject:            "T",
			Body:               "main body",
			SignatureTemplate:  "corp",
			SignatureVariables: map[string]string{"team": "Platform"},
		}, testSender)
		require.NoError(t, err)

		raw := string(msg.Raw)
		assert.Equal(t, "corp", msg.SignatureUsed)
		assert.Contains(t, raw, "main body")
		assert.Contains(t, raw, "Best regards, Platform")
	})

	t.Run("签名变量缺省复用正文变量", func(t *testing.T) {
		msg, err := c.Compose(&domain.Payload{
			To:                []string{"rcpt@example.com"},
			Subject:           "T",
			Body:              "body",
			SignatureTemplate: "corp",
			TemplateVariables: map[string]string{"team": "Infra"},
		}, testSender)
		require.NoError(t, err)
		assert.Contains(t, string(msg.Raw), "Best regards, Infra")
	})
}

func TestComposeAttachments(t *testing.T) {
	c, _, _ := newTestComposer(t)
	dir := t.TempDir()
	reportPath := writeFile(t, dir, "report.pdf", "%PDF-1.4 fake")

	t.Run("附件进入mixed容器并base64编码", func(t *testing.T) {
		msg, err := c.Compose(&domain.Payload{
			To:          []string{"rcpt@example.com"},
			Subject:     "A",
			Body:        "see attachment",
			Attachments: []string{reportPath},
		}, testSender)
		require.NoError(t, err)

		raw := string(msg.Raw)
		assert.Contains(t, raw, "multipart/mixed")
		assert.Contains(t, raw, "Content-Disposition: attachment")
		assert.Contains(t, raw, "report.pdf")
		assert.Contains(t, raw, "Content-Transfer-Encoding: base64")
		assert.Equal(t, []string{"report.pdf"}, msg.AttachmentNames)
	})

	t.Run("附件缺失时返回NotFound", func(t *testing.T) {
		_, err := c.Compose(&domain.Payload{
			To:          []string{"rcpt@example.com"},
			Subject:     "A",
			Body:        "b",
			Attachments: []string{filepath.Join(dir, "missing.bin")},
		}, testSender)
		assert.Error(t, err)
		assert.True(t, domain.IsNotFound(err))

		notFound := &domain.NotFoundError{}
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "attachment", notFound.Kind)
	})
}

func TestComposeInlineImages(t *testing.T) {
	c, _, _ := newTestComposer(t)
	dir := t.TempDir()
	logoPath := writeFile(t, dir, "logo.png", "\x89PNG fake")

	t.Run("内联图片带ContentID", func(t *testing.T) {
		msg, err := c.Compose(&domain.Payload{
			To:           []string{"rcpt@example.com"},
			Subject:      "I",
			Body:         "plain",
			HTMLBody:     `<img src="cid:logo-cid">`,
			InlineImages: []domain.InlineImage{{Path: logoPath, CID: "logo-cid"}},
		}, testSender)
		require.NoError(t, err)

		raw := string(msg.Raw)
		assert.Contains(t, raw, "multipart/related")
		assert.Contains(t, raw, "multipart/alternative")
		assert.Contains(t, raw, "Content-Disposition: inline")
		assert.Contains(t, raw, "<logo-cid>")
		require.Len(t, msg.InlineImages, 1)
		assert.Equal(t, "logo-cid", msg.InlineImages[0].CID)
		assert.Equal(t, "logo.png", msg.InlineImages[0].Filename)
	})

	t.Run("未指定CID时自动生成", func(t *testing.T) {
		msg, err := c.Compose(&domain.Payload{
			To:           []string{"rcpt@example.com"},
			Subject:      "I",
			Body:         "plain",
			HTMLBody:     "<p>html</p>",
			InlineImages: []domain.InlineImage{{Path: logoPath}},
		}, testSender)
		require.NoError(t, err)

		require.Len(t, msg.InlineImages, 1)
		assert.Contains(t, msg.InlineImages[0].CID, "@mailspool")
	})
}

func TestComposeCalendar(t *testing.T) {
	c, _, _ := newTestComposer(t)

	start := domain.EventTime{}
	require.NoError(t, start.UnmarshalJSON([]byte(`"2026-03-02T10:00:00Z"`)))
	end := domain.EventTime{}
	require.NoError(t, end.UnmarshalJSON([]byte(`"2026-03-02T11:00:00Z"`)))

	msg, err := c.Compose(&domain.Payload{
		To:      []string{"rcpt@example.com"},
		Cc:      []string{"cc@example.com"},
		Subject: "C",
		Body:    "meeting",
		CalendarEvent: &domain.CalendarEvent{
			Summary: "Review",
			Start:   start,
			End:     end,
			UID:     "ev-1",
		},
	}, testSender)
	require.NoError(t, err)

	raw := string(msg.Raw)
	assert.Contains(t, raw, "multipart/mixed")
	assert.Contains(t, raw, "text/calendar")
	assert.Contains(t, raw, "method=REQUEST")
	assert.Equal(t, "ev-1.ics", msg.CalendarInvite)
	assert.Contains(t, msg.AttachmentNames, "ev-1.ics")
}
