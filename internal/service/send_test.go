package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailspool/backend/internal/compose"
	"mailspool/backend/internal/domain"
	"mailspool/backend/internal/spool"
)

// fakeTransport 可编程的投递通道，按收件人决定接受或拒绝。
type fakeTransport struct {
	refuse    map[string]string
	failWith  error
	delivered [][]string
}

func (f *fakeTransport) From() string { return "sender@example.com" }

func (f *fakeTransport) Deliver(_ context.Context, recipients []string, _ []byte, wantDiagnostics bool) ([]string, map[string]string, *domain.Diagnostics, error) {
	if f.failWith != nil {
		return nil, nil, nil, f.failWith
	}

	accepted := make([]string, 0, len(recipients))
	refused := make(map[string]string)
	for _, rcpt := range recipients {
		if reason, ok := f.refuse[rcpt]; ok {
			refused[rcpt] = reason
			continue
		}
		accepted = append(accepted, rcpt)
	}
	f.delivered = append(f.delivered, accepted)

	var diags *domain.Diagnostics
	if wantDiagnostics {
		diags = &domain.Diagnostics{
			Server:     "smtp.example.com",
			Port:       587,
			TLS:        "starttls",
			Extensions: map[string]string{"SIZE": "35882577"},
			Noop:       "ok",
		}
	}
	return accepted, refused, diags, nil
}

func newTestService(t *testing.T, transport Transport) (*SendService, *spool.Spool) {
	t.Helper()
	sp, err := spool.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	composer := compose.NewComposer(t.TempDir(), t.TempDir())
	return NewSendService(composer, transport, sp, nil, zap.NewNop()), sp
}

func testPayload(to ...string) *domain.Payload {
	if len(to) == 0 {
		to = []string{"rcpt@example.com"}
	}
	return &domain.Payload{To: to, Subject: "测试", Body: "hello"}
}

func TestSendServiceSend(t *testing.T) {
	t.Run("全部接受", func(t *testing.T) {
		transport := &fakeTransport{}
		svc, _ := newTestService(t, transport)

		result, err := svc.Send(context.Background(), testPayload("a@example.com", "b@example.com"))
		require.NoError(t, err)

		assert.Equal(t, []string{"a@example.com", "b@example.com"}, result.Accepted)
		assert.Empty(t, result.Refused)
		// 未开启诊断时不返回诊断信息
		assert.Nil(t, result.Diagnostics)
	})

	t.Run("部分拒绝不算失败", func(t *testing.T) {
		transport := &fakeTransport{refuse: map[string]string{"bad@example.com": "550 user unknown"}}
		svc, _ := newTestService(t, transport)

		result, err := svc.Send(context.Background(), testPayload("good@example.com", "bad@example.com"))
		require.NoError(t, err)

		assert.Equal(t, []string{"good@example.com"}, result.Accepted)
		assert.Equal(t, "550 user unknown", result.Refused["bad@example.com"])
	})

	t.Run("信封收件人去重合并抄送", func(t *testing.T) {
		transport := &fakeTransport{}
		svc, _ := newTestService(t, transport)

		payload := testPayload("a@example.com")
		payload.Cc = []string{"b@example.com", "a@example.com"}
		payload.Bcc = []string{"c@example.com"}

		result, err := svc.Send(context.Background(), payload)
		require.NoError(t, err)
		assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, result.Accepted)
	})

	t.Run("开启诊断时透传会话信息", func(t *testing.T) {
		transport := &fakeTransport{}
		svc, _ := newTestService(t, transport)

		payload := testPayload()
		payload.Diagnostics = true

		result, err := svc.Send(context.Background(), payload)
		require.NoError(t, err)
		require.NotNil(t, result.Diagnostics)
		assert.Equal(t, "smtp.example.com", result.Diagnostics.Server)
		assert.Equal(t, "ok", result.Diagnostics.Noop)
	})

	t.Run("传输失败原样返回", func(t *testing.T) {
		cause := &domain.TransportError{Op: "connect", Err: errors.New("refused")}
		svc, _ := newTestService(t, &fakeTransport{failWith: cause})

		_, err := svc.Send(context.Background(), testPayload())
		assert.Error(t, err)
		assert.True(t, domain.IsTransport(err))
	})

	t.Run("校验失败不触碰传输层", func(t *testing.T) {
		transport := &fakeTransport{}
		svc, _ := newTestService(t, transport)

		_, err := svc.Send(context.Background(), &domain.Payload{Subject: "s", Body: "b"})
		assert.Error(t, err)
		assert.True(t, domain.IsValidation(err))
		assert.Empty(t, transport.delivered)
	})
}

func TestSendServiceDrain(t *testing.T) {
	t.Run("排空按limit处理并迁移条目", func(t *testing.T) {
		transport := &fakeTransport{}
		svc, sp := newTestService(t, transport)

		for i := 0; i < 3; i++ {
			_, err := svc.Enqueue(testPayload(), nil)
			require.NoError(t, err)
		}

		report, err := svc.ProcessPending(context.Background(), 2, false)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Processed)
		assert.Equal(t, 2, report.Sent)
		assert.Equal(t, 0, report.Failed)

		pending, sent, failed, err := sp.Counts()
		require.NoError(t, err)
		assert.Equal(t, 1, pending)
		assert.Equal(t, 2, sent)
		assert.Equal(t, 0, failed)
	})

	t.Run("单条失败不中断整批", func(t *testing.T) {
		cause := &domain.TransportError{Op: "connect", Err: errors.New("refused")}
		transport := &fakeTransport{failWith: cause}
		svc, sp := newTestService(t, transport)

		_, err := svc.Enqueue(testPayload(), nil)
		require.NoError(t, err)
		_, err = svc.Enqueue(testPayload(), nil)
		require.NoError(t, err)

		report, err := svc.ProcessPending(context.Background(), 0, false)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Processed)
		assert.Equal(t, 2, report.Failed)

		pending, _, failed, err := sp.Counts()
		require.NoError(t, err)
		assert.Equal(t, 0, pending)
		assert.Equal(t, 2, failed)

		for _, outcome := range report.Entries {
			assert.Equal(t, domain.StateFailed, outcome.State)
			assert.Contains(t, outcome.Error, "refused")
		}
	})

	t.Run("dry-run不投递也不迁移", func(t *testing.T) {
		transport := &fakeTransport{}
		svc, sp := newTestService(t, transport)

		_, err := svc.Enqueue(testPayload(), nil)
		require.NoError(t, err)

		report, err := svc.ProcessPending(context.Background(), 0, true)
		require.NoError(t, err)
		assert.True(t, report.DryRun)
		assert.Equal(t, 1, report.Processed)
		assert.Empty(t, transport.delivered)

		pending, sent, _, err := sp.Counts()
		require.NoError(t, err)
		assert.Equal(t, 1, pending)
		assert.Equal(t, 0, sent)
	})

	t.Run("空队列返回空报告", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeTransport{})

		report, err := svc.ProcessPending(context.Background(), 0, false)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Processed)
		assert.Empty(t, report.Entries)
	})
}
