package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadValidate(t *testing.T) {
	t.Run("缺少收件人", func(t *testing.T) {
		err := (&Payload{Subject: "s"}).Validate()
		assert.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("空白收件人", func(t *testing.T) {
		err := (&Payload{To: []string{"  "}}).Validate()
		assert.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("非法收件人格式", func(t *testing.T) {
		err := (&Payload{To: []string{"not-an-address"}}).Validate()
		assert.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("合法载荷", func(t *testing.T) {
		err := (&Payload{To: []string{"a@example.com"}, Body: "b"}).Validate()
		assert.NoError(t, err)
	})
}

func TestPayloadRecipients(t *testing.T) {
	p := &Payload{
		To:  []string{"a@example.com", "b@example.com"},
		Cc:  []string{"b@example.com", "c@example.com"},
		Bcc: []string{"a@example.com", "d@example.com"},
	}
	assert.Equal(t, []string{
		"a@example.com",
		"b@example.com",
		"c@example.com",
		"d@example.com",
	}, p.Recipients())
}

func TestEventTime(t *testing.T) {
	t.Run("带时区的RFC3339值", func(t *testing.T) {
		et := EventTime{}
		require.NoError(t, et.UnmarshalJSON([]byte(`"2026-03-02T10:00:00+08:00"`)))
		assert.False(t, et.Naive)

		resolved, err := et.In("America/New_York")
		require.NoError(t, err)
		// 已带时区的值不被 timezone 重新解释
		assert.Equal(t, "2026-03-02T02:00:00Z", resolved.UTC().Format(time.RFC3339))
	})

	t.Run("裸时间值按指定时区解释", func(t *testing.T) {
		et := EventTime{}
		require.NoError(t, et.UnmarshalJSON([]byte(`"2026-03-02T10:00:00"`)))
		assert.True(t, et.Naive)

		resolved, err := et.In("Asia/Shanghai")
		require.NoError(t, err)
		assert.Equal(t, "2026-03-02T02:00:00Z", resolved.UTC().Format(time.RFC3339))
	})

	t.Run("裸时间值缺省取UTC", func(t *testing.T) {
		et := EventTime{}
		require.NoError(t, et.UnmarshalJSON([]byte(`"2026-03-02T10:00:00"`)))

		resolved, err := et.In("")
		require.NoError(t, err)
		assert.Equal(t, "2026-03-02T10:00:00Z", resolved.UTC().Format(time.RFC3339))
	})

	t.Run("非法时区名报错", func(t *testing.T) {
		et := EventTime{}
		require.NoError(t, et.UnmarshalJSON([]byte(`"2026-03-02T10:00:00"`)))

		_, err := et.In("Not/A_Zone")
		assert.Error(t, err)
	})

	t.Run("序列化保持原始形态", func(t *testing.T) {
		for _, raw := range []string{
			`"2026-03-02T10:00:00Z"`,
			`"2026-03-02T10:00:00+08:00"`,
			`"2026-03-02T10:00:00"`,
		} {
			et := EventTime{}
			require.NoError(t, et.UnmarshalJSON([]byte(raw)))
			out, err := json.Marshal(&et)
			require.NoError(t, err)
			assert.Equal(t, raw, string(out))
		}
	})

	t.Run("非法格式报错", func(t *testing.T) {
		et := EventTime{}
		assert.Error(t, et.UnmarshalJSON([]byte(`"03/02/2026"`)))
	})
}

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category string
	}{
		{"校验错误", &ValidationError{Reason: "r"}, "validation"},
		{"资源缺失", &NotFoundError{Kind: "template", Name: "x"}, "not_found"},
		{"传输错误", &TransportError{Op: "connect", Err: errors.New("boom")}, "transport"},
		{"未知错误", errors.New("anything"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, ErrorCategory(tt.err))
		})
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransportError{Op: "data", Err: cause}

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "data")
	assert.Contains(t, err.Error(), "connection reset")
}
