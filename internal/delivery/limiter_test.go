package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLimiter(t *testing.T) {
	t.Run("并发上限内获取成功", func(t *testing.T) {
		l := NewSessionLimiter(2, 10)

		require.NoError(t, l.Acquire(context.Background()))
		require.NoError(t, l.Acquire(context.Background()))
		assert.Equal(t, 2, l.Current())
	})

	t.Run("超出并发上限立即报错", func(t *testing.T) {
		l := NewSessionLimiter(1, 10)

		require.NoError(t, l.Acquire(context.Background()))
		err := l.Acquire(context.Background())
		assert.Error(t, err)
		assert.Equal(t, 1, l.Current())
	})

	t.Run("释放后可重新获取", func(t *testing.T) {
		l := NewSessionLimiter(1, 10)

		require.NoError(t, l.Acquire(context.Background()))
		l.Release()
		assert.Equal(t, 0, l.Current())
		assert.NoError(t, l.Acquire(context.Background()))
	})

	t.Run("上下文取消中断速率等待", func(t *testing.T) {
		// 速率 1/s 且令牌已耗尽，第二次获取必须等待
		l := NewSessionLimiter(5, 1)
		require.NoError(t, l.Acquire(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := l.Acquire(ctx)
		assert.Error(t, err)
		// 失败的获取不占用会话名额
		assert.Equal(t, 1, l.Current())
	})

	t.Run("多余的释放不会下穿零", func(t *testing.T) {
		l := NewSessionLimiter(1, 10)
		l.Release()
		assert.Equal(t, 0, l.Current())
	})
}
