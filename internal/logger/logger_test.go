package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("无日志文件时只写标准输出", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "info"})
		require.NoError(t, err)
		log.Info("hello")
	})

	t.Run("非法级别回退到info", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "chatty"})
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("配置日志文件时创建目录并写入", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "mailspool.log")
		log, err := NewLogger(Config{Level: "debug", LogFile: file})
		require.NoError(t, err)

		log.Info("队列启动")
		log.Sync()

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), "队列启动")
	})
}
