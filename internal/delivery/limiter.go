package delivery

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// SessionLimiter 投递会话限流器
//
// 同时限制并发会话数与每秒新建会话数，避免压垮上游提交服务器。
type SessionLimiter struct {
	maxSessions int
	current     int
	mu          sync.Mutex
	limiter     *rate.Limiter
}

// NewSessionLimiter 创建会话限流器
//
// 参数:
//   - maxSessions: 最大并发会话数
//   - maxRate: 每秒最大新建会话数
func NewSessionLimiter(maxSessions, maxRate int) *SessionLimiter {
	return &SessionLimiter{
		maxSessions: maxSessions,
		limiter:     rate.NewLimiter(rate.Limit(maxRate), maxRate),
	}
}

// Acquire 获取会话许可，必要时阻塞等待速率窗口。
func (l *SessionLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.current >= l.maxSessions {
		l.mu.Unlock()
		return fmt.Errorf("delivery session limit reached (%d)", l.maxSessions)
	}
	l.current++
	l.mu.Unlock()

	if err := l.limiter.Wait(ctx); err != nil {
		l.Release()
		return fmt.Errorf("wait for session slot: %w", err)
	}
	return nil
}

// Release 释放会话
func (l *SessionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 当前会话数
func (l *SessionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
