package health

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"mailspool/backend/internal/spool"
)

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	spool  *spool.Spool
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(sp *spool.Spool, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		spool:  sp,
		logger: logger,
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 协程数量检查
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(200))

	// 队列目录可写检查
	hc.health.AddReadinessCheck("spool", SpoolHealthCheck(hc.spool))
}

// Handler 返回健康检查处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// CheckHealth 执行健康检查
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := SpoolHealthCheck(hc.spool)(); err != nil {
		results["spool"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["spool"] = "OK"
	}

	pending, sent, failed, err := hc.spool.Counts()
	if err == nil {
		results["queue"] = fmt.Sprintf("pending=%d sent=%d failed=%d", pending, sent, failed)
	}
	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results
}

// SpoolHealthCheck 队列目录健康检查：目录存在且可写。
func SpoolHealthCheck(sp *spool.Spool) healthcheck.Check {
	return func() error {
		probe := filepath.Join(sp.Root(), ".health")
		if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
			return fmt.Errorf("spool directory not writable: %w", err)
		}
		return os.Remove(probe)
	}
}
