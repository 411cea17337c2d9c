package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailspool/backend/internal/config"
	"mailspool/backend/internal/health"
	"mailspool/backend/internal/inbox"
	"mailspool/backend/internal/middleware"
	"mailspool/backend/internal/monitoring"
	"mailspool/backend/internal/service"
	"mailspool/backend/internal/spool"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	SendService   *service.SendService
	Spool         *spool.Spool
	Inbox         *inbox.Client
	HealthChecker *health.HealthChecker
	Metrics       *monitoring.Metrics
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	// 使用自定义中间件替代默认中间件
	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
		router.Use(mm.HTTPMetrics())
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewHandler(deps.SendService, deps.Spool, deps.Inbox, deps.HealthChecker, deps.Logger)
	apiKeyAuth := middleware.NewAPIKeyAuth(deps.Config.Server.APIKey)

	// 健康与指标端点不做认证
	router.GET("/healthz", handler.Health)
	if deps.HealthChecker != nil {
		probe := deps.HealthChecker.Handler()
		router.GET("/live", gin.WrapH(probe))
		router.GET("/ready", gin.WrapH(probe))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	v1.Use(apiKeyAuth.RequireAPIKey())
	{
		v1.POST("/send", handler.Send)
		v1.POST("/queue", handler.Enqueue)
		v1.GET("/queue/pending", handler.ListPending)
		v1.POST("/queue/drain", handler.Drain)
		v1.GET("/inbox/unread", handler.ListUnread)
		v1.GET("/inbox/search", handler.SearchInbox)
		v1.GET("/inbox/latest", handler.LatestFrom)
	}

	return router
}
