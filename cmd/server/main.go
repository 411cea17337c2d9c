package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailspool/backend/internal/compose"
	"mailspool/backend/internal/config"
	"mailspool/backend/internal/delivery"
	"mailspool/backend/internal/health"
	"mailspool/backend/internal/inbox"
	"mailspool/backend/internal/logger"
	"mailspool/backend/internal/monitoring"
	"mailspool/backend/internal/service"
	"mailspool/backend/internal/spool"
	httptransport "mailspool/backend/internal/transport/http"
)

// main 启动包含发送接口与队列排空器的常驻服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting mailspool server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化队列
	sp, err := spool.New(cfg.Spool.Dir, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize spool: %v", err))
	}
	log.Info("spool initialized", zap.String("dir", sp.Root()))

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(sp, log)

	// 初始化组装与投递
	composer := compose.NewComposer(cfg.Template.BodyDir, cfg.Template.SignatureDir)
	limiter := delivery.NewSessionLimiter(cfg.Submit.MaxSessions, cfg.Submit.MaxRate)
	executor := delivery.NewExecutor(delivery.Config{
		Host:     cfg.Submit.Host,
		Port:     cfg.Submit.Port,
		Username: cfg.Submit.Username,
		Secret:   cfg.Submit.Secret,
		From:     cfg.Submit.From,
		Timeout:  cfg.Submit.Timeout,
	}, limiter, log)

	sendService := service.NewSendService(composer, executor, sp, metrics, log)

	// 收件箱预览
	inboxClient := inbox.NewClient(inbox.Config{
		Host:     cfg.IMAP.Host,
		Port:     cfg.IMAP.Port,
		Username: cfg.IMAP.Username,
		Secret:   cfg.IMAP.Secret,
		Mailbox:  cfg.IMAP.Mailbox,
	}, log)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		SendService:   sendService,
		Spool:         sp,
		Inbox:         inboxClient,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 队列排空 goroutine
	if cfg.Spool.AutoDrain {
		group.Go(func() error {
			if err := sendService.Run(groupCtx, cfg.Spool.DrainInterval, cfg.Spool.DrainLimit); err != nil && groupCtx.Err() == nil {
				return err
			}
			return nil
		})
	}

	// 定时刷新队列积压指标 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				pending, _, _, err := sp.Counts()
				if err != nil {
					log.Error("failed to count spool entries", zap.Error(err))
					continue
				}
				metrics.QueuePending.Set(float64(pending))
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Error("server exited with error", zap.Error(err))
	}
	log.Info("server stopped")
}
