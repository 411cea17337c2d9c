package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailspool/backend/internal/compose"
	"mailspool/backend/internal/config"
	"mailspool/backend/internal/delivery"
	"mailspool/backend/internal/logger"
	"mailspool/backend/internal/service"
	"mailspool/backend/internal/spool"
)

// main 队列排空工具：单轮或常驻地处理 pending 目录。
func main() {
	interval := flag.Duration("interval", 30*time.Second, "常驻模式的排空周期")
	limit := flag.Int("limit", 0, "每轮最多处理条目数，0 表示不限")
	once := flag.Bool("once", false, "只执行一轮后退出")
	dryRun := flag.Bool("dry-run", false, "只做组装校验，不投递也不迁移条目")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		Compress:    true,
	})
	if err != nil {
		fatal("failed to initialize logger: %v", err)
	}

	sp, err := spool.New(cfg.Spool.Dir, log)
	if err != nil {
		fatal("failed to initialize spool: %v", err)
	}

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
	sendService := service.NewSendService(composer, executor, sp, nil, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once || *dryRun {
		report, err := sendService.ProcessPending(ctx, *limit, *dryRun)
		if err != nil {
			fatal("drain failed: %v", err)
		}
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		if report.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	if err := sendService.Run(ctx, *interval, *limit); err != nil && ctx.Err() == nil {
		fatal("drainer exited: %v", err)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
