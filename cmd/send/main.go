package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"mailspool/backend/internal/compose"
	"mailspool/backend/internal/config"
	"mailspool/backend/internal/delivery"
	"mailspool/backend/internal/domain"
	"mailspool/backend/internal/logger"
	"mailspool/backend/internal/service"
	"mailspool/backend/internal/spool"
)

// main 命令行发送工具：从文件或标准输入读取 JSON 载荷，立即投递或写入队列。
func main() {
	payloadPath := flag.String("payload", "-", "载荷 JSON 文件路径，- 表示标准输入")
	enqueue := flag.Bool("queue", false, "写入队列而非立即投递")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fatal("failed to initialize logger: %v", err)
	}

	payload, err := readPayload(*payloadPath)
	if err != nil {
		fatal("failed to read payload: %v", err)
	}

	sp, err := spool.New(cfg.Spool.Dir, log)
	if err != nil {
		fatal("failed to initialize spool: %v", err)
	}

	composer := compose.NewComposer(cfg.Template.BodyDir, cfg.Template.SignatureDir)
	executor := delivery.NewExecutor(delivery.Config{
		Host:     cfg.Submit.Host,
		Port:     cfg.Submit.Port,
		Username: cfg.Submit.Username,
		Secret:   cfg.Submit.Secret,
		From:     cfg.Submit.From,
		Timeout:  cfg.Submit.Timeout,
	}, nil, log)
	sendService := service.NewSendService(composer, executor, sp, nil, log)

	if *enqueue {
		id, err := sendService.Enqueue(payload, map[string]string{"source": "cli"})
		if err != nil {
			fatal("enqueue failed: %v", err)
		}
		fmt.Printf("queued: %s\n", id)
		return
	}

	result, err := sendService.Send(context.Background(), payload)
	if err != nil {
		fatal("send failed: %v", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fatal("encode result: %v", err)
	}
	fmt.Println(string(out))

	if len(result.Refused) > 0 {
		log.Warn("部分收件人被拒绝", zap.Int("refused", len(result.Refused)))
		os.Exit(1)
	}
}

// readPayload 从文件或标准输入读取载荷。
func readPayload(path string) (*domain.Payload, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	payload := &domain.Payload{}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
