package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host   string // 监听地址，默认 "0.0.0.0"
	Port   int    // 监听端口，默认 8080
	APIKey string // 静态 API Key，留空表示接口无需认证
}

// SubmitConfig 定义上游 ESMTP 提交服务器的配置
type SubmitConfig struct {
	Host        string        // 提交服务器地址
	Port        int           // 提交端口，465 走隐式 TLS，其余端口走 STARTTLS
	Username    string        // 认证用户名，留空表示匿名提交
	Secret      string        // 认证口令
	From        string        // 信封发件人地址
	Timeout     time.Duration // 单条 SMTP 命令超时，默认 30s
	MaxSessions int           // 最大并发投递会话数，默认 4
	MaxRate     int           // 每秒最大新建会话数，默认 2
}

// IMAPConfig 定义收件箱预览使用的 IMAP 服务器配置
type IMAPConfig struct {
	Host     string // IMAP 服务器地址，留空表示禁用收件箱预览
	Port     int    // IMAP 端口，默认 993（隐式 TLS）
	Username string // 认证用户名，缺省复用提交用户名
	Secret   string // 认证口令，缺省复用提交口令
	Mailbox  string // 预览的邮箱目录，默认 "INBOX"
}

// SpoolConfig 定义文件队列配置
type SpoolConfig struct {
	Dir           string        // 队列根目录，默认 "spool"
	DrainInterval time.Duration // 常驻排空周期，默认 30s
	DrainLimit    int           // 每轮最多处理条目数，0 表示不限
	AutoDrain     bool          // 服务进程内是否启动常驻排空器
}

// TemplateConfig 定义模板目录配置
type TemplateConfig struct {
	BodyDir      string // 正文模板目录，默认 "templates"
	SignatureDir string // 签名模板目录，默认 "signatures"
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，为空时只写标准输出
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig   // HTTP 服务器配置
	Submit   SubmitConfig   // 上游提交服务器配置
	IMAP     IMAPConfig     // 收件箱预览配置
	Spool    SpoolConfig    // 文件队列配置
	Template TemplateConfig // 模板目录配置
	CORS     CORSConfig     // 跨域配置
	Log      LogConfig      // 日志配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//   1. 系统环境变量（最高优先级）
//   2. .env 文件（如果存在）
//   3. 默认值
//
// 环境变量前缀: MAILSPOOL_
// 例如: MAILSPOOL_SUBMIT_HOST, MAILSPOOL_SPOOL_DIR
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("mailspool")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.api_key", "")
	viper.SetDefault("submit.host", "localhost")
	viper.SetDefault("submit.port", 587)
	viper.SetDefault("submit.username", "")
	viper.SetDefault("submit.secret", "")
	viper.SetDefault("submit.from", "")
	viper.SetDefault("submit.timeout", "30s")
	viper.SetDefault("submit.max_sessions", 4)
	viper.SetDefault("submit.max_rate", 2)
	viper.SetDefault("imap.host", "")
	viper.SetDefault("imap.port", 993)
	viper.SetDefault("imap.username", "")
	viper.SetDefault("imap.secret", "")
	viper.SetDefault("imap.mailbox", "INBOX")
	viper.SetDefault("spool.dir", "spool")
	viper.SetDefault("spool.drain_interval", "30s")
	viper.SetDefault("spool.drain_limit", 0)
	viper.SetDefault("spool.auto_drain", true)
	viper.SetDefault("template.body_dir", "templates")
	viper.SetDefault("template.signature_dir", "signatures")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")

	from := viper.GetString("submit.from")
	if from == "" {
		from = viper.GetString("submit.username")
	}
	if from == "" {
		return nil, fmt.Errorf("submit.from must not be empty: set MAILSPOOL_SUBMIT_FROM or MAILSPOOL_SUBMIT_USERNAME")
	}

	submitPort := viper.GetInt("submit.port")
	if submitPort <= 0 || submitPort > 65535 {
		return nil, fmt.Errorf("invalid submit.port: %d", submitPort)
	}

	timeout, err := time.ParseDuration(viper.GetString("submit.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid submit.timeout: %w", err)
	}

	maxSessions := viper.GetInt("submit.max_sessions")
	if maxSessions <= 0 {
		maxSessions = 4
	}
	maxRate := viper.GetInt("submit.max_rate")
	if maxRate <= 0 {
		maxRate = 2
	}

	drainInterval, err := time.ParseDuration(viper.GetString("spool.drain_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid spool.drain_interval: %w", err)
	}

	imapUser := viper.GetString("imap.username")
	if imapUser == "" {
		imapUser = viper.GetString("submit.username")
	}
	imapSecret := viper.GetString("imap.secret")
	if imapSecret == "" {
		imapSecret = viper.GetString("submit.secret")
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:   viper.GetString("server.host"),
			Port:   viper.GetInt("server.port"),
			APIKey: viper.GetString("server.api_key"),
		},
		Submit: SubmitConfig{
			Host:        viper.GetString("submit.host"),
			Port:        submitPort,
			Username:    viper.GetString("submit.username"),
			Secret:      viper.GetString("submit.secret"),
			From:        from,
			Timeout:     timeout,
			MaxSessions: maxSessions,
			MaxRate:     maxRate,
		},
		IMAP: IMAPConfig{
			Host:     viper.GetString("imap.host"),
			Port:     viper.GetInt("imap.port"),
			Username: imapUser,
			Secret:   imapSecret,
			Mailbox:  viper.GetString("imap.mailbox"),
		},
		Spool: SpoolConfig{
			Dir:           viper.GetString("spool.dir"),
			DrainInterval: drainInterval,
			DrainLimit:    viper.GetInt("spool.drain_limit"),
			AutoDrain:     viper.GetBool("spool.auto_drain"),
		},
		Template: TemplateConfig{
			BodyDir:      viper.GetString("template.body_dir"),
			SignatureDir: viper.GetString("template.signature_dir"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//   1. 当前目录的 .env
//   2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	// 尝试当前目录的 .env
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	// 尝试父目录的 .env（从 backend/ 目录运行时）
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
