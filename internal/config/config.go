package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// EnvAPIKey 为默认读取 API Key 的环境变量。
	EnvAPIKey = "CHAINPILOT_API_KEY"
	// EnvRPCOverride 指定优先使用的 RPC 地址。
	EnvRPCOverride = "CHAINPILOT_RPC_URL"
	// EnvPrivateKey 为默认读取钱包私钥的环境变量。
	EnvPrivateKey = "CHAINPILOT_PRIVATE_KEY"
)

// Config 描述了 ChainPilot 在启动阶段需要加载的核心配置。
type Config struct {
	API          APIConfig          `json:"api"`
	Web3         Web3Config         `json:"web3"`
	Execution    ExecutionConfig    `json:"execution"`
	Wallet       WalletConfig       `json:"wallet"`
	Journal      JournalConfig      `json:"journal"`
	Notify       NotifyConfig       `json:"notify"`
	Conversation ConversationConfig `json:"conversation"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
	Runtime      RuntimeConfig      `json:"runtime"`
}

// APIConfig 描述对话服务的访问方式。
type APIConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回建立流式连接的超时时间，0 表示不限制。
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCOverride  string `json:"rpc_override"`
}

// ExecutionConfig 控制交易执行引擎。
type ExecutionConfig struct {
	LegacyBuyApprovals bool              `json:"legacy_buy_approvals"`
	ReceiptPoll        ReceiptPollConfig `json:"receipt_poll"`
}

// ReceiptPollConfig 控制回执轮询节奏。
type ReceiptPollConfig struct {
	InitialDelayMS int     `json:"initial_delay_ms"`
	Factor         float64 `json:"factor"`
	MaxDelayMS     int     `json:"max_delay_ms"`
	MaxAttempts    int     `json:"max_attempts"`
}

// WalletConfig 描述本地签名钱包。
type WalletConfig struct {
	PrivateKeyEnv string `json:"private_key_env"`
}

// JournalConfig 描述执行记录的存储方式。
type JournalConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// NotifyConfig 描述执行进度的外部推送渠道。
type NotifyConfig struct {
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 对应 Redis 发布订阅。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

// RabbitMQConfig 对应 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// ConversationConfig 控制对话上下文。
type ConversationConfig struct {
	HistoryLimit int    `json:"history_limit"`
	Account      string `json:"account"`
	Vesting      string `json:"vesting"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// MetricsConfig 控制 Prometheus 指标服务。
type MetricsConfig struct {
	Address string `json:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回未提供配置文件时使用的配置。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyDefaults(baseDir)
	cfg.applyEnv(os.LookupEnv)
	return &cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.API.APIKeyEnv == "" {
		c.API.APIKeyEnv = EnvAPIKey
	}
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	poll := &c.Execution.ReceiptPoll
	if poll.InitialDelayMS <= 0 {
		poll.InitialDelayMS = 1200
	}
	if poll.Factor < 1 {
		poll.Factor = 1.15
	}
	if poll.MaxDelayMS <= 0 {
		poll.MaxDelayMS = 2000
	}
	if poll.MaxAttempts <= 0 {
		poll.MaxAttempts = 60
	}

	if c.Wallet.PrivateKeyEnv == "" {
		c.Wallet.PrivateKeyEnv = EnvPrivateKey
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = "file"
	}
	c.Journal.Driver = strings.ToLower(c.Journal.Driver)
	if c.Journal.Driver == "file" && c.Journal.DSN == "" {
		c.Journal.DSN = filepath.Join(c.Runtime.DataDir, "journal.jsonl")
	}
	if c.Journal.Driver == "sqlite" && c.Journal.DSN == "" {
		c.Journal.DSN = filepath.Join(c.Runtime.DataDir, "journal.db")
	}

	if c.Notify.Redis.Channel == "" {
		c.Notify.Redis.Channel = "chainpilot:progress"
	}
	if c.Notify.RabbitMQ.Queue == "" {
		c.Notify.RabbitMQ.Queue = "chainpilot.progress"
	}

	if c.Conversation.HistoryLimit <= 0 {
		c.Conversation.HistoryLimit = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

// applyEnv 使用环境变量覆盖敏感或部署相关的字段。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if c.API.APIKey == "" {
		if v, ok := lookup(c.API.APIKeyEnv); ok {
			c.API.APIKey = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup(EnvRPCOverride); ok && strings.TrimSpace(v) != "" {
		c.Web3.RPCOverride = strings.TrimSpace(v)
	}
}

// Validate 检查必填字段。
func (c *Config) Validate() error {
	switch c.Journal.Driver {
	case "file", "mysql", "sqlite", "none":
	default:
		return fmt.Errorf("不支持的执行记录存储驱动: %s", c.Journal.Driver)
	}
	if c.Journal.Driver == "mysql" && c.Journal.DSN == "" {
		return errors.New("使用 MySQL 存储执行记录时必须提供 DSN")
	}
	return nil
}

// PrivateKey 从配置的环境变量中读取钱包私钥。
func (c WalletConfig) PrivateKey() (string, error) {
	v := strings.TrimSpace(os.Getenv(c.PrivateKeyEnv))
	if v == "" {
		return "", fmt.Errorf("环境变量 %s 未设置钱包私钥", c.PrivateKeyEnv)
	}
	return v, nil
}
