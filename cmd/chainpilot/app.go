package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ChainPilot/internal/agent"
	"ChainPilot/internal/config"
	"ChainPilot/internal/executor"
	"ChainPilot/internal/journal"
	"ChainPilot/internal/notify"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/stream"
	"ChainPilot/internal/web3/ethereum"
	"ChainPilot/internal/web3/provider"
	"ChainPilot/internal/web3/rpc"
	"ChainPilot/pkg/logger"

	"github.com/joho/godotenv"
)

// app 持有一次命令执行期间创建的全部组件。
type app struct {
	cfg      *config.Config
	registry *provider.Registry
	wallet   *ethereum.Wallet
	journal  journal.Store
	fanout   *notify.Fanout
	agent    *agent.Agent
	closers  []func()
}

type bootstrapOptions struct {
	configPath string
	envFile    string
	withWallet bool
}

// loadConfig 读取 .env 与配置文件，配置文件不存在时使用默认配置。
func loadConfig(opts bootstrapOptions) (*config.Config, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("加载环境变量文件失败: %w", err)
		}
	}
	path := opts.configPath
	if path == "" {
		path = os.Getenv("CHAINPILOT_CONFIG")
	}
	if path == "" {
		path = filepath.Join("configs", "chainpilot.json")
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default("."), nil
	}
	return config.Load(path)
}

func initLogging(cfg config.LoggingConfig) error {
	return logger.Init(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		},
	})
}

func pollConfig(cfg config.ReceiptPollConfig) rpc.PollConfig {
	return rpc.PollConfig{
		InitialDelay: time.Duration(cfg.InitialDelayMS) * time.Millisecond,
		Factor:       cfg.Factor,
		MaxDelay:     time.Duration(cfg.MaxDelayMS) * time.Millisecond,
		MaxAttempts:  cfg.MaxAttempts,
	}
}

// bootstrap 按依赖顺序构建组件，失败时释放已创建的资源。
func bootstrap(ctx context.Context, opts bootstrapOptions) (_ *app, err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := initLogging(cfg.Logging); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Metrics.Address != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		a.closers = append(a.closers, cancel)
		go func() {
			if err := metrics.StartServer(metricsCtx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.Named("metrics").Warn("metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	a.journal, err = journal.Open(ctx, cfg.Journal)
	if err != nil {
		return nil, err
	}

	a.fanout, err = notify.Open(ctx, cfg.Notify)
	if err != nil {
		return nil, err
	}

	streamer, err := stream.NewClient(stream.Config{
		BaseURL:       cfg.API.BaseURL,
		APIKey:        cfg.API.APIKey,
		HeaderTimeout: cfg.API.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	var engine agent.Executor
	if opts.withWallet {
		if engine, err = a.buildEngine(ctx); err != nil {
			return nil, err
		}
	}

	agentOpts := []agent.Option{
		agent.WithHistoryLimit(cfg.Conversation.HistoryLimit),
		agent.WithRequestContext(cfg.Conversation.Account, cfg.Conversation.Vesting),
		agent.WithPublisher(a.fanout),
	}
	if a.journal != nil {
		agentOpts = append(agentOpts, agent.WithJournal(a.journal))
	}
	if a.wallet != nil && cfg.Conversation.Account == "" {
		agentOpts = append(agentOpts, agent.WithRequestContext(a.wallet.Address(), cfg.Conversation.Vesting))
	}
	a.agent = agent.New(streamer, engine, agentOpts...)
	return a, nil
}

func (a *app) buildEngine(ctx context.Context) (*executor.Engine, error) {
	registry, err := a.openRegistry(ctx)
	if err != nil {
		return nil, err
	}
	key, err := a.cfg.Wallet.PrivateKey()
	if err != nil {
		return nil, err
	}
	wallet, err := ethereum.DialWallet(ctx, key, registry.Networks(), registry.Default().ChainID)
	if err != nil {
		return nil, err
	}
	a.wallet = wallet
	a.closers = append(a.closers, wallet.Close)

	opts := []executor.Option{
		executor.WithSettings(executor.Settings{LegacyBuyApprovals: a.cfg.Execution.LegacyBuyApprovals}),
	}
	if a.journal != nil {
		opts = append(opts, executor.WithJournal(a.journal))
	}
	return executor.New(wallet, registry, opts...), nil
}

func (a *app) openRegistry(ctx context.Context) (*provider.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	registry, err := provider.NewRegistry(ctx, a.cfg.Web3, rpc.WithPollConfig(pollConfig(a.cfg.Execution.ReceiptPoll)))
	if err != nil {
		return nil, err
	}
	a.registry = registry
	a.closers = append(a.closers, registry.Close)
	return registry, nil
}

// Close 按创建的逆序释放资源。
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.fanout != nil {
		_ = a.fanout.Close()
	}
	if a.journal != nil {
		_ = a.journal.Close()
	}
	_ = logger.Sync()
}
