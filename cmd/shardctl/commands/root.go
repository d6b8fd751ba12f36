package commands

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskportal/internal/bootstrap"
	"taskportal/internal/printer"
	"taskportal/internal/service/dedup"
	"taskportal/internal/service/tables"
	"taskportal/pkg/config"
	"taskportal/pkg/logger"
	"taskportal/pkg/mq"
)

// app 单次命令执行所需的服务
type app struct {
	cfg         *config.Config
	tables      *tables.Service
	maintenance *dedup.Maintenance
	defaults    dedup.MaintenanceOptions
	logger      *zap.Logger
	close       func()
}

// eventPublisher emit 命令使用的发布接口
type eventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
	Close()
}

// 测试时替换为内存实现
var (
	openApp      = openPostgresApp
	newPublisher = func(url string) (eventPublisher, error) {
		return mq.NewPublisher(url, "shardctl")
	}
)

type globalFlags struct {
	env       string
	configDir string
}

func openPostgresApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.env, flags.configDir)
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Log)

	defaults, err := bootstrap.MaintenanceDefaults(cfg.Maintenance)
	if err != nil {
		return nil, err
	}
	deps, err := bootstrap.Open(ctx, cfg, false, log)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:         cfg,
		tables:      tables.NewService(deps.Store, deps.Locker, cfg.Shard.Roles, log),
		maintenance: dedup.NewMaintenance(deps.Store, log),
		defaults:    defaults,
		logger:      log,
		close: func() {
			deps.Close()
			_ = log.Sync()
		},
	}, nil
}

// NewRootCmd 构建完整命令树
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "shardctl",
		Short: "Manage per-project task tables",
		Long: `shardctl provisions, seeds and tears down per-project task and stage
tables, and scans or resolves duplicate tasks across the global and
project tables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&flags.env, "env", config.GetConfigEnv(), "config environment (config/<env>.yaml)")
	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", config.GetEnv("CONFIG_DIR", "config"), "config directory")

	root.AddCommand(
		newTablesCmd(flags),
		newSeedCmd(flags),
		newStagesCmd(flags),
		newDedupCmd(flags),
		newEmitCmd(flags),
	)
	return root
}

func Execute() error {
	return NewRootCmd().Execute()
}

// withApp 打开服务、执行 fn 并释放连接
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app, p *printer.Printer) error) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, flags)
	if err != nil {
		return p.Error("failed to initialize", err)
	}
	defer a.close()
	return fn(ctx, a, p)
}
