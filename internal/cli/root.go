package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nfregctl/nfregctl/addone/registration"
	"github.com/nfregctl/nfregctl/internal/config"
	"github.com/nfregctl/nfregctl/internal/database"
	"github.com/nfregctl/nfregctl/pkg/logger"
)

// ExitError 携带进程退出码；Printed 为 true 时错误已输出
type ExitError struct {
	Code    int
	Err     error
	Printed bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

type options struct {
	configPath string
	logLevel   string
	stub       bool
	cfg        *config.Config
}

// Execute 运行根命令
func Execute(version string) error {
	return NewRootCommand(version).Execute()
}

// NewRootCommand 构建 nfregctl 根命令
func NewRootCommand(version string) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "nfregctl",
		Short:         "bring network functions into or out of service over SSH",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./nfregctl.json, ./configs/nfregctl.json)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")
	cmd.PersistentFlags().BoolVar(&opts.stub, "stub", false, "use simulated sessions instead of SSH")

	for _, mode := range registration.Modes {
		cmd.AddCommand(newRunCommand(mode, opts))
	}
	cmd.AddCommand(newServeCommand(opts), newSimulateCommand(opts))
	return cmd
}

// load 加载配置并初始化日志与数据库
func (o *options) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	o.cfg = cfg
	logger.WithField("config", cfg.Path()).Debug("Config loaded")
	return nil
}

// openDatabase 配置了 SQLite 路径时启用运行历史
func openDatabase(cfg *config.Config) (func(), error) {
	if cfg.Database.SQLite.Path == "" {
		return func() {}, nil
	}
	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		return nil, err
	}
	return func() {
		if err := database.Close(); err != nil {
			logger.WithError(err).Warn("Database close failed")
		}
	}, nil
}

// signalContext SIGINT/SIGTERM 时取消
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
