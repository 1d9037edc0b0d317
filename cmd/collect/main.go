package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/RSSDigest/internal/config"
	"github.com/LJTian/RSSDigest/internal/logging"
	"github.com/LJTian/RSSDigest/internal/pipeline"
	"github.com/LJTian/RSSDigest/internal/report"
	"github.com/LJTian/RSSDigest/internal/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// 命令行入口：手动执行一轮抓取或生成一份报表后退出
func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// app 子命令共用的依赖
type app struct {
	cfg     config.Config
	store   *storage.Store
	factory pipeline.DefaultFactory
	close   func()
}

func setup(cfgPath string) (*app, error) {
	_ = godotenv.Load()
	if cfgPath == "" {
		cfgPath = config.Path()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.Setup(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewStore(storage.Options{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		RedisAddr: cfg.Database.RedisAddr,
		Logger:    logger,
	})
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}
	return &app{
		cfg:     cfg,
		store:   store,
		factory: pipeline.DefaultFactory{Logger: logger},
		close: func() {
			_ = store.Close()
			_ = closer.Close()
		},
	}, nil
}

func (a *app) settings() config.Config { return a.cfg }

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "collect",
		Short:        "RSS digest one-shot tasks",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $RSS_AI_CONFIG or config/config.yaml)")
	root.AddCommand(newFetchCmd(&cfgPath), newReportCmd(&cfgPath))
	return root
}

func newFetchCmd(cfgPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run the ingest pipeline once over all configured feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats := pipeline.New(a.settings, a.store, a.factory, nil).Run(ctx, pipeline.Options{Force: force})
			fmt.Fprintln(cmd.OutOrStdout(), stats.Digest())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the existence pre-check")
	return cmd
}

func newReportCmd(cfgPath *string) *cobra.Command {
	var kind, start, end string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate (or regenerate) one report window",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := report.ParseKind(kind)
			if err != nil {
				return err
			}
			w, err := report.ResolveWindow(k, start, end, time.Now())
			if err != nil {
				return err
			}

			a, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := report.NewBuilder(a.settings, a.store, a.factory, nil).Generate(ctx, k, w)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(report.Daily), "report kind: hourly or daily")
	cmd.Flags().StringVar(&start, "start", "", "window start, RFC3339 (requires --end)")
	cmd.Flags().StringVar(&end, "end", "", "window end, RFC3339 (requires --start)")
	return cmd
}
