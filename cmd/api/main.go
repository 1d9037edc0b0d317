package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/RSSDigest/internal/api"
	"github.com/LJTian/RSSDigest/internal/config"
	"github.com/LJTian/RSSDigest/internal/logging"
	"github.com/LJTian/RSSDigest/internal/pipeline"
	"github.com/LJTian/RSSDigest/internal/report"
	"github.com/LJTian/RSSDigest/internal/scheduler"
	"github.com/LJTian/RSSDigest/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// .env 不存在时忽略，直接使用进程环境变量
	_ = godotenv.Load()

	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logger, closer, err := logging.Setup(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		log.Fatalf("init logging failed: %v", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(storage.Options{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		RedisAddr: cfg.Database.RedisAddr,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}
	defer store.Close()

	provider := config.NewProvider(cfgPath, cfg)
	factory := pipeline.DefaultFactory{Logger: logger}
	pipe := pipeline.New(provider.Get, store, factory, logger)
	builder := report.NewBuilder(provider.Get, store, factory, logger)

	manager := scheduler.NewManager(ctx, func(ctx context.Context) {
		pipe.Run(ctx, pipeline.Options{})
	}, builder, logger)
	provider.Subscribe(manager.Apply)
	manager.Apply(cfg)
	defer manager.Stop()

	if err := provider.Watch(ctx); err != nil {
		logger.Warn("config watch disabled", "path", cfgPath, "err", err)
	}

	r := gin.Default()
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	r.Use(api.BasicAuth(cfg.Server.BasicAuthUser, cfg.Server.BasicAuthPass))
	api.NewServer(provider, store, pipe, builder, manager, logger).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting api server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server exit", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "err", err)
	}
}
