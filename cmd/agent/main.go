package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/zoneops/agent/config"
	"github.com/zoneops/agent/internal/actions"
	"github.com/zoneops/agent/internal/logging"
	"github.com/zoneops/agent/internal/server"
	"github.com/zoneops/agent/internal/sysinfo"
	"github.com/zoneops/agent/internal/task"
	"go.uber.org/zap"
)

const Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := logging.New(cfg.Logger)
	defer logger.Sync()

	logger.Info("starting zoneops agent",
		zap.String("version", Version),
		zap.String("listen", cfg.Server.Address()),
	)

	snapshot := sysinfo.NewCollector().Collect()
	logger.Info("host snapshot",
		zap.String("hostname", snapshot.Hostname),
		zap.String("platform", snapshot.Platform),
		zap.Uint64("uptime", snapshot.Uptime),
		zap.Int("cpus", snapshot.CPUCount),
	)

	registry := task.NewRegistry(cfg.Tasks.Retention)
	dispatcher := actions.NewDispatcher(cfg, logger)
	srv := server.New(registry, dispatcher, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Server.Address())
	}()

	select {
	case err := <-errCh:
		logger.Fatal("server stopped", zap.Error(err))
	case sig := <-quit:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		if err := srv.Shutdown(); err != nil {
			logger.Warn("shutdown failed", zap.Error(err))
		}
		logger.Info("agent stopped gracefully")
	}
}
