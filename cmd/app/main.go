package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/router"
	"github.com/shuliakovsky/rpc-failover/pkg/transport"
)

func main() {
	PrintVersion()

	cfg := loadConfig()
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	if cfg.AdminKey == "" {
		logger.Warn("admin_api_disabled", zap.String("reason", "ADMIN_API_KEY is empty"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients := transport.New(cfg.TorSocks)
	reg := initRegistry(cfg, logger)
	checker := initHealthChecker(reg, clients, logger)
	rt := router.New(reg, clients, logger)

	startHealthLoop(ctx, checker, rt)

	registerRoutes(reg, checker, rt, cfg, logger)

	startServer(ctx, cfg.Host, cfg.Port, logger)
}
