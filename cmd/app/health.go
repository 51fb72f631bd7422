package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/health"
	"github.com/shuliakovsky/rpc-failover/pkg/registry"
	"github.com/shuliakovsky/rpc-failover/pkg/router"
	"github.com/shuliakovsky/rpc-failover/pkg/transport"
)

func initHealthChecker(reg *registry.Registry, clients *transport.Clients, logger *zap.Logger) *health.Checker {
	checker := health.New(reg, clients, logger)
	checker.OnFirstOnline = func(network string, n registry.Node) {
		logger.Debug("health_first_online", zap.String("network", network), zap.String("node", n.ID))
	}
	return checker
}

// startHealthLoop runs the first cycle for every network, then keeps each
// network on its own schedule. A router that empties a pool asks for an
// immediate re-check.
func startHealthLoop(ctx context.Context, checker *health.Checker, rt *router.Router) *health.Monitor {
	monitor := health.NewMonitor(checker)
	monitor.RunInitial(ctx)
	monitor.Run(ctx)
	rt.OnPoolEmpty = monitor.Trigger
	return monitor
}
