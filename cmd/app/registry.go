package main

import (
	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/networks"
	"github.com/shuliakovsky/rpc-failover/pkg/registry"
)

func initRegistry(cfg config, logger *zap.Logger) *registry.Registry {
	cfgs, err := networks.LoadAll(cfg.NetworksDir, logger)
	if err != nil {
		logger.Fatal("networks_load_error", zap.Error(err))
	}
	if len(cfgs) == 0 {
		logger.Fatal("networks_empty", zap.String("dir", cfg.NetworksDir))
	}
	reg := registry.New(logger)
	reg.InitFromConfigs(cfgs)
	for _, name := range reg.Networks() {
		c, _ := reg.Config(name)
		logger.Info("network_registered",
			zap.String("network", name),
			zap.String("route", c.Route),
			zap.String("protocol", c.Protocol),
			zap.Int("nodes", len(reg.Nodes(name))),
		)
	}
	return reg
}
