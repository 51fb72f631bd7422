package main

import (
	"net/http"
	"strings"

	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/api"
	"github.com/shuliakovsky/rpc-failover/pkg/docs"
	"github.com/shuliakovsky/rpc-failover/pkg/health"
	"github.com/shuliakovsky/rpc-failover/pkg/metrics"
	"github.com/shuliakovsky/rpc-failover/pkg/registry"
	"github.com/shuliakovsky/rpc-failover/pkg/router"
)

func registerRoutes(
	reg *registry.Registry,
	checker *health.Checker,
	rt *router.Router,
	cfg config,
	logger *zap.Logger,
) {
	public := api.NewPublic(reg)
	proxy := api.NewProxy(reg, rt, logger)
	adminAPI := api.NewAdmin(reg, checker, cfg.AdminKey, logger)
	wsAPI := api.NewWS(reg, logger)

	http.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	// Swagger
	http.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/swagger.json"),
		httpSwagger.InstanceName("swagger"),
	))
	http.HandleFunc("/swagger/swagger.json", docs.JSONHandler)

	// Public routes
	http.HandleFunc("/active-nodes", public.ActiveNodes)
	http.HandleFunc("/nodes/", public.Nodes)

	// Admin routes
	http.HandleFunc("/admin/", adminAPI.Serve)

	// Change notifications
	http.HandleFunc("/ws/events", wsAPI.ServeEvents)

	// Failover proxy routes from registry
	for _, name := range reg.Networks() {
		c, _ := reg.Config(name)
		route := strings.TrimRight(c.Route, "/")
		logger.Info("route_registered", zap.String("network", name), zap.String("route", route))
		http.HandleFunc(route, proxy.Serve)
		http.HandleFunc(route+"/", proxy.Serve)
	}

	// Metrics
	metrics.Init()
	http.Handle("/metrics", metrics.Handler())
}
