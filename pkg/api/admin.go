package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/health"
	"github.com/shuliakovsky/rpc-failover/pkg/networks"
	"github.com/shuliakovsky/rpc-failover/pkg/registry"
)

type Admin struct {
	Reg      *registry.Registry
	Checker  *health.Checker
	AdminKey string
	Logger   *zap.Logger
}

func NewAdmin(reg *registry.Registry, checker *health.Checker, key string, logger *zap.Logger) *Admin {
	return &Admin{Reg: reg, Checker: checker, AdminKey: key, Logger: logger}
}

func (a *Admin) auth(w http.ResponseWriter, r *http.Request) bool {
	got := r.Header.Get("x-admin-key")
	if a.AdminKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.AdminKey)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// Serve dispatches /admin/{network}/...
func (a *Admin) Serve(w http.ResponseWriter, r *http.Request) {
	if !a.auth(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/"), "/"), "/")
	if _, ok := a.Reg.Config(parts[0]); !ok {
		http.Error(w, "unknown network", http.StatusNotFound)
		return
	}
	switch {
	case len(parts) == 2 && parts[1] == "nodes":
		a.AddNode(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "check":
		a.Check(w, r, parts[0])
	case len(parts) == 4 && parts[1] == "nodes" && (parts[3] == "enable" || parts[3] == "disable"):
		a.SetEnabled(w, parts[0], parts[2], parts[3] == "enable")
	default:
		http.NotFound(w, r)
	}
}

// POST /admin/{network}/nodes
func (a *Admin) AddNode(w http.ResponseWriter, r *http.Request, network string) {
	var node networks.Node
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	added, err := a.Reg.AddNode(network, node)
	if err != nil {
		a.Logger.Warn("admin_add_node_rejected", zap.String("network", network), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.Logger.Info("admin_add_node", zap.String("network", network), zap.String("node", added.ID))

	// health-check right away so the node can join the pool
	res, err := a.Checker.RunHealthCheck(r.Context(), network)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ranked := false
	for _, n := range res.Ranked {
		if n.ID == added.ID {
			ranked = true
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "added",
		"node":     added.ID,
		"ranked":   ranked,
		"poolSize": len(res.Ranked),
	})
}

// POST /admin/{network}/nodes/{id}/enable|disable
func (a *Admin) SetEnabled(w http.ResponseWriter, network, id string, enabled bool) {
	if err := a.Reg.SetEnabled(network, id, enabled); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	a.Logger.Info("admin_set_enabled", zap.String("network", network), zap.String("node", id), zap.Bool("enabled", enabled))
	writeJSON(w, http.StatusOK, map[string]any{"node": id, "enabled": enabled, "poolSize": len(a.Reg.Pool(network).Nodes)})
}

// POST /admin/{network}/check
func (a *Admin) Check(w http.ResponseWriter, r *http.Request, network string) {
	res, err := a.Checker.RunHealthCheck(r.Context(), network)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := map[string]any{
		"probed": res.Probed,
		"failed": res.Failed,
		"ranked": viewNodes(res.Ranked),
	}
	if res.Range != nil {
		out["range"] = res.Range
	}
	writeJSON(w, http.StatusOK, out)
}
