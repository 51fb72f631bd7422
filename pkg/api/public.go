package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shuliakovsky/rpc-failover/pkg/consensus"
	"github.com/shuliakovsky/rpc-failover/pkg/registry"
)

type Public struct {
	Reg *registry.Registry
}

func NewPublic(reg *registry.Registry) *Public { return &Public{Reg: reg} }

type nodeView struct {
	ID        string                    `json:"id"`
	URL       string                    `json:"url"`
	WsURL     string                    `json:"wsUrl,omitempty"`
	Status    registry.ConnectionStatus `json:"connectionStatus"`
	Enabled   bool                      `json:"enabled"`
	Height    *int64                    `json:"height,omitempty"`
	PingMs    int64                     `json:"pingMs"`
	WSCapable bool                      `json:"wsCapable"`
	Version   string                    `json:"version,omitempty"`
	CheckedAt *time.Time                `json:"checkedAt,omitempty"`
}

type networkView struct {
	Route       string           `json:"route"`
	Protocol    string           `json:"protocol"`
	Range       *consensus.Range `json:"range,omitempty"`
	ClockSkewMs *int64           `json:"clockSkewMs,omitempty"`
	Nodes       []nodeView       `json:"nodes"`
}

func viewNodes(nodes []registry.Node) []nodeView {
	out := make([]nodeView, 0, len(nodes))
	for _, n := range registry.SanitizeNodes(nodes) {
		v := nodeView{
			ID:        n.ID,
			URL:       n.Origin().String(),
			WsURL:     n.Origin().WsURL(),
			Status:    n.Status,
			Enabled:   n.Enabled,
			Height:    n.Height,
			PingMs:    n.PingMs(),
			WSCapable: n.WSCapable,
			Version:   n.Version,
		}
		if !n.CheckedAt.IsZero() {
			t := n.CheckedAt
			v.CheckedAt = &t
		}
		out = append(out, v)
	}
	return out
}

func (p *Public) network(name string, nodes []registry.Node) networkView {
	cfg, _ := p.Reg.Config(name)
	v := networkView{
		Route:    cfg.Route,
		Protocol: cfg.Protocol,
		Range:    p.Reg.Pool(name).Range,
		Nodes:    viewNodes(nodes),
	}
	if skew, ok := p.Reg.ClockSkew(name); ok {
		ms := skew.Milliseconds()
		v.ClockSkewMs = &ms
	}
	return v
}

// GET /active-nodes[?ws=true]
func (p *Public) ActiveNodes(w http.ResponseWriter, r *http.Request) {
	requireWS := r.URL.Query().Get("ws") == "true"
	resp := map[string]networkView{}
	for _, name := range p.Reg.Networks() {
		resp[name] = p.network(name, p.Reg.RankedNodes(name, requireWS))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /nodes/{network}
func (p *Public) Nodes(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/nodes/"), "/")
	if _, ok := p.Reg.Config(name); !ok {
		http.Error(w, "unknown network", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p.network(name, p.Reg.Nodes(name)))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
