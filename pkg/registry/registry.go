package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/consensus"
	"github.com/shuliakovsky/rpc-failover/pkg/networks"
)

var emptyPool = &Pool{}

func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{state: map[string]*NetworkState{}, logger: logger}
}

// InitFromConfigs registers every network. Nodes whose endpoint cannot be
// built are logged and left out; they are never retried automatically.
func (r *Registry) InitFromConfigs(cfgs map[string]networks.NetworkConfig) {
	for name, c := range cfgs {
		r.AddNetwork(name, c)
	}
}

// AddNetwork registers or replaces a network and returns the number of usable nodes.
func (r *Registry) AddNetwork(name string, cfg networks.NetworkConfig) int {
	st := &NetworkState{Name: name, Config: cfg}
	for _, nc := range cfg.Nodes {
		n, err := NewNode(name, nc)
		if err != nil {
			r.logger.Error("registry_endpoint_build_failed",
				zap.String("network", name),
				zap.String("node", nc.ID),
				zap.Error(err),
			)
			continue
		}
		st.nodes = append(st.nodes, n)
	}
	st.pool.Store(emptyPool)

	r.mu.Lock()
	r.state[name] = st
	r.mu.Unlock()
	return len(st.nodes)
}

func (r *Registry) Networks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.state))
	for k := range r.state {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Config(network string) (networks.NetworkConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.state[network]; ok {
		return s.Config, true
	}
	return networks.NetworkConfig{}, false
}

// ByRoute resolves the network serving an HTTP route prefix.
func (r *Registry) ByRoute(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	best, bestLen := "", -1
	for name, s := range r.state {
		route := strings.TrimRight(s.Config.Route, "/")
		if route == "" {
			continue
		}
		if (path == route || strings.HasPrefix(path, route+"/")) && len(route) > bestLen {
			best, bestLen = name, len(route)
		}
	}
	return best, bestLen >= 0
}

// Nodes returns copies of every node of a network, enabled or not.
func (r *Registry) Nodes(network string) []Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state[network]
	if !ok {
		return nil
	}
	out := make([]Node, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.clone()
	}
	return out
}

// EnabledNodes returns the probe candidates of a network in configuration order.
func (r *Registry) EnabledNodes(network string) []Node {
	all := r.Nodes(network)
	out := all[:0]
	for _, n := range all {
		if n.Enabled {
			out = append(out, n)
		}
	}
	return out
}

// Pool is a lock-free snapshot of the current ranked pool.
func (r *Registry) Pool(network string) *Pool {
	r.mu.Lock()
	s, ok := r.state[network]
	r.mu.Unlock()
	if !ok {
		return emptyPool
	}
	return s.pool.Load()
}

// RankedNodes returns the routable nodes by ascending latency, optionally only
// those able to serve websocket subscriptions.
func (r *Registry) RankedNodes(network string, requireWebsocket bool) []Node {
	p := r.Pool(network)
	out := make([]Node, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		if requireWebsocket && !n.WSCapable {
			continue
		}
		out = append(out, n.clone())
	}
	return out
}

func (r *Registry) ClockSkew(network string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state[network]
	if !ok || s.clockSkew == nil {
		return 0, false
	}
	return *s.clockSkew, true
}

// PublishCycle applies the probe outcomes of one health-check cycle and
// replaces the ranked pool with rankedIDs in that order.
func (r *Registry) PublishCycle(network string, updates []HealthUpdate, rankedIDs []string, rng *consensus.Range, skew *time.Duration) (*Pool, error) {
	var events []Event
	now := time.Now()

	r.mu.Lock()
	s, ok := r.state[network]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("unknown network %q", network)
	}
	idx := s.index()
	for _, u := range updates {
		i, ok := idx[u.ID]
		if !ok {
			continue
		}
		n := &s.nodes[i]
		prev := n.Status
		if u.Online {
			n.Status = StatusOnline
			n.Height = u.Height
			ping := u.Ping
			n.Ping = &ping
			n.WSCapable = u.WSCapable
			n.Version = u.Version
			n.PreferAlt = u.PreferAlt && n.Alt != nil
			if u.WsPort > 0 {
				if n.PreferAlt {
					n.Alt.WsPort = u.WsPort
				} else {
					n.Main.WsPort = u.WsPort
				}
			}
		} else {
			n.Status = StatusOffline
		}
		n.CheckedAt = u.CheckedAt
		if prev != n.Status {
			events = append(events, Event{Network: network, Kind: EventNodeStatus, NodeID: n.ID, Status: n.Status, At: now})
		}
	}

	pool := &Pool{UpdatedAt: now}
	if rng != nil {
		cp := *rng
		pool.Range = &cp
	}
	for _, id := range rankedIDs {
		if i, ok := idx[id]; ok && s.nodes[i].Enabled {
			pool.Nodes = append(pool.Nodes, s.nodes[i].clone())
		}
	}
	if skew != nil {
		v := *skew
		s.clockSkew = &v
	}
	s.pool.Store(pool)
	r.mu.Unlock()

	events = append(events, Event{Network: network, Kind: EventPoolReplaced, PoolSize: len(pool.Nodes), At: now})
	r.emit(events)
	return pool, nil
}

// MarkOffline flips a node to offline and republishes the pool without it.
// It returns the size of the remaining pool.
func (r *Registry) MarkOffline(network, id string) int {
	var events []Event
	now := time.Now()

	r.mu.Lock()
	s, ok := r.state[network]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	if i, ok := s.index()[id]; ok && s.nodes[i].Status != StatusOffline {
		s.nodes[i].Status = StatusOffline
		events = append(events, Event{Network: network, Kind: EventNodeStatus, NodeID: id, Status: StatusOffline, At: now})
	}
	size, changed := s.removeFromPool(id)
	r.mu.Unlock()

	if changed {
		events = append(events, Event{Network: network, Kind: EventPoolReplaced, PoolSize: size, At: now})
	}
	r.emit(events)
	return size
}

// AddNode appends a node; it joins the pool after its first successful health check.
func (r *Registry) AddNode(network string, cfg networks.Node) (Node, error) {
	n, err := NewNode(network, networks.NormalizeNode(cfg))
	if err != nil {
		return Node{}, err
	}

	r.mu.Lock()
	s, ok := r.state[network]
	if !ok {
		r.mu.Unlock()
		return Node{}, fmt.Errorf("unknown network %q", network)
	}
	if _, dup := s.index()[n.ID]; dup {
		r.mu.Unlock()
		return Node{}, fmt.Errorf("node %q already exists in %s", n.ID, network)
	}
	s.nodes = append(s.nodes, n)
	r.mu.Unlock()

	r.emit([]Event{{Network: network, Kind: EventNodeAdded, NodeID: n.ID, Status: n.Status, At: time.Now()}})
	return n.clone(), nil
}

// SetEnabled toggles the operator switch. Disabled nodes leave the pool at once.
func (r *Registry) SetEnabled(network, id string, enabled bool) error {
	var events []Event
	now := time.Now()

	r.mu.Lock()
	s, ok := r.state[network]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown network %q", network)
	}
	i, ok := s.index()[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown node %q in %s", id, network)
	}
	if s.nodes[i].Enabled != enabled {
		s.nodes[i].Enabled = enabled
		events = append(events, Event{Network: network, Kind: EventNodeEnabled, NodeID: id, Status: s.nodes[i].Status, At: now})
	}
	if !enabled {
		if size, changed := s.removeFromPool(id); changed {
			events = append(events, Event{Network: network, Kind: EventPoolReplaced, PoolSize: size, At: now})
		}
	}
	r.mu.Unlock()

	r.emit(events)
	return nil
}

func (s *NetworkState) index() map[string]int {
	idx := make(map[string]int, len(s.nodes))
	for i, n := range s.nodes {
		idx[n.ID] = i
	}
	return idx
}

// removeFromPool must be called with Registry.mu held.
func (s *NetworkState) removeFromPool(id string) (int, bool) {
	cur := s.pool.Load()
	next := &Pool{Range: cur.Range, UpdatedAt: time.Now()}
	for _, n := range cur.Nodes {
		if n.ID != id {
			next.Nodes = append(next.Nodes, n)
		}
	}
	if len(next.Nodes) == len(cur.Nodes) {
		return len(cur.Nodes), false
	}
	s.pool.Store(next)
	return len(next.Nodes), true
}
