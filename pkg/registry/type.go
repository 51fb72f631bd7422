package registry

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/consensus"
	"github.com/shuliakovsky/rpc-failover/pkg/networks"
)

type ConnectionStatus string

const (
	StatusUnknown ConnectionStatus = "unknown"
	StatusOnline  ConnectionStatus = "online"
	StatusOffline ConnectionStatus = "offline"
)

// Origin is one way of reaching a node.
type Origin struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port,omitempty"`
	WsPort int    `json:"wsPort,omitempty"`
	Path   string `json:"path,omitempty"`
	Query  string `json:"-"`
}

// ParseOrigin builds an Origin from a configured URL.
func ParseOrigin(raw string, wsPort int) (Origin, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Origin{}, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Origin{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return Origin{}, fmt.Errorf("missing host in %q", raw)
	}
	o := Origin{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		WsPort: wsPort,
		Path:   strings.TrimRight(u.Path, "/"),
		Query:  u.RawQuery,
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Origin{}, fmt.Errorf("invalid port %q", p)
		}
		o.Port = port
	}
	return o, nil
}

func (o Origin) hostPort(port int) string {
	if port == 0 {
		return o.Host
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(port))
}

// Endpoint joins path and query onto the origin.
func (o Origin) Endpoint(path string, query url.Values) (*url.URL, error) {
	if o.Host == "" || (o.Scheme != "http" && o.Scheme != "https") {
		return nil, fmt.Errorf("malformed origin %q://%q", o.Scheme, o.Host)
	}
	u := &url.URL{Scheme: o.Scheme, Host: o.hostPort(o.Port), Path: o.Path}
	if path != "" {
		u.Path = o.Path + "/" + strings.TrimLeft(path, "/")
	}
	q := url.Values{}
	if o.Query != "" {
		parsed, err := url.ParseQuery(o.Query)
		if err != nil {
			return nil, err
		}
		q = parsed
	}
	for k, vv := range query {
		for _, v := range vv {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u, nil
}

// WsURL is empty when no websocket port is known.
func (o Origin) WsURL() string {
	if o.WsPort == 0 {
		return ""
	}
	scheme := "ws"
	if o.Scheme == "https" {
		scheme = "wss"
	}
	return scheme + "://" + o.hostPort(o.WsPort)
}

func (o Origin) String() string {
	return o.Scheme + "://" + o.hostPort(o.Port) + o.Path
}

// Node is a candidate endpoint and its last known health.
type Node struct {
	ID        string            `json:"id"`
	Network   string            `json:"network"`
	Main      Origin            `json:"main"`
	Alt       *Origin           `json:"alt,omitempty"`
	PreferAlt bool              `json:"preferAlt,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Tor       bool              `json:"tor,omitempty"`
	Enabled   bool              `json:"enabled"`

	Status    ConnectionStatus `json:"connectionStatus"`
	Height    *int64           `json:"height,omitempty"`
	Ping      *time.Duration   `json:"pingNs,omitempty"`
	WSCapable bool             `json:"wsCapable"`
	Version   string           `json:"version,omitempty"`
	CheckedAt time.Time        `json:"checkedAt,omitempty"`
}

// Origin returns the origin requests should go to.
func (n Node) Origin() Origin {
	if n.PreferAlt && n.Alt != nil {
		return *n.Alt
	}
	return n.Main
}

// Fallback returns the non-preferred origin, if any.
func (n Node) Fallback() (Origin, bool) {
	if n.Alt == nil {
		return Origin{}, false
	}
	if n.PreferAlt {
		return n.Main, true
	}
	return *n.Alt, true
}

func (n Node) PingMs() int64 {
	if n.Ping == nil {
		return 0
	}
	return n.Ping.Milliseconds()
}

func (n Node) clone() Node {
	c := n
	if n.Alt != nil {
		alt := *n.Alt
		c.Alt = &alt
	}
	if n.Height != nil {
		h := *n.Height
		c.Height = &h
	}
	if n.Ping != nil {
		p := *n.Ping
		c.Ping = &p
	}
	if n.Headers != nil {
		c.Headers = make(map[string]string, len(n.Headers))
		for k, v := range n.Headers {
			c.Headers[k] = v
		}
	}
	return c
}

// NewNode converts a configured node, failing when its endpoint cannot be built.
func NewNode(network string, cfg networks.Node) (Node, error) {
	main, err := ParseOrigin(cfg.URL, cfg.WsPort)
	if err != nil {
		return Node{}, fmt.Errorf("node %s: url: %w", cfg.ID, err)
	}
	n := Node{
		ID:      cfg.ID,
		Network: network,
		Main:    main,
		Headers: cfg.Headers,
		Tor:     cfg.Tor,
		Enabled: cfg.IsEnabled(),
		Status:  StatusUnknown,
	}
	if cfg.AltURL != "" {
		alt, err := ParseOrigin(cfg.AltURL, cfg.WsPort)
		if err != nil {
			return Node{}, fmt.Errorf("node %s: altUrl: %w", cfg.ID, err)
		}
		n.Alt = &alt
	}
	return n.clone(), nil
}

// Pool is an immutable, latency-ordered snapshot of routable nodes.
type Pool struct {
	Nodes     []Node           `json:"nodes"`
	Range     *consensus.Range `json:"range,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type NetworkState struct {
	Name   string
	Config networks.NetworkConfig

	nodes     []Node // guarded by Registry.mu
	clockSkew *time.Duration
	pool      atomic.Pointer[Pool]
}

type Registry struct {
	mu     sync.Mutex
	state  map[string]*NetworkState // key: network name (eth, adm)
	logger *zap.Logger

	subMu       sync.RWMutex
	subscribers []chan Event
}

type EventKind string

const (
	EventPoolReplaced EventKind = "pool_replaced"
	EventNodeStatus   EventKind = "node_status"
	EventNodeAdded    EventKind = "node_added"
	EventNodeEnabled  EventKind = "node_enabled"
)

// Event is delivered to subscribers whenever a ranked pool or a node's state changes.
type Event struct {
	Network  string           `json:"network"`
	Kind     EventKind        `json:"kind"`
	NodeID   string           `json:"nodeId,omitempty"`
	Status   ConnectionStatus `json:"status,omitempty"`
	PoolSize int              `json:"poolSize"`
	At       time.Time        `json:"at"`
}

// HealthUpdate is the outcome of one probe, applied by PublishCycle.
type HealthUpdate struct {
	ID        string
	Online    bool
	Height    *int64
	Ping      time.Duration
	WSCapable bool
	WsPort    int
	Version   string
	PreferAlt bool
	CheckedAt time.Time
}
