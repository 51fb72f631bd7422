package networks

import "time"

// Protocols understood by the health prober.
const (
	ProtocolStatus  = "status"
	ProtocolEVM     = "evm"
	ProtocolSOL     = "sol"
	ProtocolEsplora = "esplora"
)

type Node struct {
	ID      string            `yaml:"id" json:"id"`
	URL     string            `yaml:"url" json:"url"`
	AltURL  string            `yaml:"altUrl" json:"altUrl,omitempty"`
	WsPort  int               `yaml:"wsPort" json:"wsPort,omitempty"`
	Enabled *bool             `yaml:"enabled" json:"enabled,omitempty"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
	Tor     bool              `yaml:"tor" json:"tor,omitempty"`
}

// IsEnabled reports the operator switch; nodes are enabled unless stated otherwise.
func (n Node) IsEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}

type NetworkConfig struct {
	Route               string        `yaml:"route" json:"route"`
	Protocol            string        `yaml:"protocol" json:"protocol"` // status|evm|sol|esplora
	Epsilon             *int64        `yaml:"epsilon" json:"epsilon"` // nil takes the protocol default; 0 demands equal heights
	ProbeInterval       time.Duration `yaml:"probeInterval" json:"probeInterval"`
	ProbeTimeout        time.Duration `yaml:"probeTimeout" json:"probeTimeout"`
	CallTimeout         time.Duration `yaml:"callTimeout" json:"callTimeout"`
	MaxConcurrentProbes int           `yaml:"maxConcurrentProbes" json:"maxConcurrentProbes"`
	MinVersion          string        `yaml:"minVersion" json:"minVersion,omitempty"`
	StatusPath          string        `yaml:"statusPath" json:"statusPath,omitempty"`
	Nodes               []Node        `yaml:"nodes" json:"nodes"`
}

type defaults struct {
	epsilon      int64
	probeTimeout time.Duration
	callTimeout  time.Duration
}

var protocolDefaults = map[string]defaults{
	ProtocolStatus:  {epsilon: 10, probeTimeout: 3 * time.Second, callTimeout: 10 * time.Second},
	ProtocolEVM:     {epsilon: 5, probeTimeout: 1500 * time.Millisecond, callTimeout: 5 * time.Second},
	ProtocolSOL:     {epsilon: 50, probeTimeout: 800 * time.Millisecond, callTimeout: 3 * time.Second},
	ProtocolEsplora: {epsilon: 2, probeTimeout: 2 * time.Second, callTimeout: 8 * time.Second},
}

const (
	DefaultStatusPath          = "/api/node/status"
	DefaultProbeInterval       = 30 * time.Second
	DefaultMaxConcurrentProbes = 16
)

// ApplyDefaults fills unset tuning parameters with the protocol defaults.
func (c *NetworkConfig) ApplyDefaults() {
	d, ok := protocolDefaults[c.Protocol]
	if !ok {
		d = protocolDefaults[ProtocolStatus]
	}
	if c.Epsilon == nil {
		eps := d.epsilon
		c.Epsilon = &eps
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.probeTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.callTimeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.MaxConcurrentProbes <= 0 {
		c.MaxConcurrentProbes = DefaultMaxConcurrentProbes
	}
	if c.Protocol == ProtocolStatus && c.StatusPath == "" {
		c.StatusPath = DefaultStatusPath
	}
}

// Tolerance is the consensus epsilon after defaults.
func (c NetworkConfig) Tolerance() int64 {
	if c.Epsilon == nil {
		return 0
	}
	return *c.Epsilon
}

// ReservedRoutes are served by the service itself and cannot host a network.
var ReservedRoutes = []string{"/healthz", "/swagger", "/active-nodes", "/nodes", "/admin", "/ws", "/metrics"}

func KnownProtocol(p string) bool {
	_, ok := protocolDefaults[p]
	return ok
}
