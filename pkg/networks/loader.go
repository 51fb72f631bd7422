package networks

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var envRe = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`) // Searching for environment variables to substitute.

// LoadAll reads every *.yaml file in dir; the file name without extension is the network name.
func LoadAll(dir string, logger *zap.Logger) (map[string]NetworkConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := map[string]NetworkConfig{}
	routes := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		nc, err := Parse(expandEnv(b, e.Name(), logger))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		route := strings.TrimRight(nc.Route, "/")
		if other, dup := routes[route]; dup {
			return nil, fmt.Errorf("%s: route %q already used by %s", e.Name(), nc.Route, other)
		}
		routes[route] = name
		out[name] = nc
	}
	return out, nil
}

func expandEnv(b []byte, file string, logger *zap.Logger) []byte {
	b = envRe.ReplaceAllFunc(b, func(m []byte) []byte {
		k := string(envRe.FindSubmatch(m)[1])
		val := os.Getenv(k)
		if val == "" {
			logger.Warn("env variable is empty during config expansion",
				zap.String("file", file),
				zap.String("var", k))
		}
		return []byte(val)
	})

	// If any ${VAR} remains -> misconfiguration
	if envRe.Match(b) {
		logger.Error("unresolved ${VAR} placeholders left after env expansion",
			zap.String("file", file))
	}
	return b
}

// Parse decodes and validates a single network document.
func Parse(b []byte) (NetworkConfig, error) {
	var nc NetworkConfig
	if err := yaml.Unmarshal(b, &nc); err != nil {
		return NetworkConfig{}, err
	}
	if err := nc.Validate(); err != nil {
		return NetworkConfig{}, err
	}
	nc.ApplyDefaults()
	for i := range nc.Nodes {
		normalizeNode(&nc.Nodes[i])
	}
	return nc, nil
}

func (c NetworkConfig) Validate() error {
	if c.Route == "" || c.Protocol == "" || len(c.Nodes) == 0 {
		return fmt.Errorf("invalid network config: route, protocol and nodes are required")
	}
	if !strings.HasPrefix(c.Route, "/") || strings.TrimRight(c.Route, "/") == "" {
		return fmt.Errorf("invalid network config: route %q must be a path below /", c.Route)
	}
	route := strings.TrimRight(c.Route, "/")
	for _, r := range ReservedRoutes {
		if route == r || strings.HasPrefix(route, r+"/") {
			return fmt.Errorf("invalid network config: route %q collides with built-in %s", c.Route, r)
		}
	}
	if c.Epsilon != nil && *c.Epsilon < 0 {
		return fmt.Errorf("invalid network config: epsilon must not be negative")
	}
	if !KnownProtocol(c.Protocol) {
		return fmt.Errorf("invalid network config: unknown protocol %q", c.Protocol)
	}
	seen := map[string]struct{}{}
	for _, n := range c.Nodes {
		if n.ID == "" {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("invalid network config: duplicate node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

func normalizeNode(n *Node) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Headers == nil {
		n.Headers = map[string]string{}
	}
}

// NormalizeNode prepares a node added at runtime the same way as configured ones.
func NormalizeNode(n Node) Node {
	normalizeNode(&n)
	return n
}
