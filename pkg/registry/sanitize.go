package registry

import "github.com/shuliakovsky/rpc-failover/pkg/secrets"

// SanitizeNodes prepares nodes for external output: secret headers are masked
// and origin paths, which often embed API keys, are redacted.
func SanitizeNodes(nodes []Node) []Node {
	clean := make([]Node, len(nodes))
	for i, n := range nodes {
		n = n.clone()
		n.Headers = secrets.RedactHeaders(n.Headers)
		n.Main.Path = secrets.RedactString(n.Main.Path)
		if n.Alt != nil {
			n.Alt.Path = secrets.RedactString(n.Alt.Path)
		}
		clean[i] = n
	}
	return clean
}
