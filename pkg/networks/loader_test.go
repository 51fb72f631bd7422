package networks

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAll_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	yml := `
route: /rpc/adm
protocol: status
epsilon: 10
probeInterval: 45s
nodes:
  - id: a1
    url: https://node1.example.com
    altUrl: http://10.0.0.1:36666
    wsPort: 36668
  - url: https://node2.example.com
    enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "adm.yaml"), []byte(yml), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("skip me"), 0644))

	cfgs, err := LoadAll(dir, nil)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)

	c := cfgs["adm"]
	require.Equal(t, ProtocolStatus, c.Protocol)
	require.Equal(t, "/rpc/adm", c.Route)
	require.Equal(t, int64(10), c.Tolerance())
	require.Equal(t, 45*time.Second, c.ProbeInterval)
	require.Equal(t, DefaultStatusPath, c.StatusPath)
	require.Equal(t, 3*time.Second, c.ProbeTimeout)

	require.Equal(t, "a1", c.Nodes[0].ID)
	require.Equal(t, 36668, c.Nodes[0].WsPort)
	require.True(t, c.Nodes[0].IsEnabled())
	require.NotEmpty(t, c.Nodes[1].ID, "missing ids are generated")
	require.False(t, c.Nodes[1].IsEnabled())
	require.NotNil(t, c.Nodes[1].Headers)
}

func TestLoadAll_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_NODE_KEY", "s3cret")
	dir := t.TempDir()
	yml := `
route: /rpc/eth
protocol: evm
nodes:
  - url: https://eth.example.com
    headers:
      x-api-key: ${TEST_NODE_KEY}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eth.yaml"), []byte(yml), 0644))

	cfgs, err := LoadAll(dir, nil)
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfgs["eth"].Nodes[0].Headers["x-api-key"])
	require.Equal(t, int64(5), cfgs["eth"].Tolerance())
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing nodes":    "route: /rpc/x\nprotocol: evm\n",
		"unknown protocol": "route: /rpc/x\nprotocol: ftp\nnodes:\n  - url: http://a\n",
		"duplicate ids":    "route: /rpc/x\nprotocol: evm\nnodes:\n  - id: a\n    url: http://a\n  - id: a\n    url: http://b\n",
		"bad yaml":         "route: [",
		"relative route":   "route: rpc/x\nprotocol: evm\nnodes:\n  - url: http://a\n",
		"root route":       "route: /\nprotocol: evm\nnodes:\n  - url: http://a\n",
		"admin route":      "route: /admin\nprotocol: evm\nnodes:\n  - url: http://a\n",
		"below nodes":      "route: /nodes/eth\nprotocol: evm\nnodes:\n  - url: http://a\n",
		"metrics route":    "route: /metrics/\nprotocol: evm\nnodes:\n  - url: http://a\n",
		"negative epsilon": "route: /rpc/x\nprotocol: evm\nepsilon: -1\nnodes:\n  - url: http://a\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestParse_Epsilon(t *testing.T) {
	c, err := Parse([]byte("route: /rpc/x\nprotocol: evm\nepsilon: 0\nnodes:\n  - url: http://a\n"))
	require.NoError(t, err)
	require.Equal(t, int64(0), c.Tolerance())

	c, err = Parse([]byte("route: /rpc/x\nprotocol: sol\nnodes:\n  - url: http://a\n"))
	require.NoError(t, err)
	require.Equal(t, int64(50), c.Tolerance())

	c, err = Parse([]byte("route: /rpc/nodes\nprotocol: evm\nnodes:\n  - url: http://a\n"))
	require.NoError(t, err, "reserved names only clash at the top level")
	require.Equal(t, "/rpc/nodes", c.Route)
}

func TestLoadAll_DuplicateRoute(t *testing.T) {
	dir := t.TempDir()
	doc := []byte("route: /rpc/x\nprotocol: evm\nnodes:\n  - url: http://a\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), doc, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), doc, 0644))

	_, err := LoadAll(dir, nil)
	require.ErrorContains(t, err, "already used")
}
