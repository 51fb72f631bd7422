package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuliakovsky/rpc-failover/pkg/consensus"
	"github.com/shuliakovsky/rpc-failover/pkg/networks"
	"github.com/shuliakovsky/rpc-failover/pkg/registry"
)

func h(v int64) *int64 { return &v }

func testNode(t *testing.T, url string) registry.Node {
	t.Helper()
	n, err := registry.NewNode("test", networks.Node{ID: "n1", URL: url})
	require.NoError(t, err)
	return n
}

func testProber(t *testing.T, protocol, minVersion string) *HTTPProber {
	t.Helper()
	cfg := networks.NetworkConfig{Protocol: protocol, MinVersion: minVersion, ProbeTimeout: 2 * time.Second}
	cfg.ApplyDefaults()
	p, err := NewProber(cfg, nil, nil)
	require.NoError(t, err)
	return p
}

func jsonServer(t *testing.T, path, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if path != "" && r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const statusOK = `{"success":true,"nodeTimestamp":1000,"network":{"height":4242},` +
	`"version":{"version":"0.8.3"},"wsClient":{"enabled":true,"port":36668}}`

func TestCheckStatus_OK(t *testing.T) {
	srv := jsonServer(t, networks.DefaultStatusPath, statusOK)

	res, err := testProber(t, networks.ProtocolStatus, "").Probe(context.Background(), testNode(t, srv.URL))
	require.NoError(t, err)
	require.NotNil(t, res.Height)
	require.Equal(t, int64(4242), *res.Height)
	require.True(t, res.WSCapable)
	require.Equal(t, 36668, res.WsPort)
	require.Equal(t, "0.8.3", res.Version)
	require.NotNil(t, res.NodeTime)
	require.Equal(t, time.Unix(1000, 0).Unix(), res.NodeTime.Unix())
	require.GreaterOrEqual(t, res.Ping, time.Duration(0))
}

func TestCheckStatus_Failures(t *testing.T) {
	cases := []struct {
		name string
		body string
		kind ProbeErrorKind
	}{
		{"ws disabled", `{"network":{"height":1},"wsClient":{"enabled":false}}`, ProbeCapabilityMissing},
		{"no height", `{"success":true,"network":{}}`, ProbeMalformed},
		{"unsuccessful", `{"success":false,"error":"syncing"}`, ProbeMalformed},
		{"garbage", `<html>`, ProbeMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := jsonServer(t, "", tc.body)
			_, err := testProber(t, networks.ProtocolStatus, "").Probe(context.Background(), testNode(t, srv.URL))
			require.Error(t, err)
			require.Equal(t, tc.kind, KindOf(err))
		})
	}
}

func TestProbe_BadStatusIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testProber(t, networks.ProtocolStatus, "").Probe(context.Background(), testNode(t, srv.URL))
	require.Equal(t, ProbeTransport, KindOf(err))
}

func TestProbe_TimeoutIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(statusOK))
	}))
	defer srv.Close()

	p := testProber(t, networks.ProtocolStatus, "")
	p.Timeout = 20 * time.Millisecond
	_, err := p.Probe(context.Background(), testNode(t, srv.URL))
	require.Equal(t, ProbeTransport, KindOf(err))
}

func TestProbe_MinVersion(t *testing.T) {
	srv := jsonServer(t, "", statusOK)

	_, err := testProber(t, networks.ProtocolStatus, "0.9.0").Probe(context.Background(), testNode(t, srv.URL))
	require.Equal(t, ProbeCapabilityMissing, KindOf(err))

	_, err = testProber(t, networks.ProtocolStatus, "0.8.0").Probe(context.Background(), testNode(t, srv.URL))
	require.NoError(t, err)
}

func TestNewProber_InvalidMinVersion(t *testing.T) {
	_, err := NewProber(networks.NetworkConfig{Protocol: networks.ProtocolStatus, MinVersion: "not-a-version"}, nil, nil)
	require.Error(t, err)
}

func TestProbe_SwitchesToAltOrigin(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	alive := jsonServer(t, "", statusOK)

	n, err := registry.NewNode("test", networks.Node{ID: "n1", URL: deadURL, AltURL: alive.URL})
	require.NoError(t, err)

	res, err := testProber(t, networks.ProtocolStatus, "").Probe(context.Background(), n)
	require.NoError(t, err)
	require.True(t, res.PreferAlt)
}

func TestCheckEVM_OK(t *testing.T) {
	srv := jsonServer(t, "", `{"jsonrpc":"2.0","id":1,"result":"0x10"}`)

	res, err := testProber(t, networks.ProtocolEVM, "").Probe(context.Background(), testNode(t, srv.URL))
	require.NoError(t, err, "EVM node should be alive")
	require.Equal(t, int64(16), *res.Height)
	require.False(t, res.WSCapable)
}

func TestCheckEVM_RPCError(t *testing.T) {
	srv := jsonServer(t, "", `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"header not found"}}`)

	_, err := testProber(t, networks.ProtocolEVM, "").Probe(context.Background(), testNode(t, srv.URL))
	require.Equal(t, ProbeMalformed, KindOf(err))
}

func TestCheckSOL_OK(t *testing.T) {
	srv := jsonServer(t, "", `{"jsonrpc":"2.0","id":1,"result":250000000}`)

	res, err := testProber(t, networks.ProtocolSOL, "").Probe(context.Background(), testNode(t, srv.URL))
	require.NoError(t, err)
	require.Equal(t, int64(250000000), *res.Height)
}

func TestCheckEsplora_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/blocks/tip/height", r.URL.Path)
		_, _ = w.Write([]byte("123456\n"))
	}))
	defer srv.Close()

	res, err := testProber(t, networks.ProtocolEsplora, "").Probe(context.Background(), testNode(t, srv.URL))
	require.NoError(t, err, "esplora node should be alive")
	require.Equal(t, int64(123456), *res.Height)
}

func TestClockSkew(t *testing.T) {
	dispatched := time.Unix(1000, 0)
	nodeTime := time.Unix(1003, 0)
	res := ProbeResult{Dispatched: dispatched, Ping: 2 * time.Second, NodeTime: &nodeTime}
	skew, ok := res.ClockSkew()
	require.True(t, ok)
	require.Equal(t, 2*time.Second, skew)

	_, ok = ProbeResult{}.ClockSkew()
	require.False(t, ok)
}

func probed(id string, height int64, ping time.Duration) Probed {
	return Probed{Node: registry.Node{ID: id}, Result: ProbeResult{Height: h(height), Ping: ping}}
}

func TestRank_EqualPingsKeepInputOrder(t *testing.T) {
	in := []Probed{
		probed("a", 100, 30*time.Millisecond),
		probed("b", 100, 10*time.Millisecond),
		probed("c", 100, 10*time.Millisecond),
	}
	out := Rank(in, &consensus.Range{Lo: 98, Hi: 102, Count: 3})
	require.Len(t, out, 3)
	require.Equal(t, []string{"b", "c", "a"}, []string{out[0].Node.ID, out[1].Node.ID, out[2].Node.ID})
}

func TestRank_FiltersByRange(t *testing.T) {
	in := []Probed{
		probed("a", 10, 5*time.Millisecond),
		probed("b", 50, 1*time.Millisecond),
		{Node: registry.Node{ID: "c"}},
	}
	out := Rank(in, &consensus.Range{Lo: 8, Hi: 12, Count: 1})
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].Node.ID)

	require.Empty(t, Rank(in, nil))
}

type stubAnswer struct {
	height int64
	ping   time.Duration
	err    error
	delay  time.Duration
}

type stubProber map[string]stubAnswer

func (s stubProber) Probe(ctx context.Context, n registry.Node) (ProbeResult, error) {
	a := s[n.ID]
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return ProbeResult{}, &ProbeError{Kind: ProbeTransport, Node: n.ID, Err: ctx.Err()}
		}
	}
	if a.err != nil {
		return ProbeResult{}, a.err
	}
	return ProbeResult{Height: h(a.height), Ping: a.ping, Dispatched: time.Now()}, nil
}

func newStubChecker(t *testing.T, answers stubProber, ids ...string) *Checker {
	t.Helper()
	cfg := networks.NetworkConfig{Route: "/rpc/test", Protocol: networks.ProtocolStatus, Epsilon: h(2)}
	for _, id := range ids {
		cfg.Nodes = append(cfg.Nodes, networks.Node{ID: id, URL: "https://" + id + ".example.com"})
	}
	cfg.ApplyDefaults()
	reg := registry.New(nil)
	reg.AddNetwork("test", cfg)

	c := New(reg, nil, nil)
	c.NewProber = func(networks.NetworkConfig) (Prober, error) { return answers, nil }
	return c
}

func poolIDs(nodes []registry.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestRunHealthCheck_PublishesRankedPool(t *testing.T) {
	answers := stubProber{
		"a": {height: 10, ping: 30 * time.Millisecond},
		"b": {height: 11, ping: 10 * time.Millisecond},
		"c": {height: 12, ping: 20 * time.Millisecond},
		"d": {height: 50, ping: 1 * time.Millisecond},
		"e": {err: &ProbeError{Kind: ProbeTransport, Node: "e", Err: errors.New("refused")}},
	}
	c := newStubChecker(t, answers, "a", "b", "c", "d", "e")

	res, err := c.RunHealthCheck(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a"}, poolIDs(res.Ranked))
	require.Equal(t, consensus.Range{Lo: 10, Hi: 14, Count: 3}, *res.Range)
	require.Equal(t, 5, res.Probed)
	require.Equal(t, 1, res.Failed)
	require.NotNil(t, res.FirstOnline)

	require.Equal(t, []string{"b", "c", "a"}, poolIDs(c.Reg.Pool("test").Nodes))
	for _, n := range c.Reg.Nodes("test") {
		switch n.ID {
		case "e":
			assert.Equal(t, registry.StatusOffline, n.Status)
		default:
			assert.Equal(t, registry.StatusOnline, n.Status, n.ID)
		}
	}
}

func TestRunHealthCheck_Deterministic(t *testing.T) {
	answers := stubProber{
		"a": {height: 100, ping: 10 * time.Millisecond, delay: 15 * time.Millisecond},
		"b": {height: 100, ping: 10 * time.Millisecond},
		"c": {height: 101, ping: 5 * time.Millisecond, delay: 5 * time.Millisecond},
	}
	c := newStubChecker(t, answers, "a", "b", "c")

	first, err := c.RunHealthCheck(context.Background(), "test")
	require.NoError(t, err)
	second, err := c.RunHealthCheck(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b"}, poolIDs(first.Ranked))
	require.Equal(t, poolIDs(first.Ranked), poolIDs(second.Ranked))
}

func TestRunHealthCheck_NoSuccess(t *testing.T) {
	fail := stubAnswer{err: &ProbeError{Kind: ProbeTransport, Err: errors.New("timeout")}}
	c := newStubChecker(t, stubProber{"a": fail, "b": fail}, "a", "b")

	res, err := c.RunHealthCheck(context.Background(), "test")
	require.NoError(t, err)
	require.Nil(t, res.Range)
	require.Nil(t, res.FirstOnline)
	require.Empty(t, res.Ranked)
	require.Empty(t, c.Reg.Pool("test").Nodes)
}

func TestRunHealthCheck_FirstOnlineBeforeJoin(t *testing.T) {
	answers := stubProber{
		"slow": {height: 100, ping: time.Millisecond, delay: 300 * time.Millisecond},
		"fast": {height: 100, ping: 2 * time.Millisecond},
	}
	c := newStubChecker(t, answers, "slow", "fast")

	var calls atomic.Int32
	signalled := make(chan string, 1)
	c.OnFirstOnline = func(network string, n registry.Node) {
		calls.Add(1)
		signalled <- n.ID
	}

	done := make(chan CheckResult, 1)
	go func() {
		res, err := c.RunHealthCheck(context.Background(), "test")
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case id := <-signalled:
		require.Equal(t, "fast", id)
	case <-done:
		t.Fatal("cycle finished before the first-online signal")
	}
	res := <-done
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, []string{"slow", "fast"}, poolIDs(res.Ranked))
}

func TestRunHealthCheck_SkipsDisabledNodes(t *testing.T) {
	answers := stubProber{
		"a": {height: 100, ping: time.Millisecond},
		"b": {height: 100, ping: time.Millisecond},
	}
	c := newStubChecker(t, answers, "a", "b")
	require.NoError(t, c.Reg.SetEnabled("test", "a", false))

	res, err := c.RunHealthCheck(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, 1, res.Probed)
	require.Equal(t, []string{"b"}, poolIDs(res.Ranked))
}

func TestRunHealthCheck_UnknownNetwork(t *testing.T) {
	c := newStubChecker(t, stubProber{}, "a")
	_, err := c.RunHealthCheck(context.Background(), "nope")
	require.Error(t, err)
}

type countingProber struct {
	n   atomic.Int32
	err error
}

func (p *countingProber) Probe(context.Context, registry.Node) (ProbeResult, error) {
	p.n.Add(1)
	if p.err != nil {
		return ProbeResult{}, p.err
	}
	return ProbeResult{Height: h(1), Ping: time.Millisecond}, nil
}

func TestMonitor_Trigger(t *testing.T) {
	cfg := networks.NetworkConfig{Route: "/rpc/test", Protocol: networks.ProtocolEVM, ProbeInterval: time.Hour}
	cfg.Nodes = []networks.Node{{ID: "a", URL: "https://a.example.com"}}
	cfg.ApplyDefaults()
	reg := registry.New(nil)
	reg.AddNetwork("test", cfg)

	probe := &countingProber{}
	c := New(reg, nil, nil)
	c.NewProber = func(networks.NetworkConfig) (Prober, error) { return probe, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMonitor(c)
	m.Run(ctx)
	m.Run(ctx)

	m.Trigger("test")
	require.Eventually(t, func() bool { return len(reg.Pool("test").Nodes) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), probe.n.Load())

	m.Trigger("unknown")
}

func TestMonitor_RetriesEmptyPoolFaster(t *testing.T) {
	cfg := networks.NetworkConfig{Route: "/rpc/test", Protocol: networks.ProtocolEVM, ProbeInterval: time.Hour}
	cfg.Nodes = []networks.Node{{ID: "a", URL: "https://a.example.com"}}
	cfg.ApplyDefaults()
	reg := registry.New(nil)
	reg.AddNetwork("test", cfg)

	probe := &countingProber{err: &ProbeError{Kind: ProbeTransport, Node: "a", Err: errors.New("refused")}}
	c := New(reg, nil, nil)
	c.NewProber = func(networks.NetworkConfig) (Prober, error) { return probe, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMonitor(c)
	m.RetryInitial = 5 * time.Millisecond
	m.RetryMax = 20 * time.Millisecond
	m.Run(ctx)

	m.Trigger("test")
	require.Eventually(t, func() bool { return probe.n.Load() >= 4 }, 2*time.Second, 5*time.Millisecond,
		"an empty pool is re-probed well before the hourly interval")
	require.Empty(t, reg.Pool("test").Nodes)
}
