package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shuliakovsky/rpc-failover/pkg/consensus"
	"github.com/shuliakovsky/rpc-failover/pkg/metrics"
	"github.com/shuliakovsky/rpc-failover/pkg/networks"
	"github.com/shuliakovsky/rpc-failover/pkg/registry"
	"github.com/shuliakovsky/rpc-failover/pkg/transport"
)

// Checker runs health-check cycles: it probes every enabled node of a network
// in parallel, waits for all of them, filters by height consensus, ranks by
// latency and publishes the pool to the registry.
type Checker struct {
	Reg     *registry.Registry
	Clients *transport.Clients
	Logger  *zap.Logger

	// NewProber builds the prober for a network; defaults to NewProber.
	NewProber func(cfg networks.NetworkConfig) (Prober, error)

	// OnFirstOnline is called as soon as the first probe of a cycle succeeds,
	// before the cycle completes. The node is not guaranteed to be ranked.
	OnFirstOnline func(network string, n registry.Node)
}

// CheckResult summarises one cycle.
type CheckResult struct {
	FirstOnline *registry.Node
	Ranked      []registry.Node
	Range       *consensus.Range
	Probed      int
	Failed      int
}

func New(reg *registry.Registry, clients *transport.Clients, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Checker{Reg: reg, Clients: clients, Logger: logger}
	c.NewProber = func(cfg networks.NetworkConfig) (Prober, error) {
		return NewProber(cfg, c.Clients, c.Logger)
	}
	return c
}

type outcome struct {
	node registry.Node
	res  ProbeResult
	err  error
}

// RunHealthCheck performs one cycle for network.
func (c *Checker) RunHealthCheck(ctx context.Context, network string) (CheckResult, error) {
	cfg, ok := c.Reg.Config(network)
	if !ok {
		return CheckResult{}, fmt.Errorf("unknown network %q", network)
	}
	prober, err := c.NewProber(cfg)
	if err != nil {
		return CheckResult{}, fmt.Errorf("%s: %w", network, err)
	}

	nodes := c.Reg.EnabledNodes(network)
	outcomes := make([]outcome, len(nodes))

	var (
		firstOnce sync.Once
		first     *registry.Node
	)
	limit := cfg.MaxConcurrentProbes
	if limit <= 0 {
		limit = networks.DefaultMaxConcurrentProbes
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			started := time.Now()
			res, err := prober.Probe(gctx, n)
			metrics.ObserveProbe(network, string(KindOf(err)), time.Since(started))
			outcomes[i] = outcome{node: n, res: res, err: err}
			if err == nil {
				firstOnce.Do(func() {
					fn := n
					first = &fn
					if c.OnFirstOnline != nil {
						c.OnFirstOnline(network, fn)
					}
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	return c.publish(ctx, network, cfg, outcomes, first)
}

func (c *Checker) publish(ctx context.Context, network string, cfg networks.NetworkConfig, outcomes []outcome, first *registry.Node) (CheckResult, error) {
	now := time.Now()
	updates := make([]registry.HealthUpdate, 0, len(outcomes))
	probed := make([]Probed, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		if o.err != nil {
			failed++
			c.Logger.Debug("health_probe_failed",
				zap.String("network", network),
				zap.String("node", o.node.ID),
				zap.String("kind", string(KindOf(o.err))),
				zap.Error(o.err),
			)
			updates = append(updates, registry.HealthUpdate{ID: o.node.ID, Online: false, CheckedAt: now})
			continue
		}
		probed = append(probed, Probed{Node: o.node, Result: o.res})
		updates = append(updates, registry.HealthUpdate{
			ID:        o.node.ID,
			Online:    true,
			Height:    o.res.Height,
			Ping:      o.res.Ping,
			WSCapable: o.res.WSCapable,
			WsPort:    o.res.WsPort,
			Version:   o.res.Version,
			PreferAlt: o.res.PreferAlt,
			CheckedAt: now,
		})
	}

	var rng *consensus.Range
	if r, ok := consensus.FindRange(Heights(probed), cfg.Tolerance()); ok {
		rng = &r
	}
	ranked := Rank(probed, rng)

	ids := make([]string, len(ranked))
	var skew *time.Duration
	for i, p := range ranked {
		ids[i] = p.Node.ID
		if skew == nil {
			if s, ok := p.Result.ClockSkew(); ok {
				skew = &s
			}
		}
	}

	if ctx.Err() != nil {
		return CheckResult{}, ctx.Err()
	}
	pool, err := c.Reg.PublishCycle(network, updates, ids, rng, skew)
	if err != nil {
		return CheckResult{}, err
	}

	metrics.RecordCycle(network, len(outcomes), len(pool.Nodes), rng)
	fields := []zap.Field{
		zap.String("network", network),
		zap.Int("probed", len(outcomes)),
		zap.Int("failed", failed),
		zap.Int("ranked", len(pool.Nodes)),
	}
	if rng != nil {
		fields = append(fields, zap.Stringer("range", rng))
	}
	c.Logger.Info("health_update", fields...)

	return CheckResult{
		FirstOnline: first,
		Ranked:      pool.Nodes,
		Range:       rng,
		Probed:      len(outcomes),
		Failed:      failed,
	}, nil
}
