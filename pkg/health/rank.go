package health

import (
	"sort"

	"github.com/shuliakovsky/rpc-failover/pkg/consensus"
	"github.com/shuliakovsky/rpc-failover/pkg/registry"
)

// Probed pairs a node with the result of its successful probe.
type Probed struct {
	Node   registry.Node
	Result ProbeResult
}

// Rank keeps the nodes whose height lies inside rng and orders them by
// ascending ping. Equal pings keep their input order. A nil range yields an
// empty pool.
func Rank(probed []Probed, rng *consensus.Range) []Probed {
	if rng == nil {
		return nil
	}
	out := make([]Probed, 0, len(probed))
	for _, p := range probed {
		if p.Result.Height == nil || !rng.Contains(*p.Result.Height) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Result.Ping < out[j].Result.Ping })
	return out
}

// Heights collects the reported heights for the consensus finder.
func Heights(probed []Probed) []int64 {
	out := make([]int64, 0, len(probed))
	for _, p := range probed {
		if p.Result.Height != nil {
			out = append(out, *p.Result.Height)
		}
	}
	return out
}
