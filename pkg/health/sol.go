package health

import (
	"context"
	"encoding/json"

	"github.com/shuliakovsky/rpc-failover/pkg/registry"
)

// === SOL ===
func (p *HTTPProber) checkSOL(ctx context.Context, n registry.Node, o registry.Origin) (ProbeResult, error) {
	raw, ex, err := p.callRPC(ctx, n, o, solGetSlot)
	if err != nil {
		return ProbeResult{}, err
	}
	var slot uint64
	if err := json.Unmarshal(raw, &slot); err != nil {
		return ProbeResult{}, probeErr(ProbeMalformed, n.ID, "slot: %v", err)
	}
	h := int64(slot)
	return ProbeResult{
		Ping:       ex.ping,
		Height:     &h,
		Dispatched: ex.dispatched,
		WSCapable:  o.WsPort > 0,
		WsPort:     o.WsPort,
	}, nil
}
