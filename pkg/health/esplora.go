package health

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/shuliakovsky/rpc-failover/pkg/registry"
)

// === ESPLORA (blockstream-style REST: btc, ltc) ===
func (p *HTTPProber) checkEsplora(ctx context.Context, n registry.Node, o registry.Origin) (ProbeResult, error) {
	ex, err := p.do(ctx, n, http.MethodGet, o, "/blocks/tip/height", nil)
	if err != nil {
		return ProbeResult{}, err
	}
	h, err := strconv.ParseInt(strings.TrimSpace(string(ex.body)), 10, 64)
	if err != nil {
		return ProbeResult{}, probeErr(ProbeMalformed, n.ID, "tip height: %v", err)
	}
	return ProbeResult{
		Ping:       ex.ping,
		Height:     &h,
		Dispatched: ex.dispatched,
		WSCapable:  o.WsPort > 0,
		WsPort:     o.WsPort,
	}, nil
}
