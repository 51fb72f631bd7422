package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shuliakovsky/rpc-failover/pkg/registry"
)

// statusReply is the node status document served by status-protocol nodes.
type statusReply struct {
	Success       *bool  `json:"success"`
	Error         string `json:"error"`
	NodeTimestamp *int64 `json:"nodeTimestamp"`
	Network       *struct {
		Height *int64     `json:"height"`
		Epoch  *time.Time `json:"epoch"`
	} `json:"network"`
	Version *struct {
		Version string `json:"version"`
	} `json:"version"`
	WsClient *struct {
		Enabled bool `json:"enabled"`
		Port    int  `json:"port"`
	} `json:"wsClient"`
}

// === STATUS ===
func (p *HTTPProber) checkStatus(ctx context.Context, n registry.Node, o registry.Origin) (ProbeResult, error) {
	ex, err := p.do(ctx, n, http.MethodGet, o, p.StatusPath, nil)
	if err != nil {
		return ProbeResult{}, err
	}

	var out statusReply
	if err := json.Unmarshal(ex.body, &out); err != nil {
		return ProbeResult{}, probeErr(ProbeMalformed, n.ID, "decode status: %v", err)
	}
	if out.Success != nil && !*out.Success {
		return ProbeResult{}, probeErr(ProbeMalformed, n.ID, "status unsuccessful: %s", out.Error)
	}
	if out.Network == nil || out.Network.Height == nil {
		return ProbeResult{}, probeErr(ProbeMalformed, n.ID, "status without network height")
	}

	res := ProbeResult{
		Ping:       ex.ping,
		Height:     out.Network.Height,
		Dispatched: ex.dispatched,
		WsPort:     o.WsPort,
	}
	if out.WsClient != nil {
		if !out.WsClient.Enabled {
			return ProbeResult{}, probeErr(ProbeCapabilityMissing, n.ID, "websocket client disabled")
		}
		res.WSCapable = true
		if out.WsClient.Port > 0 {
			res.WsPort = out.WsClient.Port
		}
	}
	if out.Version != nil {
		res.Version = out.Version.Version
	}
	if out.NodeTimestamp != nil {
		// timestamps count seconds from the network epoch when one is published
		base := time.Unix(0, 0)
		if out.Network.Epoch != nil {
			base = *out.Network.Epoch
		}
		t := base.Add(time.Duration(*out.NodeTimestamp) * time.Second)
		res.NodeTime = &t
	}
	return res, nil
}
