package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/registry"
)

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

var (
	evmBlockNumber = []byte(`{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber","params":[]}`)
	solGetSlot     = []byte(`{"jsonrpc":"2.0","id":1,"method":"getSlot","params":[{"commitment":"confirmed"}]}`)
)

func (p *HTTPProber) callRPC(ctx context.Context, n registry.Node, o registry.Origin, payload []byte) (json.RawMessage, exchange, error) {
	ex, err := p.do(ctx, n, http.MethodPost, o, "", payload)
	if err != nil {
		return nil, exchange{}, err
	}
	var out rpcReply
	if err := json.Unmarshal(ex.body, &out); err != nil {
		return nil, exchange{}, probeErr(ProbeMalformed, n.ID, "decode rpc reply: %v", err)
	}
	if len(out.Error) > 0 && string(out.Error) != "null" {
		p.Logger.Warn("health_rpc_error", zap.String("node", n.ID), zap.ByteString("error", out.Error))
		return nil, exchange{}, probeErr(ProbeMalformed, n.ID, "rpc error: %s", out.Error)
	}
	if len(out.Result) == 0 || string(out.Result) == "null" {
		return nil, exchange{}, probeErr(ProbeMalformed, n.ID, "empty rpc result")
	}
	return out.Result, ex, nil
}

// === EVM ===
func (p *HTTPProber) checkEVM(ctx context.Context, n registry.Node, o registry.Origin) (ProbeResult, error) {
	raw, ex, err := p.callRPC(ctx, n, o, evmBlockNumber)
	if err != nil {
		return ProbeResult{}, err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return ProbeResult{}, probeErr(ProbeMalformed, n.ID, "block number: %v", err)
	}
	num, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return ProbeResult{}, probeErr(ProbeMalformed, n.ID, "block number %q: %v", hex, err)
	}
	h := int64(num)
	return ProbeResult{
		Ping:       ex.ping,
		Height:     &h,
		Dispatched: ex.dispatched,
		WSCapable:  o.WsPort > 0,
		WsPort:     o.WsPort,
	}, nil
}
