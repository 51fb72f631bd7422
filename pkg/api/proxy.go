package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/registry"
	"github.com/shuliakovsky/rpc-failover/pkg/router"
)

var maxRequestBody int64 = 4 << 20

// hop-by-hop and transport headers that must not be forwarded either way
var skipHeaders = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Host":              true,
	"X-Admin-Key":       true,
	"Accept-Encoding":   true,
}

type Proxy struct {
	Reg    *registry.Registry
	Router *router.Router
	Logger *zap.Logger
}

func NewProxy(reg *registry.Registry, rt *router.Router, logger *zap.Logger) *Proxy {
	return &Proxy{Reg: reg, Router: rt, Logger: logger}
}

// Serve handles {route}[/*tail] by routing the call through the ranked pool.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request) {
	network, ok := p.Reg.ByRoute(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	cfg, _ := p.Reg.Config(network)
	tail := strings.TrimPrefix(r.URL.Path, strings.TrimRight(cfg.Route, "/"))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	_ = r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	start := LogRequest(p.Logger, "proxy", r.Method, r.URL.Path, body)

	req := router.Request{
		Method: r.Method,
		Path:   tail,
		Query:  r.URL.Query(),
		Header: forwardHeaders(r.Header),
	}
	if len(body) > 0 {
		req.Body = body
	}

	resp, err := p.Router.Do(r.Context(), network, req)
	if err != nil {
		p.writeError(w, network, err)
		return
	}

	writeUpstream(w, resp)
	LogResponse(p.Logger, "proxy", resp.Status, resp.Body, start)
}

func (p *Proxy) writeError(w http.ResponseWriter, network string, err error) {
	var re *router.Error
	if !errors.As(err, &re) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if re.Response != nil {
		// the node answered; pass its verdict through unchanged
		writeUpstream(w, re.Response)
		return
	}
	switch {
	case re.Kind == router.KindRequestCancelled:
		p.Logger.Info("proxy_request_cancelled", zap.String("network", network))
	case re.Kind == router.KindNoNodesAvailable:
		http.Error(w, "no available nodes", http.StatusServiceUnavailable)
	case re.Exhausted:
		http.Error(w, "all upstreams failed: "+string(re.Kind), http.StatusBadGateway)
	default:
		http.Error(w, re.Error(), http.StatusBadGateway)
	}
}

func writeUpstream(w http.ResponseWriter, resp *router.Response) {
	for k, vv := range resp.Header {
		if skipHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Rpc-Node", resp.Node.ID)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func forwardHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for k, vv := range in {
		if skipHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		out[k] = append([]string(nil), vv...)
	}
	return out
}
