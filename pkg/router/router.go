package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/metrics"
	"github.com/shuliakovsky/rpc-failover/pkg/registry"
	"github.com/shuliakovsky/rpc-failover/pkg/secrets"
	"github.com/shuliakovsky/rpc-failover/pkg/transport"
)

// maxResponseBody caps a node answer; larger answers are refused, never cut.
var maxResponseBody int64 = 16 << 20

// Request is one logical call, sent to the best node that can answer it.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
	Header http.Header
}

// Response is the answer of the node that served the call.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Node   registry.Node
}

type Router struct {
	Reg     *registry.Registry
	Clients *transport.Clients
	Logger  *zap.Logger

	// OnPoolEmpty runs when a failover leaves a network without routable nodes.
	OnPoolEmpty func(network string)
}

func New(reg *registry.Registry, clients *transport.Clients, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clients == nil {
		clients = transport.New("")
	}
	return &Router{Reg: reg, Clients: clients, Logger: logger}
}

// Do sends req to the ranked nodes of network in order. A transport failure
// marks the node offline and moves on; any other failure, or a success, ends
// the call. Each node is tried at most once.
func (r *Router) Do(ctx context.Context, network string, req Request) (*Response, error) {
	cfg, ok := r.Reg.Config(network)
	if !ok {
		return nil, &Error{Kind: KindNoNodesAvailable, Message: fmt.Sprintf("unknown network %q", network)}
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	reqID := uuid.NewString()
	candidates := r.Reg.Pool(network).Nodes
	if len(candidates) == 0 {
		r.Logger.Error("router_no_available_nodes", zap.String("network", network), zap.String("request_id", reqID))
		metrics.ProxyFail.WithLabelValues(network, string(KindNoNodesAvailable)).Inc()
		return nil, &Error{Kind: KindNoNodesAvailable, Exhausted: true}
	}

	var (
		attemptErrs error
		last        *Error
	)
	for attempt := 1; len(candidates) > 0; attempt++ {
		node := candidates[0]
		candidates = candidates[1:]

		if err := ctx.Err(); err != nil {
			return nil, r.fail(network, &Error{Kind: KindRequestCancelled, Err: err})
		}

		started := time.Now()
		resp, err := r.attempt(ctx, node, cfg.CallTimeout, req)
		if err == nil {
			r.Logger.Info("router_success",
				zap.String("network", network),
				zap.String("request_id", reqID),
				zap.String("node", node.ID),
				zap.Int("status", resp.Status),
				zap.Int("attempt", attempt),
				zap.Int64("latency_ms", time.Since(started).Milliseconds()),
			)
			metrics.ProxySuccess.WithLabelValues(network).Inc()
			return resp, nil
		}

		switch err.Class() {
		case ClassTransport:
			attemptErrs = multierr.Append(attemptErrs, err)
			last = err
			r.Logger.Warn("router_upstream_error",
				zap.String("network", network),
				zap.String("request_id", reqID),
				zap.String("node", node.ID),
				zap.String("kind", string(err.Kind)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			remaining := r.Reg.MarkOffline(network, node.ID)
			metrics.Failovers.WithLabelValues(network).Inc()
			if remaining == 0 && r.OnPoolEmpty != nil {
				r.OnPoolEmpty(network)
			}
		case ClassConfiguration:
			attemptErrs = multierr.Append(attemptErrs, err)
			r.Logger.Error("router_endpoint_build_failed",
				zap.String("network", network),
				zap.String("node", node.ID),
				zap.Error(err),
			)
		default:
			r.Logger.Info("router_application_error",
				zap.String("network", network),
				zap.String("request_id", reqID),
				zap.String("node", node.ID),
				zap.String("kind", string(err.Kind)),
				zap.String("message", err.Message),
			)
			return nil, r.fail(network, err)
		}
	}

	exhausted := &Error{Kind: KindNoNodesAvailable, Err: attemptErrs, Exhausted: true}
	if last != nil {
		exhausted.Kind = last.Kind
		exhausted.Node = last.Node
	}
	r.Logger.Error("router_all_nodes_failed",
		zap.String("network", network),
		zap.String("request_id", reqID),
		zap.Error(attemptErrs),
	)
	return nil, r.fail(network, exhausted)
}

func (r *Router) fail(network string, err *Error) *Error {
	metrics.ProxyFail.WithLabelValues(network, string(err.Kind)).Inc()
	return err
}

func (r *Router) attempt(ctx context.Context, node registry.Node, timeout time.Duration, req Request) (*Response, *Error) {
	u, err := node.Origin().Endpoint(req.Path, req.Query)
	if err != nil {
		return nil, &Error{Kind: KindEndpointBuildFailed, Node: node.ID, Err: err}
	}

	actx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(actx, req.Method, u.String(), body)
	if err != nil {
		return nil, &Error{Kind: KindEndpointBuildFailed, Node: node.ID, Err: err}
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}
	for k, v := range node.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("content-type") == "" {
		httpReq.Header.Set("content-type", "application/json")
	}

	client, err := r.Clients.For(node.Tor)
	if err != nil {
		return nil, &Error{Kind: KindConnectionFailed, Node: node.ID, Err: err}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		r.Logger.Debug("router_request_error",
			zap.String("node", node.ID),
			zap.String("url", secrets.RedactURL(u.String())),
			zap.Error(err),
		)
		return nil, classifyTransport(ctx, node.ID, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, classifyTransport(ctx, node.ID, err)
	}
	if int64(len(b)) > maxResponseBody {
		return nil, &Error{Kind: KindServerReported, Node: node.ID, Message: "response too large"}
	}
	out := &Response{Status: resp.StatusCode, Header: resp.Header, Body: b, Node: node}
	if e := classifyAnswer(out); e != nil {
		return nil, e
	}
	return out, nil
}

// answerEnvelope covers the error shapes nodes use: {"success":false,"error":"..."}
// and JSON-RPC {"error":{"message":"..."}}.
type answerEnvelope struct {
	Success *bool           `json:"success"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

func (a answerEnvelope) errorMessage() string {
	raw := bytes.TrimSpace(a.Error)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func isAccountNotFound(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "account") && strings.Contains(m, "not found")
}

// classifyAnswer turns a node answer into an error when it is not a success.
func classifyAnswer(resp *Response) *Error {
	node := resp.Node.ID
	if isRateLimited(resp.Status, resp.Header, resp.Body) {
		return &Error{Kind: KindRateLimited, Node: node, Message: fmt.Sprintf("status %d", resp.Status)}
	}

	var env answerEnvelope
	isJSON := json.Unmarshal(resp.Body, &env) == nil

	msg := ""
	if isJSON {
		msg = env.errorMessage()
		if msg == "" && env.Success != nil && !*env.Success {
			msg = env.Message
			if msg == "" {
				msg = "request unsuccessful"
			}
		}
	}

	switch {
	case resp.Status >= 200 && resp.Status < 300:
		if msg == "" {
			return nil
		}
	case resp.Status == http.StatusBadGateway, resp.Status == http.StatusServiceUnavailable, resp.Status == http.StatusGatewayTimeout:
		return &Error{Kind: KindConnectionFailed, Node: node, Message: fmt.Sprintf("status %d", resp.Status)}
	default:
		if msg == "" {
			msg = strings.TrimSpace(string(resp.Body))
			if msg == "" || !isJSON && len(msg) > 256 {
				msg = http.StatusText(resp.Status)
			}
		}
	}

	kind := KindServerReported
	if isAccountNotFound(msg) {
		kind = KindAccountNotFound
	}
	return &Error{Kind: kind, Node: node, Message: msg, Response: resp}
}

// Send routes req and decodes the node's JSON answer into T.
func Send[T any](ctx context.Context, r *Router, network string, req Request) (T, error) {
	var out T
	resp, err := r.Do(ctx, network, req)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, &Error{Kind: KindDecodeFailed, Node: resp.Node.ID, Err: err, Response: resp}
	}
	return out, nil
}
