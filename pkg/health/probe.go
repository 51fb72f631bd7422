package health

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-version"
	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/networks"
	"github.com/shuliakovsky/rpc-failover/pkg/registry"
	"github.com/shuliakovsky/rpc-failover/pkg/secrets"
	"github.com/shuliakovsky/rpc-failover/pkg/transport"
)

const maxProbeBody = 1 << 20

type ProbeErrorKind string

const (
	ProbeTransport         ProbeErrorKind = "transport_error"
	ProbeMalformed         ProbeErrorKind = "malformed_response"
	ProbeCapabilityMissing ProbeErrorKind = "capability_missing"
)

type ProbeError struct {
	Kind ProbeErrorKind
	Node string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %s: %v", e.Node, e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

func probeErr(kind ProbeErrorKind, node string, format string, args ...any) *ProbeError {
	return &ProbeError{Kind: kind, Node: node, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the probe error kind of err, or "" when err is not a probe error.
func KindOf(err error) ProbeErrorKind {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// ProbeResult is what one status probe learned about a node.
type ProbeResult struct {
	Ping       time.Duration
	Height     *int64
	WSCapable  bool
	WsPort     int
	Version    string
	NodeTime   *time.Time
	Dispatched time.Time
	PreferAlt  bool
}

// ClockSkew estimates how far the node clock is ahead of ours.
func (r ProbeResult) ClockSkew() (time.Duration, bool) {
	if r.NodeTime == nil {
		return 0, false
	}
	local := r.Dispatched.Add(r.Ping / 2)
	return r.NodeTime.Sub(local), true
}

type Prober interface {
	Probe(ctx context.Context, n registry.Node) (ProbeResult, error)
}

type HTTPProber struct {
	Protocol   string
	StatusPath string
	Timeout    time.Duration
	MinVersion *version.Version
	Clients    *transport.Clients
	Logger     *zap.Logger
}

func NewProber(cfg networks.NetworkConfig, clients *transport.Clients, logger *zap.Logger) (*HTTPProber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clients == nil {
		clients = transport.New("")
	}
	p := &HTTPProber{
		Protocol:   cfg.Protocol,
		StatusPath: cfg.StatusPath,
		Timeout:    cfg.ProbeTimeout,
		Clients:    clients,
		Logger:     logger,
	}
	if cfg.MinVersion != "" {
		v, err := version.NewVersion(cfg.MinVersion)
		if err != nil {
			return nil, fmt.Errorf("minVersion: %w", err)
		}
		p.MinVersion = v
	}
	return p, nil
}

// Probe checks the preferred origin and, when it cannot be reached, the
// alternate one. Each origin gets its own timeout.
func (p *HTTPProber) Probe(ctx context.Context, n registry.Node) (ProbeResult, error) {
	res, err := p.probeOrigin(ctx, n, n.Origin())
	res.PreferAlt = n.PreferAlt
	if KindOf(err) == ProbeTransport && ctx.Err() == nil {
		if fb, ok := n.Fallback(); ok {
			fbRes, fbErr := p.probeOrigin(ctx, n, fb)
			if fbErr == nil {
				p.Logger.Info("health_origin_switched",
					zap.String("node", n.ID),
					zap.String("origin", secrets.RedactURL(fb.String())),
				)
				fbRes.PreferAlt = !n.PreferAlt
				res, err = fbRes, nil
			}
		}
	}
	if err != nil {
		return ProbeResult{}, err
	}
	if err := p.checkVersion(n, res); err != nil {
		return ProbeResult{}, err
	}
	return res, nil
}

func (p *HTTPProber) probeOrigin(ctx context.Context, n registry.Node, o registry.Origin) (ProbeResult, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	switch p.Protocol {
	case networks.ProtocolStatus:
		return p.checkStatus(ctx, n, o)
	case networks.ProtocolEVM:
		return p.checkEVM(ctx, n, o)
	case networks.ProtocolSOL:
		return p.checkSOL(ctx, n, o)
	case networks.ProtocolEsplora:
		return p.checkEsplora(ctx, n, o)
	default:
		return ProbeResult{}, probeErr(ProbeMalformed, n.ID, "unsupported protocol %q", p.Protocol)
	}
}

func (p *HTTPProber) checkVersion(n registry.Node, res ProbeResult) error {
	if p.MinVersion == nil {
		return nil
	}
	if res.Version == "" {
		return probeErr(ProbeCapabilityMissing, n.ID, "version not reported, %s required", p.MinVersion)
	}
	v, err := version.NewVersion(res.Version)
	if err != nil {
		return probeErr(ProbeMalformed, n.ID, "version %q: %v", res.Version, err)
	}
	if v.LessThan(p.MinVersion) {
		return probeErr(ProbeCapabilityMissing, n.ID, "version %s is below %s", v, p.MinVersion)
	}
	return nil
}

type exchange struct {
	body       []byte
	ping       time.Duration
	dispatched time.Time
}

// do performs one probe request. Transport problems and non-2xx answers both
// mean the node cannot serve this cycle.
func (p *HTTPProber) do(ctx context.Context, n registry.Node, method string, o registry.Origin, path string, payload []byte) (exchange, error) {
	u, err := o.Endpoint(path, nil)
	if err != nil {
		return exchange{}, probeErr(ProbeMalformed, n.ID, "endpoint: %v", err)
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return exchange{}, probeErr(ProbeMalformed, n.ID, "request: %v", err)
	}
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}
	if payload != nil {
		req.Header.Set("content-type", "application/json")
	}

	cl, err := p.Clients.For(n.Tor)
	if err != nil {
		return exchange{}, &ProbeError{Kind: ProbeTransport, Node: n.ID, Err: err}
	}

	dispatched := time.Now()
	resp, err := cl.Do(req)
	if err != nil {
		p.Logger.Warn("health_request_error",
			zap.String("node", n.ID),
			zap.String("url", secrets.RedactURL(u.String())),
			zap.Any("headers", secrets.RedactHeaders(n.Headers)),
			zap.Error(err),
		)
		return exchange{}, &ProbeError{Kind: ProbeTransport, Node: n.ID, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	ping := time.Since(dispatched)
	if err != nil {
		return exchange{}, &ProbeError{Kind: ProbeTransport, Node: n.ID, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.Logger.Warn("health_bad_status",
			zap.String("node", n.ID),
			zap.String("url", secrets.RedactURL(u.String())),
			zap.Int("status", resp.StatusCode),
		)
		return exchange{}, probeErr(ProbeTransport, n.ID, "status %d", resp.StatusCode)
	}
	return exchange{body: b, ping: ping, dispatched: dispatched}, nil
}
