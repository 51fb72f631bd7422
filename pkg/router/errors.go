package router

import (
	"context"
	"errors"
	"net"
	"strings"
)

type Kind string

const (
	KindTimeout          Kind = "timeout"
	KindConnectionFailed Kind = "connectionFailed"
	KindDNSFailure       Kind = "dnsFailure"
	KindRateLimited      Kind = "rateLimited"

	KindServerReported   Kind = "serverReportedError"
	KindAccountNotFound  Kind = "accountNotFound"
	KindRequestCancelled Kind = "requestCancelled"
	KindDecodeFailed     Kind = "decodeFailed"

	KindNoNodesAvailable Kind = "noNodesAvailable"

	KindEndpointBuildFailed Kind = "endpointBuildFailed"
)

type Class string

const (
	ClassTransport     Class = "transport"
	ClassApplication   Class = "application"
	ClassExhaustion    Class = "exhaustion"
	ClassConfiguration Class = "configuration"
)

// Class tells the router what to do with a failed attempt: transport errors
// move on to the next node, everything else ends the call.
func (k Kind) Class() Class {
	switch k {
	case KindTimeout, KindConnectionFailed, KindDNSFailure, KindRateLimited:
		return ClassTransport
	case KindNoNodesAvailable:
		return ClassExhaustion
	case KindEndpointBuildFailed:
		return ClassConfiguration
	default:
		return ClassApplication
	}
}

// Error is returned by every routed call.
type Error struct {
	Kind    Kind
	Node    string
	Message string
	Err     error

	// Exhausted is set when every candidate failed in transport; Kind then
	// carries the last transport error.
	Exhausted bool

	// Response holds the node's answer for application errors.
	Response *Response
}

var (
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrConnectionFailed    = &Error{Kind: KindConnectionFailed}
	ErrDNSFailure          = &Error{Kind: KindDNSFailure}
	ErrRateLimited         = &Error{Kind: KindRateLimited}
	ErrServerReported      = &Error{Kind: KindServerReported}
	ErrAccountNotFound     = &Error{Kind: KindAccountNotFound}
	ErrRequestCancelled    = &Error{Kind: KindRequestCancelled}
	ErrDecodeFailed        = &Error{Kind: KindDecodeFailed}
	ErrNoNodesAvailable    = &Error{Kind: KindNoNodesAvailable}
	ErrEndpointBuildFailed = &Error{Kind: KindEndpointBuildFailed}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("router: ")
	b.WriteString(string(e.Kind))
	if e.Exhausted && e.Kind != KindNoNodesAvailable {
		b.WriteString(" (no nodes left)")
	}
	if e.Node != "" {
		b.WriteString(" node=")
		b.WriteString(e.Node)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind, so errors.Is(err, ErrTimeout) works.
// An exhausted call also matches ErrNoNodesAvailable.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == KindNoNodesAvailable && e.Exhausted {
		return true
	}
	return t.Kind == e.Kind
}

func (e *Error) Class() Class { return e.Kind.Class() }

// KindOf returns the kind of a router error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// classifyTransport maps a failed exchange. parent is the caller's context:
// when it is done the call was cancelled, not failed by the node.
func classifyTransport(parent context.Context, node string, err error) *Error {
	if parent.Err() != nil {
		return &Error{Kind: KindRequestCancelled, Node: node, Err: parent.Err()}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Kind: KindDNSFailure, Node: node, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Node: node, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Node: node, Err: err}
	}
	return &Error{Kind: KindConnectionFailed, Node: node, Err: err}
}
