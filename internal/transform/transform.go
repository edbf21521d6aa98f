// Package transform defines the pluggable bidirectional byte-transform
// capability consumed by the pipeline stage. Implementations typically
// encrypt outbound responses and decrypt inbound requests; they only ever
// see whole logical units, never fragments, so a block-cipher-style
// implementation needs no knowledge of chunk boundaries or connection
// lifecycle.
package transform

import (
	"net"

	"github.com/SJJC-Team/whooshing-vapor/internal/registry"
)

// Conn is the connection context handed to every capability method. It
// identifies the connection and carries the registry reference so that a
// transform can correlate traffic with in-flight requests.
type Conn struct {
	// ID is the opaque handle for this connection in the registry.
	ID registry.ConnID
	// RemoteAddr is the peer's network address.
	RemoteAddr net.Addr
	// Registry gives read access to connection state for correlation.
	Registry *registry.Registry
}

// CloseInfo describes why a connection is closing.
type CloseInfo struct {
	// Err is the error that terminated the connection, or nil for a normal
	// close.
	Err error
}

// WriteInfo carries response metadata alongside an outbound unit.
type WriteInfo struct {
	// RequestID is the identifier of the request this response answers, if
	// known.
	RequestID string
	// Upgraded reports whether the connection had switched protocols when
	// the unit was flushed.
	Upgraded bool
}

// Transformer is the four-method capability contract.
//
// TransformInbound receives raw bytes from the network together with a flag
// saying whether the buffer is a continuation fragment (partial=true) or a
// final, complete unit. For partial fragments the caller ignores the return
// value and forwards the original bytes unchanged; only complete units are
// eligible for transformation. A complete unit may be captured
// (captured=true): nothing is forwarded upward and no error is raised,
// which lets a transform consume control frames silently.
//
// TransformOutbound receives an aggregated logical unit of response bytes
// and returns the bytes to put on the wire.
//
// Any returned error is fatal to that connection only: the pipeline logs
// it, synthesizes an error response if the connection is still writable,
// and closes.
type Transformer interface {
	OnConnectionOpen(cc *Conn) error
	OnConnectionClose(cc *Conn, info CloseInfo) error
	TransformInbound(data []byte, cc *Conn, partial bool) (out []byte, captured bool, err error)
	TransformOutbound(data []byte, cc *Conn, info WriteInfo, partial bool) ([]byte, error)
}

// Passthrough is the identity Transformer: both directions pass bytes
// through untouched and the lifecycle hooks succeed immediately.
type Passthrough struct{}

var _ Transformer = Passthrough{}

func (Passthrough) OnConnectionOpen(*Conn) error { return nil }

func (Passthrough) OnConnectionClose(*Conn, CloseInfo) error { return nil }

func (Passthrough) TransformInbound(data []byte, _ *Conn, _ bool) ([]byte, bool, error) {
	return data, false, nil
}

func (Passthrough) TransformOutbound(data []byte, _ *Conn, _ WriteInfo, _ bool) ([]byte, error) {
	return data, nil
}

// Funcs adapts a partial implementation into a full Transformer: any nil
// field falls back to passthrough behavior. This is the decorator that
// makes real transforms and passthrough interchangeable at the call site; a
// transform that only cares about complete outbound units supplies one
// function and leaves the rest nil.
type Funcs struct {
	OpenFunc     func(cc *Conn) error
	CloseFunc    func(cc *Conn, info CloseInfo) error
	InboundFunc  func(data []byte, cc *Conn, partial bool) ([]byte, bool, error)
	OutboundFunc func(data []byte, cc *Conn, info WriteInfo, partial bool) ([]byte, error)
}

var _ Transformer = Funcs{}

func (f Funcs) OnConnectionOpen(cc *Conn) error {
	if f.OpenFunc == nil {
		return nil
	}
	return f.OpenFunc(cc)
}

func (f Funcs) OnConnectionClose(cc *Conn, info CloseInfo) error {
	if f.CloseFunc == nil {
		return nil
	}
	return f.CloseFunc(cc, info)
}

func (f Funcs) TransformInbound(data []byte, cc *Conn, partial bool) ([]byte, bool, error) {
	if f.InboundFunc == nil {
		return data, false, nil
	}
	return f.InboundFunc(data, cc, partial)
}

func (f Funcs) TransformOutbound(data []byte, cc *Conn, info WriteInfo, partial bool) ([]byte, error) {
	if f.OutboundFunc == nil {
		return data, nil
	}
	return f.OutboundFunc(data, cc, info, partial)
}
