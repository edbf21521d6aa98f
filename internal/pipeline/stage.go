// Package pipeline implements the per-connection duplex transform stage. A
// Stage wraps the raw network connection and presents net.Conn to the HTTP
// codec above it: inbound buffers are classified against the continuation
// sentinel and run through the installed transform before being forwarded
// upward; outbound codec writes are aggregated into logical units,
// transformed, and re-split into bounded-size network chunks with the final
// chunk of each unit marked by the sentinel.
//
// With no transform installed the stage is transparent apart from the chunk
// size ceiling on writes: no aggregation, no sentinel, no reframing.
package pipeline

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SJJC-Team/whooshing-vapor/internal/framing"
	"github.com/SJJC-Team/whooshing-vapor/internal/logger"
	"github.com/SJJC-Team/whooshing-vapor/internal/registry"
	"github.com/SJJC-Team/whooshing-vapor/internal/transform"
)

// State is the lifecycle state of a Stage.
type State uint32

const (
	StateOpening State = iota
	StateActive
	StateClosing
	StateClosed
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN_STATE(%d)", uint32(s))
	}
}

// Stage is the duplex pipeline stage for one connection. It implements
// net.Conn. A Stage serves exactly one connection and is never shared;
// the read path and write path each serialize on their own mutex, so the
// codec may read and write concurrently but operations within one direction
// are strictly ordered.
type Stage struct {
	conn net.Conn
	id   registry.ConnID
	reg  *registry.Registry
	tr   transform.Transformer // nil: no capability installed, pure passthrough
	log  *logger.Logger
	cc   *transform.Conn

	state atomic.Uint32

	// Inbound path. pending holds transformed bytes not yet delivered
	// upward; scratch receives raw reads from the transport.
	readMu  sync.Mutex
	pending []byte
	scratch []byte

	// Outbound path: the aggregation buffer. fragCount always equals
	// len(fragments); both reset together when a full flush completes.
	writeMu   sync.Mutex
	fragments [][]byte
	fragCount int

	closeOnce sync.Once
	closeErr  error
}

// NewStage wraps conn in a pipeline stage. A nil transformer installs no
// capability: bytes pass through untouched aside from the chunk size
// ceiling on writes. Call Open before any I/O.
func NewStage(conn net.Conn, reg *registry.Registry, tr transform.Transformer, log *logger.Logger) *Stage {
	id := reg.NextID()
	return &Stage{
		conn: conn,
		id:   id,
		reg:  reg,
		tr:   tr,
		log:  log,
		cc: &transform.Conn{
			ID:         id,
			RemoteAddr: conn.RemoteAddr(),
			Registry:   reg,
		},
		// Frames on the wire carry at most MaxChunkBytes of payload plus
		// the sentinel; anything larger in one read is a framing violation,
		// so the scratch buffer leaves room to detect the overshoot.
		scratch: make([]byte, 2*framing.MaxChunkBytes),
	}
}

// ID returns the stage's opaque connection handle.
func (s *Stage) ID() registry.ConnID { return s.id }

// State returns the stage's current lifecycle state.
func (s *Stage) State() State { return State(s.state.Load()) }

// Open runs the transform's connection-open hook and registers the
// connection. The registry entry is created and the stage becomes active
// whether or not the hook succeeds; on hook failure the stage logs, writes
// the synthesized error response, closes, and returns the failure.
func (s *Stage) Open() error {
	s.state.Store(uint32(StateOpening))

	var hookErr error
	if s.tr != nil {
		hookErr = s.tr.OnConnectionOpen(s.cc)
	}

	s.reg.Register(s.id)
	s.state.Store(uint32(StateActive))

	if hookErr != nil {
		cerr := newConnError(KindLifecycleFailure, s.id, fmt.Errorf("connection open hook: %w", hookErr))
		s.fail(cerr)
		return cerr
	}

	s.log.Debug("pipeline stage opened", logger.LogFields{
		"conn_id":     uint64(s.id),
		"remote_addr": s.cc.RemoteAddr.String(),
	})
	return nil
}

// Read implements the inbound path. Each call drains previously transformed
// bytes first; otherwise it reads one raw buffer from the transport,
// classifies it against the sentinel rule, and runs it through the
// transform. Continuation fragments are forwarded unchanged; a captured
// unit forwards nothing and the read moves on to the next buffer.
func (s *Stage) Read(p []byte) (int, error) {
	if s.tr == nil {
		return s.conn.Read(p)
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	for len(s.pending) == 0 {
		n, err := s.conn.Read(s.scratch)
		if err != nil {
			return 0, err
		}
		buf := s.scratch[:n]

		if n > framing.MaxChunkBytes+framing.SentinelLen {
			cerr := newConnError(KindFramingViolation, s.id, fmt.Errorf(
				"received buffer of %s exceeds chunk budget of %s",
				framing.HumanizeByteCount(uint64(n)),
				framing.HumanizeByteCount(framing.MaxChunkBytes)))
			s.fail(cerr)
			return 0, cerr
		}

		partial := framing.IsPartialFrame(buf)
		out, captured, terr := s.tr.TransformInbound(buf, s.cc, partial)
		if terr != nil {
			cerr := newConnError(KindTransformFailure, s.id, fmt.Errorf("inbound transform: %w", terr))
			s.fail(cerr)
			return 0, cerr
		}

		switch {
		case partial:
			// Only complete units are eligible for transformation; the
			// fragment streams through as received.
			s.pending = append(s.pending[:0], buf...)
		case captured:
			// The unit was fully consumed by the transform. Nothing goes
			// upward; keep reading.
		default:
			s.pending = append(s.pending[:0], out...)
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write implements the outbound path. Each codec write is one fragment of
// the in-flight logical unit; once the expected number of fragments has
// accumulated the unit is flushed: the first fragment alone, then the
// remainder as one aggregated, transformed, chunked sequence ending in the
// sentinel-marked final frame.
func (s *Stage) Write(p []byte) (int, error) {
	if s.tr == nil {
		return s.writePassthrough(p)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	frag := make([]byte, len(p))
	copy(frag, p)
	s.fragments = append(s.fragments, frag)
	s.fragCount++

	if s.fragCount < s.reg.ExpectedFragmentCount(s.id) {
		return len(p), nil
	}

	if err := s.flushLocked(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// writePassthrough forwards bytes with no transform capability installed:
// unchanged and unfragmented beyond the chunk size ceiling, no sentinel.
// Transport errors surface raw rather than through the failure path so the
// stage stays transparent; deadline timeouts in particular must not kill
// the connection.
func (s *Stage) writePassthrough(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	written := 0
	for _, chunk := range framing.SplitChunks(p) {
		n, err := s.conn.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// flushLocked flushes the aggregated logical unit. Caller holds writeMu.
// The aggregation buffer resets only after the whole flush has completed;
// on error the connection is already being torn down through the failure
// path and the buffer contents no longer matter.
func (s *Stage) flushLocked() error {
	snap, ok := s.reg.Get(s.id)
	if !ok {
		// Possible only if the connection is being torn down while a flush
		// is in flight; the write proceeds with empty metadata.
		s.log.Debug("flushing with no registry entry", logger.LogFields{
			"conn_id": uint64(s.id),
			"state":   s.State().String(),
		})
	}
	info := transform.WriteInfo{
		RequestID: snap.CurrentRequestID,
		Upgraded:  snap.Upgraded,
	}

	// The first fragment flushes alone, as a continuation frame.
	out, err := s.tr.TransformOutbound(s.fragments[0], s.cc, info, true)
	if err != nil {
		cerr := newConnError(KindTransformFailure, s.id, fmt.Errorf("outbound transform: %w", err))
		s.fail(cerr)
		return cerr
	}
	if !framing.WithinChunkBudget(len(out)) {
		cerr := s.overBudget(len(out))
		s.fail(cerr)
		return cerr
	}
	if _, werr := s.conn.Write(out); werr != nil {
		cerr := newConnError(KindWriteFailure, s.id, werr)
		s.fail(cerr)
		return cerr
	}

	// The remaining fragments form one logical unit, transformed and
	// re-chunked, with the sentinel marking the final frame.
	var rest []byte
	for _, frag := range s.fragments[1:] {
		rest = framing.Concatenate(rest, frag)
	}
	if err := s.chunkedSendLocked(rest, info); err != nil {
		return err
	}

	s.fragments = s.fragments[:0]
	s.fragCount = 0
	return nil
}

// chunkedSendLocked writes one logical unit as a sequence of bounded
// chunks. Every chunk but the last transforms with partial=true and goes
// out bare; the final chunk transforms with partial=false and goes out
// prefixed with the continuation sentinel, so exactly one frame per unit
// carries the marker and it is always the last. A write failure aborts the
// remaining chunks.
func (s *Stage) chunkedSendLocked(buf []byte, info transform.WriteInfo) error {
	chunks := framing.SplitChunks(buf)
	for i, chunk := range chunks {
		final := i == len(chunks)-1

		out, err := s.tr.TransformOutbound(chunk, s.cc, info, !final)
		if err != nil {
			cerr := newConnError(KindTransformFailure, s.id, fmt.Errorf("outbound transform: %w", err))
			s.fail(cerr)
			return cerr
		}
		if !framing.WithinChunkBudget(len(out)) {
			cerr := s.overBudget(len(out))
			s.fail(cerr)
			return cerr
		}

		frame := out
		if final {
			frame = framing.Concatenate(framing.ContinuationSentinel, out)
		}
		if _, werr := s.conn.Write(frame); werr != nil {
			cerr := newConnError(KindWriteFailure, s.id, werr)
			s.fail(cerr)
			return cerr
		}
	}
	return nil
}

func (s *Stage) overBudget(n int) *ConnError {
	return newConnError(KindFramingViolation, s.id, fmt.Errorf(
		"transformed chunk of %s exceeds chunk budget of %s",
		framing.HumanizeByteCount(uint64(n)),
		framing.HumanizeByteCount(framing.MaxChunkBytes)))
}

// fail is the failure path: log with full detail, synthesize the error
// response if the connection can still take a write, and close. Registry
// removal happens inside the close, on this and every other exit path.
func (s *Stage) fail(cerr *ConnError) {
	s.log.Error("pipeline failure", logger.LogFields{
		"conn_id": uint64(s.id),
		"state":   s.State().String(),
		"kind":    cerr.Kind.String(),
		"error":   cerr.Err.Error(),
	})

	writable := cerr.Kind != KindWriteFailure &&
		s.State() != StateClosing && s.State() != StateClosed
	if writable {
		resp := errorResponse(cerr)
		frame := resp
		if s.tr != nil {
			// One final framed unit. The failing transform is not invoked
			// again; the response goes out as a sentinel-marked final frame.
			frame = framing.Concatenate(framing.ContinuationSentinel, resp)
		}
		if _, werr := s.conn.Write(frame); werr != nil {
			s.log.Debug("failed to write error response", logger.LogFields{
				"conn_id": uint64(s.id),
				"error":   werr.Error(),
			})
		}
	}

	s.closeWithCause(cerr)
}

// Close shuts the stage down: the close hook runs, the registry entry is
// removed, and the underlying connection is closed. Safe to call from any
// exit path, any number of times.
func (s *Stage) Close() error {
	return s.closeWithCause(nil)
}

func (s *Stage) closeWithCause(cause error) error {
	s.closeOnce.Do(func() {
		s.state.Store(uint32(StateClosing))

		if s.tr != nil {
			if herr := s.tr.OnConnectionClose(s.cc, transform.CloseInfo{Err: cause}); herr != nil {
				// The hook outcome never blocks shutdown; the registry
				// entry is removed regardless.
				s.log.Error("connection close hook failed", logger.LogFields{
					"conn_id": uint64(s.id),
					"kind":    KindLifecycleFailure.String(),
					"error":   herr.Error(),
				})
			}
		}

		s.reg.Unregister(s.id)
		s.closeErr = s.conn.Close()
		s.state.Store(uint32(StateClosed))

		s.log.Debug("pipeline stage closed", logger.LogFields{
			"conn_id": uint64(s.id),
		})
	})
	return s.closeErr
}

// LocalAddr implements net.Conn.
func (s *Stage) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// RemoteAddr implements net.Conn.
func (s *Stage) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// SetDeadline implements net.Conn.
func (s *Stage) SetDeadline(t time.Time) error { return s.conn.SetDeadline(t) }

// SetReadDeadline implements net.Conn.
func (s *Stage) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }

// SetWriteDeadline implements net.Conn.
func (s *Stage) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

var _ net.Conn = (*Stage)(nil)
