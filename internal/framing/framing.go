// Package framing holds the fixed wire parameters shared by both directions
// of the duplex pipeline stage: the chunk size ceiling for network writes and
// the in-band continuation sentinel used to mark frame boundaries of a
// logical unit. Everything here is pure; no I/O, no per-connection state.
package framing

import (
	"bytes"

	"github.com/dustin/go-humanize"
)

// MaxChunkBytes is the upper bound on the payload of any single network
// write produced by the pipeline stage. Larger logical units are split into
// multiple chunks of at most this size.
const MaxChunkBytes = 8192

// ContinuationSentinel is the fixed marker prepended to a frame to signal
// its position within a logical unit. The inbound classifier treats a frame
// that begins with this marker as a continuation (more fragments follow);
// the outbound chunked-send procedure prefixes it to the final write of a
// logical unit, matching the chunked-write convention read in reverse.
//
// Callers must not mutate the returned slice; use a copy if needed.
var ContinuationSentinel = []byte("EOF")

// SentinelLen is the length of ContinuationSentinel in bytes.
const SentinelLen = 3

// WithinChunkBudget reports whether a payload of n bytes fits inside a
// single network write.
func WithinChunkBudget(n int) bool {
	return n <= MaxChunkBytes
}

// HumanizeByteCount formats a byte count using binary magnitude units for
// diagnostics (log lines, error reasons). It is not part of the wire
// protocol.
func HumanizeByteCount(n uint64) string {
	return humanize.IBytes(n)
}

// Concatenate returns a new buffer containing a's bytes followed by b's.
// Both inputs are treated as consumed: the result never aliases either
// argument, so the caller may recycle them immediately.
func Concatenate(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// IsPartialFrame classifies a received buffer. A buffer beginning with the
// continuation sentinel is a continuation fragment of a larger logical
// unit. A buffer too short to contain the sentinel at all is also classified
// as partial: when the marker cannot be read we fail safe toward "more data
// coming" rather than risk handing a truncated unit to the transform. Only
// a buffer of at least sentinel length that does not begin with the sentinel
// is a final, complete unit.
//
// Note the short-buffer rule can misclassify a legitimately short final
// fragment; that bias is part of the wire contract and is pinned by tests.
func IsPartialFrame(buf []byte) bool {
	if len(buf) < SentinelLen {
		return true
	}
	return bytes.HasPrefix(buf, ContinuationSentinel)
}

// SplitChunks slices buf into consecutive chunks of at most MaxChunkBytes.
// The returned slices alias buf; no copying occurs. An empty buffer yields a
// single empty chunk so that a logical unit always produces at least one
// frame (the final, sentinel-bearing one).
func SplitChunks(buf []byte) [][]byte {
	if len(buf) == 0 {
		return [][]byte{buf}
	}
	n := (len(buf) + MaxChunkBytes - 1) / MaxChunkBytes
	chunks := make([][]byte, 0, n)
	for len(buf) > MaxChunkBytes {
		chunks = append(chunks, buf[:MaxChunkBytes])
		buf = buf[MaxChunkBytes:]
	}
	chunks = append(chunks, buf)
	return chunks
}
