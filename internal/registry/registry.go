// Package registry tracks per-connection state for the duplex pipeline. It
// owns the mapping from connection identity to that connection's state
// record and is the only piece of state shared across connections; every
// read and write goes through one mutex so no caller can observe a torn
// record.
package registry

import (
	"sync"
	"sync/atomic"
)

// ConnID is an opaque handle identifying one live connection. IDs are issued
// from a process-wide counter rather than derived from object identity, so
// they remain valid keys across goroutines and survive being copied into log
// fields, admin responses, and transform contexts.
type ConnID uint64

// FragmentCounts configures how many discrete writes the upstream codec is
// expected to issue per response. The standard pattern is three writes
// (status+headers, body, trailer); an upgraded connection drops the trailer
// write. These encode an assumption about the codec's write pattern, which
// is why they are configurable rather than burned in.
type FragmentCounts struct {
	Standard int
	Upgraded int
}

// DefaultFragmentCounts is the compatible contract: three writes per
// response, two once the connection has switched protocols.
var DefaultFragmentCounts = FragmentCounts{Standard: 3, Upgraded: 2}

// connState is the mutable per-connection record. The expected fragment
// count is deliberately absent: it is always derived from isUpgraded at
// read time so the two can never diverge.
type connState struct {
	isUpgraded       bool
	currentRequestID string
}

// Snapshot is a read-only copy of one connection's state, safe to hold
// outside the registry's lock.
type Snapshot struct {
	ID                    ConnID `json:"id"`
	Upgraded              bool   `json:"upgraded"`
	CurrentRequestID      string `json:"current_request_id,omitempty"`
	ExpectedFragmentCount int    `json:"expected_fragment_count"`
}

// Registry is the concurrent connection-id to state-record mapping. All
// methods are safe for concurrent use; mutating and reading operations
// serialize on the same mutex. Critical sections are O(1) except
// FindConnectionByRequestID, which scans and must stay off hot per-byte
// paths.
type Registry struct {
	counts FragmentCounts

	mu    sync.Mutex
	conns map[ConnID]*connState

	nextID atomic.Uint64
}

// NewRegistry creates an empty registry using the given fragment counts.
// Zero or negative counts fall back to the defaults.
func NewRegistry(counts FragmentCounts) *Registry {
	if counts.Standard < 1 {
		counts.Standard = DefaultFragmentCounts.Standard
	}
	if counts.Upgraded < 1 {
		counts.Upgraded = DefaultFragmentCounts.Upgraded
	}
	return &Registry{
		counts: counts,
		conns:  make(map[ConnID]*connState),
	}
}

// NextID issues a fresh connection handle. Handles are unique for the life
// of the process and never reused.
func (r *Registry) NextID() ConnID {
	return ConnID(r.nextID.Add(1))
}

// Register inserts a default-initialized state record for id. Registering an
// id that is already present overwrites the existing record; callers are
// expected to register each connection exactly once, on connection-open.
func (r *Registry) Register(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connState{}
}

// Unregister removes the record for id. Removing an absent id is a no-op,
// so every exit path of a connection may call it unconditionally.
func (r *Registry) Unregister(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Get returns a snapshot of the record for id. The second return is false
// when the connection has no active state (never registered, or already
// unregistered).
func (r *Registry) Get(id ConnID) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.conns[id]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshotLocked(id, cs), true
}

// SetUpgraded marks the connection as having switched protocols. The flag is
// set once and never cleared within a connection's life; setting it on an
// absent id is a no-op.
func (r *Registry) SetUpgraded(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cs, ok := r.conns[id]; ok {
		cs.isUpgraded = true
	}
}

// SetCurrentRequestID records the identifier of the request currently in
// flight on the connection, for external correlation lookups.
func (r *Registry) SetCurrentRequestID(id ConnID, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cs, ok := r.conns[id]; ok {
		cs.currentRequestID = requestID
	}
}

// ExpectedFragmentCount returns the number of codec writes the pipeline
// aggregates before flushing, derived from the connection's upgrade flag.
// An absent id yields the standard count.
func (r *Registry) ExpectedFragmentCount(id ConnID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cs, ok := r.conns[id]; ok && cs.isUpgraded {
		return r.counts.Upgraded
	}
	return r.counts.Standard
}

// FindConnectionByRequestID scans all records for the connection whose
// in-flight request matches requestID, returning the first match. Linear in
// the number of live connections.
func (r *Registry) FindConnectionByRequestID(requestID string) (ConnID, bool) {
	if requestID == "" {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cs := range r.conns {
		if cs.currentRequestID == requestID {
			return id, true
		}
	}
	return 0, false
}

// AllConnections returns a snapshot listing of every live connection id,
// for diagnostics and administration. Order is unspecified.
func (r *Registry) AllConnections() []ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// AllSnapshots returns read-only copies of every live connection's record,
// for the admin surface.
func (r *Registry) AllSnapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := make([]Snapshot, 0, len(r.conns))
	for id, cs := range r.conns {
		snaps = append(snaps, r.snapshotLocked(id, cs))
	}
	return snaps
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) snapshotLocked(id ConnID, cs *connState) Snapshot {
	count := r.counts.Standard
	if cs.isUpgraded {
		count = r.counts.Upgraded
	}
	return Snapshot{
		ID:                    id,
		Upgraded:              cs.isUpgraded,
		CurrentRequestID:      cs.currentRequestID,
		ExpectedFragmentCount: count,
	}
}
