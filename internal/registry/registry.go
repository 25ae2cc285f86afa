// Package registry implements the session registry (§4.10 C8):
// single-server arbitration per remote callsign.
package registry

import "sync"

// Kind identifies which application server owns a callsign.
type Kind int

const (
	KindBBS Kind = iota
	KindEcho
	KindWinlink
)

func (k Kind) String() string {
	switch k {
	case KindBBS:
		return "BBS"
	case KindEcho:
		return "Echo"
	case KindWinlink:
		return "WinLink"
	default:
		return "?"
	}
}

// Registry tracks at most one server kind per remote callsign.
type Registry struct {
	mu      sync.Mutex
	owners  map[string]Kind
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{owners: make(map[string]Kind)}
}

// CanCreateSession reports whether kind may open a session with
// callsign: true if no entry exists yet, or the existing entry already
// matches kind (§4.10).
func (r *Registry) CanCreateSession(callsign string, kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.owners[callsign]
	return !ok || existing == kind
}

// Acquire records callsign as owned by kind if permitted, returning
// whether the acquisition succeeded. First-in wins: a concurrent
// second attempt for a different kind is rejected (§8 "Registry").
func (r *Registry) Acquire(callsign string, kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.owners[callsign]
	if ok && existing != kind {
		return false
	}
	r.owners[callsign] = kind
	return true
}

// Release drops the ownership record for callsign, allowing any kind
// to claim it next.
func (r *Registry) Release(callsign string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, callsign)
}

// Owner reports the current owner of callsign, if any.
func (r *Registry) Owner(callsign string) (Kind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.owners[callsign]
	return k, ok
}
