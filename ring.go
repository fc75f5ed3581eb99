package ringkv

import (
	"fmt"
	"sort"
	"sync"
)

// PeerStatus is one row of a ring snapshot.
type PeerStatus struct {
	Identity
	Alive bool
	Items int
}

// Ring is the membership registry. Peers are kept sorted by (RingKey, Label)
// and are never removed; failure is modelled by liveness only.
type Ring struct {
	mu      sync.RWMutex
	peers   []*Peer
	byLabel map[string]*Peer
}

// NewRing returns an empty ring.
func NewRing() *Ring {
	return &Ring{
		peers:   make([]*Peer, 0),
		byLabel: make(map[string]*Peer),
	}
}

// ringLess orders peers by ring key, then by label for colliding keys.
func ringLess(a, b Identity) bool {
	if a.RingKey != b.RingKey {
		return a.RingKey < b.RingKey
	}
	return a.Label < b.Label
}

/* Function: 	Register
 *
 * Description:
 * 		Insert a peer at its sorted position. The whole insert happens under
 * 		the write lock so readers never observe a partially ordered ring.
 */
func (r *Ring) Register(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byLabel[p.id.Label]; exists {
		return fmt.Errorf("register %q: %w", p.id.Label, ErrDuplicatePeer)
	}

	idx := sort.Search(len(r.peers), func(i int) bool {
		return !ringLess(r.peers[i].id, p.id)
	})
	r.peers = append(r.peers, nil)
	copy(r.peers[idx+1:], r.peers[idx:])
	r.peers[idx] = p
	r.byLabel[p.id.Label] = p
	return nil
}

/* Function: 	OwnerOf
 *
 * Description:
 * 		Return the alive peer with the smallest ring key >= key, wrapping to
 * 		the smallest alive ring key. Returns false only when no peer is alive.
 */
func (r *Ring) OwnerOf(key Key) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.peers)
	if n == 0 {
		return nil, false
	}

	start := sort.Search(n, func(i int) bool {
		return r.peers[i].id.RingKey >= key
	})
	for i := 0; i < n; i++ {
		p := r.peers[(start+i)%n]
		if p.Alive() {
			return p, true
		}
	}
	return nil, false
}

/* Function: 	SuccessorsOf
 *
 * Description:
 * 		Return up to count alive peers walking clockwise from just after p.
 * 		The walk stops after one traversal and never yields p itself.
 */
func (r *Ring) SuccessorsOf(p *Peer, count int) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.peers)
	if count <= 0 || n == 0 {
		return nil
	}

	idx := r.indexOf(p)
	if idx < 0 {
		return nil
	}

	result := make([]*Peer, 0, min(count, n-1))
	for i := 1; i < n && len(result) < count; i++ {
		s := r.peers[(idx+i)%n]
		if s.Alive() {
			result = append(result, s)
		}
	}
	return result
}

// indexOf must be called with r.mu held.
func (r *Ring) indexOf(p *Peer) int {
	idx := sort.Search(len(r.peers), func(i int) bool {
		return !ringLess(r.peers[i].id, p.id)
	})
	if idx < len(r.peers) && r.peers[idx] == p {
		return idx
	}
	return -1
}

// Lookup returns the registered peer with the given label.
func (r *Ring) Lookup(label string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byLabel[label]
	return p, ok
}

// Len returns the number of registered peers, alive or not.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Peers returns the registered peers in ring order.
func (r *Ring) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Peer(nil), r.peers...)
}

// FirstAlive returns the alive peer with the smallest ring key.
func (r *Ring) FirstAlive() (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		if p.Alive() {
			return p, true
		}
	}
	return nil, false
}

// Snapshot returns a diagnostic view of the ring in ring order.
func (r *Ring) Snapshot() []PeerStatus {
	peers := r.Peers()
	out := make([]PeerStatus, 0, len(peers))
	for _, p := range peers {
		out = append(out, PeerStatus{
			Identity: p.id,
			Alive:    p.Alive(),
			Items:    p.Len(),
		})
	}
	return out
}
