package ringkv

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Identity names a peer and fixes its ring position for its lifetime.
type Identity struct {
	Label   string
	RingKey Key
}

func (id Identity) String() string {
	return id.Label + "@" + strconv.FormatUint(uint64(id.RingKey), 10)
}

// Item is a stored record. Payloads are already encoded by the caller.
type Item struct {
	Key      Key
	Payloads [][]byte
}

func (it Item) clone() Item {
	out := Item{Key: it.Key, Payloads: make([][]byte, len(it.Payloads))}
	for i, p := range it.Payloads {
		out.Payloads[i] = append([]byte(nil), p...)
	}
	return out
}

// Source tells whether a read was served by the owner or by a replica.
type Source int

const (
	SourceOwner Source = iota
	SourceReplica
)

func (s Source) String() string {
	if s == SourceReplica {
		return "replica"
	}
	return "owner"
}

// StoreResult is returned once the owner has committed a write.
// Replication is the handle of the fan-out started by that write.
type StoreResult struct {
	ServedBy    Identity
	Hops        int
	Replication *Replication
}

// GetResult is a successful read.
type GetResult struct {
	Item     Item
	Source   Source
	ServedBy Identity
	Hops     int
}

// PeerOptions tune the request path of a peer.
type PeerOptions struct {
	// Replicas is the number of successors an owner write is copied to.
	Replicas int
	// Fallback is the number of successors queried when the owner misses.
	Fallback int
	// MaxHops bounds forwarding; 0 means the ring size.
	MaxHops int
	Logger  *log.Entry
}

// Peer is a ring member holding a local store.
type Peer struct {
	id    Identity
	alive atomic.Bool

	data    map[Key]Item
	dataMtx sync.Mutex

	ring       *Ring
	replicator *Replicator
	opts       PeerOptions
	log        *log.Entry
}

/* Function: 	NewPeer
 *
 * Description:
 * 		Create an alive peer bound to a ring. The peer is not registered;
 * 		callers register it with Ring.Register before sending traffic.
 */
func NewPeer(id Identity, ring *Ring, replicator *Replicator, opts PeerOptions) *Peer {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	p := &Peer{
		id:         id,
		data:       make(map[Key]Item),
		ring:       ring,
		replicator: replicator,
		opts:       opts,
		log:        logger.WithField("peer", id.Label),
	}
	p.alive.Store(true)
	return p
}

func (p *Peer) Identity() Identity { return p.id }

func (p *Peer) Alive() bool { return p.alive.Load() }

// Len returns the number of items in the local store, owned or replicated.
func (p *Peer) Len() int {
	p.dataMtx.Lock()
	defer p.dataMtx.Unlock()
	return len(p.data)
}

// Store routes a write to the owner of item.Key.
func (p *Peer) Store(ctx context.Context, item Item) (StoreResult, error) {
	return p.store(ctx, item.clone(), 0)
}

// Get routes a read to the owner of key.
func (p *Peer) Get(ctx context.Context, key Key) (GetResult, error) {
	return p.get(ctx, key, 0)
}

/* Function: 	store
 *
 * Description:
 * 		Owner side: commit the item locally and hand it to the replicator
 * 		with the successor list computed now. The caller does not wait for
 * 		replication. Non-owner side: forward to the owner seen by this peer.
 */
func (p *Peer) store(ctx context.Context, item Item, hops int) (StoreResult, error) {
	owner, err := p.route(ctx, "store", item.Key, hops)
	if err != nil {
		return StoreResult{}, err
	}

	if owner != p {
		p.log.WithFields(log.Fields{"op": "store", "key": item.Key, "owner": owner.id.Label, "hops": hops}).
			Debug("forwarding to owner")
		return owner.store(ctx, item, hops+1)
	}

	p.writeLocal(item)
	succ := p.ring.SuccessorsOf(p, p.opts.Replicas)
	res := StoreResult{
		ServedBy:    p.id,
		Hops:        hops,
		Replication: p.replicator.Replicate(p.id, item, succ),
	}
	p.log.WithFields(log.Fields{"op": "store", "key": item.Key, "hops": hops, "replicas": len(succ)}).
		Info("stored item")
	return res, nil
}

/* Function: 	get
 *
 * Description:
 * 		Owner side: serve from the local store. A miss may be data left
 * 		behind by an earlier liveness change, so a few successors are asked
 * 		for a replica before reporting ErrNotFound.
 */
func (p *Peer) get(ctx context.Context, key Key, hops int) (GetResult, error) {
	owner, err := p.route(ctx, "get", key, hops)
	if err != nil {
		return GetResult{}, err
	}

	if owner != p {
		p.log.WithFields(log.Fields{"op": "get", "key": key, "owner": owner.id.Label, "hops": hops}).
			Debug("forwarding to owner")
		return owner.get(ctx, key, hops+1)
	}

	if item, ok := p.readLocal(key); ok {
		return GetResult{Item: item, Source: SourceOwner, ServedBy: p.id, Hops: hops}, nil
	}

	for _, s := range p.ring.SuccessorsOf(p, p.opts.Fallback) {
		item, err := s.lookupReplica(key)
		if err != nil {
			continue
		}
		p.log.WithFields(log.Fields{"op": "get", "key": key, "replica": s.id.Label}).
			Warn("owner missing item, served from replica")
		return GetResult{Item: item, Source: SourceReplica, ServedBy: s.id, Hops: hops}, nil
	}

	return GetResult{}, fmt.Errorf("get key %d at %s: %w", key, p.id.Label, ErrNotFound)
}

// route runs the checks shared by store and get and returns the owner. A
// down peer reports ErrNoAlivePeers instead of ErrPeerDown when the whole
// ring is down, since retrying another entry point cannot help.
func (p *Peer) route(ctx context.Context, op string, key Key, hops int) (*Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s key %d at %s: %w", op, key, p.id.Label, err)
	}
	if hops > p.maxHops() {
		return nil, fmt.Errorf("%s key %d after %d hops: %w", op, key, hops, ErrRoutingLoop)
	}
	if !p.Alive() {
		if _, ok := p.ring.FirstAlive(); !ok {
			return nil, fmt.Errorf("%s key %d: %w", op, key, ErrNoAlivePeers)
		}
		return nil, fmt.Errorf("%s key %d at %s: %w", op, key, p.id.Label, ErrPeerDown)
	}
	owner, ok := p.ring.OwnerOf(key)
	if !ok {
		return nil, fmt.Errorf("%s key %d: %w", op, key, ErrNoAlivePeers)
	}
	return owner, nil
}

func (p *Peer) maxHops() int {
	if p.opts.MaxHops > 0 {
		return p.opts.MaxHops
	}
	return p.ring.Len()
}

func (p *Peer) writeLocal(item Item) {
	p.dataMtx.Lock()
	p.data[item.Key] = item
	p.dataMtx.Unlock()
}

func (p *Peer) readLocal(key Key) (Item, bool) {
	p.dataMtx.Lock()
	item, ok := p.data[key]
	p.dataMtx.Unlock()
	if !ok {
		return Item{}, false
	}
	return item.clone(), true
}

// acceptReplica stores a copy pushed by an owner.
func (p *Peer) acceptReplica(item Item) error {
	if !p.Alive() {
		return fmt.Errorf("replica key %d at %s: %w", item.Key, p.id.Label, ErrPeerDown)
	}
	p.writeLocal(item)
	return nil
}

// lookupReplica answers a fallback read from an owner.
func (p *Peer) lookupReplica(key Key) (Item, error) {
	if !p.Alive() {
		return Item{}, ErrPeerDown
	}
	item, ok := p.readLocal(key)
	if !ok {
		return Item{}, ErrNotFound
	}
	return item, nil
}

func (p *Peer) markDown() bool { return p.alive.CompareAndSwap(true, false) }

func (p *Peer) markUp() bool { return p.alive.CompareAndSwap(false, true) }
