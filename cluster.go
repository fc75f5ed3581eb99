package ringkv

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Record is a decoded read result.
type Record struct {
	Region   string
	Key      Key
	Payloads [][]byte
	Source   Source
	ServedBy Identity
	Hops     int
}

// Placement describes where a write was committed.
type Placement struct {
	Region string
	Key    Key
	StoreResult
}

// Cluster is one ring of peers sharing a key space and a payload codec.
// It turns record fields into keys and encodes payloads before they reach
// the ring.
type Cluster struct {
	name     string
	keys     *KeySpace
	ring     *Ring
	failures *FailureController
	codec    Codec
	log      *log.Entry
}

/* Function: 	NewCluster
 *
 * Description:
 * 		Build and register every configured peer. Membership is fixed after
 * 		this returns; only liveness changes afterwards.
 */
func NewCluster(name string, peers []PeerConfig, opts PeerOptions, keys *KeySpace, codec Codec, replicator *Replicator) (*Cluster, error) {
	if codec == nil {
		return nil, errors.New("cluster: codec is required")
	}
	if keys == nil {
		keys = NewKeySpace(nil)
	}

	logger := log.WithField("region", name)
	ring := NewRing()
	c := &Cluster{
		name:     name,
		keys:     keys,
		ring:     ring,
		failures: NewFailureController(ring, logger),
		codec:    codec,
		log:      logger,
	}

	opts.Logger = logger
	for _, pc := range peers {
		id := Identity{Label: pc.Label, RingKey: keys.IdentityKey(pc.Label)}
		if pc.RingKey != nil {
			id.RingKey = Key(*pc.RingKey)
		}
		if err := c.ring.Register(NewPeer(id, c.ring, replicator, opts)); err != nil {
			return nil, fmt.Errorf("cluster %s: %w", name, err)
		}
		logger.WithFields(log.Fields{"peer": id.Label, "ring_key": id.RingKey}).Debug("registered peer")
	}
	return c, nil
}

func (c *Cluster) Name() string                 { return c.name }
func (c *Cluster) Ring() *Ring                  { return c.ring }
func (c *Cluster) Keys() *KeySpace              { return c.keys }
func (c *Cluster) Failures() *FailureController { return c.failures }
func (c *Cluster) Snapshot() []PeerStatus       { return c.ring.Snapshot() }

// Peer returns the registered peer with the given label.
func (c *Cluster) Peer(label string) (*Peer, error) {
	p, ok := c.ring.Lookup(label)
	if !ok {
		return nil, fmt.Errorf("cluster %s: peer %q: %w", c.name, label, ErrUnknownPeer)
	}
	return p, nil
}

// entryPeer resolves the peer a request enters through. An empty label
// picks the first alive peer in ring order.
func (c *Cluster) entryPeer(label string) (*Peer, error) {
	if label != "" {
		return c.Peer(label)
	}
	p, ok := c.ring.FirstAlive()
	if !ok {
		return nil, fmt.Errorf("cluster %s: %w", c.name, ErrNoAlivePeers)
	}
	return p, nil
}

// Put stores a record identified by fields through the entry peer.
func (c *Cluster) Put(ctx context.Context, entry string, fields []string, payloads ...[]byte) (Placement, error) {
	return c.PutKey(ctx, entry, c.keys.ItemKey(fields...), payloads...)
}

// PutKey stores encoded payloads under key through the entry peer.
func (c *Cluster) PutKey(ctx context.Context, entry string, key Key, payloads ...[]byte) (Placement, error) {
	p, err := c.entryPeer(entry)
	if err != nil {
		return Placement{}, err
	}
	encoded, err := encodeAll(c.codec, payloads)
	if err != nil {
		return Placement{}, err
	}
	res, err := p.Store(ctx, Item{Key: key, Payloads: encoded})
	if err != nil {
		return Placement{}, err
	}
	return Placement{Region: c.name, Key: key, StoreResult: res}, nil
}

// Fetch reads the record identified by fields through the entry peer.
func (c *Cluster) Fetch(ctx context.Context, entry string, fields []string) (Record, error) {
	return c.FetchKey(ctx, entry, c.keys.ItemKey(fields...))
}

// FetchKey reads and decodes the payloads stored under key.
func (c *Cluster) FetchKey(ctx context.Context, entry string, key Key) (Record, error) {
	p, err := c.entryPeer(entry)
	if err != nil {
		return Record{}, err
	}
	res, err := p.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	payloads, err := decodeAll(c.codec, res.Item.Payloads)
	if err != nil {
		return Record{}, fmt.Errorf("cluster %s: key %d: %w", c.name, key, err)
	}
	return Record{
		Region:   c.name,
		Key:      key,
		Payloads: payloads,
		Source:   res.Source,
		ServedBy: res.ServedBy,
		Hops:     res.Hops,
	}, nil
}
