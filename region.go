package ringkv

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// RegionStatus is the snapshot of one region.
type RegionStatus struct {
	Name  string
	Peers []PeerStatus
}

// Federation routes records across named regions, each its own ring. The
// region of a key is regions[key % len(regions)], in registration order.
type Federation struct {
	mtx     sync.RWMutex
	regions []*Cluster
	byName  map[string]*Cluster

	keys       *KeySpace
	replicator *Replicator
}

func NewFederation(keys *KeySpace, replicator *Replicator) *Federation {
	if keys == nil {
		keys = NewKeySpace(nil)
	}
	return &Federation{
		byName:     make(map[string]*Cluster),
		keys:       keys,
		replicator: replicator,
	}
}

/* Function: 	BuildFederation
 *
 * Description:
 * 		Build the codec, the shared replicator and one cluster per configured
 * 		region. hash may be nil for the default key hash.
 */
func BuildFederation(cfg *Config, hash HashFunc) (*Federation, error) {
	codec, err := codecFromConfig(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.Codec.Key == "" && cfg.Codec.Passphrase == "" {
		log.Warn("no codec key configured, using a random key for this process")
	}

	keys := NewKeySpace(hash)
	f := NewFederation(keys, NewReplicator(cfg.Replicator, nil))
	for _, rc := range cfg.Regions {
		c, err := NewCluster(rc.Name, rc.Peers, cfg.PeerOptions(), keys, codec, f.replicator)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.AddRegion(c); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// AddRegion appends a region. Regions must be added before traffic starts;
// adding one later changes the region of most keys.
func (f *Federation) AddRegion(c *Cluster) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if _, exists := f.byName[c.Name()]; exists {
		return fmt.Errorf("region %q: %w", c.Name(), ErrDuplicateRegion)
	}
	f.regions = append(f.regions, c)
	f.byName[c.Name()] = c
	return nil
}

func (f *Federation) Keys() *KeySpace { return f.keys }

// Regions returns the regions in routing order.
func (f *Federation) Regions() []*Cluster {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	return append([]*Cluster(nil), f.regions...)
}

// Region returns the named region.
func (f *Federation) Region(name string) (*Cluster, error) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	c, ok := f.byName[name]
	if !ok {
		return nil, fmt.Errorf("region %q: %w", name, ErrUnknownRegion)
	}
	return c, nil
}

// RegionFor returns the region responsible for key.
func (f *Federation) RegionFor(key Key) (*Cluster, error) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	if len(f.regions) == 0 {
		return nil, ErrNoRegions
	}
	return f.regions[uint64(key)%uint64(len(f.regions))], nil
}

func (f *Federation) resolve(region string, key Key) (*Cluster, error) {
	if region == "" {
		return f.RegionFor(key)
	}
	return f.Region(region)
}

// Put stores a record in the region and ring owning its key.
func (f *Federation) Put(ctx context.Context, fields []string, payloads ...[]byte) (Placement, error) {
	return f.PutKey(ctx, "", "", f.keys.ItemKey(fields...), payloads...)
}

// PutKey stores payloads under key. Empty region and entry are resolved
// from the key and the ring respectively.
func (f *Federation) PutKey(ctx context.Context, region, entry string, key Key, payloads ...[]byte) (Placement, error) {
	c, err := f.resolve(region, key)
	if err != nil {
		return Placement{}, err
	}
	log.WithFields(log.Fields{"region": c.Name(), "key": key}).Debug("routing write to region")
	return c.PutKey(ctx, entry, key, payloads...)
}

// Fetch reads the record identified by fields.
func (f *Federation) Fetch(ctx context.Context, fields []string) (Record, error) {
	return f.FetchKey(ctx, "", "", f.keys.ItemKey(fields...))
}

// FetchKey reads the payloads stored under key.
func (f *Federation) FetchKey(ctx context.Context, region, entry string, key Key) (Record, error) {
	c, err := f.resolve(region, key)
	if err != nil {
		return Record{}, err
	}
	return c.FetchKey(ctx, entry, key)
}

// SetAlive toggles a peer of the named region. An empty region is accepted
// when only one region exists.
func (f *Federation) SetAlive(region, label string, alive bool) (bool, error) {
	if region == "" {
		if regions := f.Regions(); len(regions) == 1 {
			region = regions[0].Name()
		}
	}
	c, err := f.Region(region)
	if err != nil {
		return false, err
	}
	return c.Failures().SetAlive(label, alive)
}

// Snapshot returns every region's ring in routing order.
func (f *Federation) Snapshot() []RegionStatus {
	regions := f.Regions()
	out := make([]RegionStatus, 0, len(regions))
	for _, c := range regions {
		out = append(out, RegionStatus{Name: c.Name(), Peers: c.Snapshot()})
	}
	return out
}

// Stats returns the counters of the shared replicator.
func (f *Federation) Stats() ReplicationStats {
	if f.replicator == nil {
		return ReplicationStats{}
	}
	return f.replicator.Stats()
}

// Close stops the shared replicator.
func (f *Federation) Close() {
	if f.replicator != nil {
		f.replicator.Close()
	}
}
