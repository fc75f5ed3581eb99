package ringkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFederation(t *testing.T, names ...string) *Federation {
	t.Helper()
	rep := testReplicator(t)
	f := NewFederation(nil, rep)
	for _, name := range names {
		require.NoError(t, f.AddRegion(testCluster(t, name, rep, PeerOptions{Replicas: 1, Fallback: 1})))
	}
	return f
}

func TestFederationRegionFor(t *testing.T) {
	f := testFederation(t, "Delhi", "Mumbai", "Banglore")

	for key, want := range map[Key]string{0: "Delhi", 1: "Mumbai", 2: "Banglore", 3: "Delhi", 301: "Mumbai"} {
		c, err := f.RegionFor(key)
		require.NoError(t, err)
		assert.Equal(t, want, c.Name(), "key %d", key)
	}
}

func TestFederationPutFetch(t *testing.T) {
	f := testFederation(t, "Delhi", "Mumbai", "Banglore")
	ctx := context.Background()
	fields := []string{"Alice", "alice@example.com"}

	pl, err := f.Put(ctx, fields, []byte("alicepass"))
	require.NoError(t, err)
	want, err := f.RegionFor(f.Keys().ItemKey(fields...))
	require.NoError(t, err)
	assert.Equal(t, want.Name(), pl.Region)
	waitReplication(t, pl.Replication)

	rec, err := f.Fetch(ctx, fields)
	require.NoError(t, err)
	assert.Equal(t, pl.Region, rec.Region)
	assert.Equal(t, "alicepass", string(rec.Payloads[0]))

	for _, other := range f.Regions() {
		if other.Name() == pl.Region {
			continue
		}
		_, err := f.FetchKey(ctx, other.Name(), "", pl.Key)
		assert.ErrorIs(t, err, ErrNotFound, "region %s must not hold the record", other.Name())
	}
}

func TestFederationErrors(t *testing.T) {
	ctx := context.Background()

	empty := NewFederation(nil, nil)
	_, err := empty.Put(ctx, []string{"x"}, []byte("v"))
	assert.ErrorIs(t, err, ErrNoRegions)

	f := testFederation(t, "Delhi", "Mumbai")
	assert.ErrorIs(t, f.AddRegion(testCluster(t, "Delhi", nil, PeerOptions{})), ErrDuplicateRegion)

	_, err = f.FetchKey(ctx, "Pune", "", 1)
	assert.ErrorIs(t, err, ErrUnknownRegion)
	_, err = f.SetAlive("", "A", false)
	assert.ErrorIs(t, err, ErrUnknownRegion, "region is required with several regions")
}

func TestFederationSetAlive(t *testing.T) {
	f := testFederation(t, "Delhi")

	changed, err := f.SetAlive("", "B", false)
	require.NoError(t, err)
	assert.True(t, changed)

	snap := f.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "Delhi", snap[0].Name)
	for _, ps := range snap[0].Peers {
		assert.Equal(t, ps.Label != "B", ps.Alive, "peer %s", ps.Label)
	}

	changed, err = f.SetAlive("Delhi", "B", true)
	require.NoError(t, err)
	assert.True(t, changed)
	_, err = f.SetAlive("Delhi", "Z", true)
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestBuildFederation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Codec.Passphrase = "test"
	cfg.Regions = []RegionConfig{
		{Name: "Delhi", Peers: []PeerConfig{{Label: "Delhi-0"}, {Label: "Delhi-1"}}},
		{Name: "Mumbai", Peers: []PeerConfig{{Label: "Mumbai-0"}}},
	}

	f, err := BuildFederation(cfg, nil)
	require.NoError(t, err)
	defer f.Close()

	regions := f.Regions()
	require.Len(t, regions, 2)
	assert.Equal(t, "Delhi", regions[0].Name())
	assert.Equal(t, 2, regions[0].Ring().Len())

	pl, err := f.Put(context.Background(), []string{"k"}, []byte("v"))
	require.NoError(t, err)
	waitReplication(t, pl.Replication)
	assert.Equal(t, uint64(0), f.Stats().Dropped)

	cfg.Regions = append(cfg.Regions, RegionConfig{Name: "Delhi", Peers: []PeerConfig{{Label: "x"}}})
	_, err = BuildFederation(cfg, nil)
	assert.ErrorIs(t, err, ErrDuplicateRegion)
}
