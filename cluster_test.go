package ringkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pinned(label string, key uint64) PeerConfig {
	return PeerConfig{Label: label, RingKey: &key}
}

func testCodec(t *testing.T) Codec {
	t.Helper()
	codec, err := NewAEADCodecFromPassphrase("test")
	require.NoError(t, err)
	return codec
}

func testCluster(t *testing.T, name string, rep *Replicator, opts PeerOptions) *Cluster {
	t.Helper()
	peers := []PeerConfig{pinned("A", 10), pinned("B", 50), pinned("C", 90)}
	c, err := NewCluster(name, peers, opts, nil, testCodec(t), rep)
	require.NoError(t, err)
	return c
}

func TestClusterPutFetch(t *testing.T) {
	c := testCluster(t, "Delhi", testReplicator(t), PeerOptions{Replicas: 2, Fallback: 2})
	ctx := context.Background()
	fields := []string{"Gurkirat", "gurkirat@gmail.com"}

	pl, err := c.Put(ctx, "", fields, []byte("pass123"), []byte("SOCIAL123"))
	require.NoError(t, err)
	assert.Equal(t, "Delhi", pl.Region)
	assert.Equal(t, c.Keys().ItemKey(fields...), pl.Key)
	waitReplication(t, pl.Replication)

	owner, ok := c.Ring().OwnerOf(pl.Key)
	require.True(t, ok)
	assert.Equal(t, owner.Identity(), pl.ServedBy)

	raw, ok := owner.readLocal(pl.Key)
	require.True(t, ok)
	assert.NotEqual(t, "pass123", string(raw.Payloads[0]), "payloads are stored encoded")

	for _, entry := range []string{"", "A", "B", "C"} {
		rec, err := c.Fetch(ctx, entry, fields)
		require.NoError(t, err, "entry %q", entry)
		assert.Equal(t, [][]byte{[]byte("pass123"), []byte("SOCIAL123")}, rec.Payloads)
		assert.Equal(t, SourceOwner, rec.Source)
		assert.Equal(t, owner.Identity(), rec.ServedBy)
	}

	_, err = c.Fetch(ctx, "", []string{"Ansh", "ansh@yahoo.com"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClusterReadFromReplicaAfterOwnerFailure(t *testing.T) {
	c := testCluster(t, "Mumbai", testReplicator(t), PeerOptions{Replicas: 2, Fallback: 2})
	ctx := context.Background()
	fc := c.Failures()

	// C misses the write, so after B fails the new owner has nothing local.
	_, err := fc.MarkDown("C")
	require.NoError(t, err)
	pl, err := c.PutKey(ctx, "A", 30, []byte("v"))
	require.NoError(t, err)
	assert.Equal(t, "B", pl.ServedBy.Label)
	waitReplication(t, pl.Replication)

	_, err = fc.MarkUp("C")
	require.NoError(t, err)
	_, err = fc.MarkDown("B")
	require.NoError(t, err)

	rec, err := c.FetchKey(ctx, "C", 30)
	require.NoError(t, err)
	assert.Equal(t, SourceReplica, rec.Source)
	assert.Equal(t, "A", rec.ServedBy.Label)
	assert.Equal(t, "v", string(rec.Payloads[0]))
}

func TestClusterNoAlivePeers(t *testing.T) {
	c := testCluster(t, "Banglore", nil, PeerOptions{})
	for _, label := range []string{"A", "B", "C"} {
		_, err := c.Failures().MarkDown(label)
		require.NoError(t, err)
	}
	ctx := context.Background()

	_, err := c.PutKey(ctx, "", 30, []byte("v"))
	assert.ErrorIs(t, err, ErrNoAlivePeers)
	_, err = c.PutKey(ctx, "A", 30, []byte("v"))
	assert.ErrorIs(t, err, ErrNoAlivePeers)
	_, err = c.FetchKey(ctx, "", 30)
	assert.ErrorIs(t, err, ErrNoAlivePeers)
}

func TestClusterEntryPeerErrors(t *testing.T) {
	c := testCluster(t, "Delhi", nil, PeerOptions{})
	ctx := context.Background()

	_, err := c.PutKey(ctx, "Z", 30, []byte("v"))
	assert.ErrorIs(t, err, ErrUnknownPeer)

	_, err = c.Failures().MarkDown("A")
	require.NoError(t, err)
	_, err = c.PutKey(ctx, "A", 30, []byte("v"))
	assert.ErrorIs(t, err, ErrPeerDown)
}

func TestNewClusterValidation(t *testing.T) {
	_, err := NewCluster("x", []PeerConfig{{Label: "A"}}, PeerOptions{}, nil, nil, nil)
	assert.Error(t, err, "a codec is required")

	_, err = NewCluster("x", []PeerConfig{{Label: "A"}, {Label: "A"}}, PeerOptions{}, nil, testCodec(t), nil)
	assert.ErrorIs(t, err, ErrDuplicatePeer)

	ks := NewKeySpace(nil)
	c, err := NewCluster("x", []PeerConfig{{Label: "A"}, pinned("B", 7)}, PeerOptions{}, ks, testCodec(t), nil)
	require.NoError(t, err)
	a, err := c.Peer("A")
	require.NoError(t, err)
	assert.Equal(t, ks.IdentityKey("A"), a.Identity().RingKey)
	b, err := c.Peer("B")
	require.NoError(t, err)
	assert.Equal(t, Key(7), b.Identity().RingKey)
}
