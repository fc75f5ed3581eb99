package ringkv

import (
	"context"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return log.NewEntry(l)
}

// abc is the three peer ring used across tests: A(10) B(50) C(90).
func abc() []Identity {
	return []Identity{{Label: "A", RingKey: 10}, {Label: "B", RingKey: 50}, {Label: "C", RingKey: 90}}
}

func testRing(t *testing.T, rep *Replicator, opts PeerOptions, ids ...Identity) *Ring {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	r := NewRing()
	for _, id := range ids {
		require.NoError(t, r.Register(NewPeer(id, r, rep, opts)))
	}
	return r
}

func testReplicator(t *testing.T) *Replicator {
	t.Helper()
	rep := NewReplicator(ReplicatorConfig{Workers: 2, QueueSize: 64}, quietLogger())
	t.Cleanup(rep.Close)
	return rep
}

func mustPeer(t *testing.T, r *Ring, label string) *Peer {
	t.Helper()
	p, ok := r.Lookup(label)
	require.True(t, ok, "peer %s not registered", label)
	return p
}

func waitReplication(t *testing.T, rep *Replication) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rep.Wait(ctx), "replication did not finish")
}

func labels(peers []*Peer) []string {
	out := make([]string, len(peers))
	for i, p := range peers {
		out[i] = p.Identity().Label
	}
	return out
}
