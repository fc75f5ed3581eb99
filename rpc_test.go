package ringkv

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T, fed *Federation) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(fed, time.Second)
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet", time.Second,
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRPCStoreGet(t *testing.T) {
	fed := testFederation(t, "Delhi", "Mumbai")
	client := startServer(t, fed)
	ctx := context.Background()
	key := fed.Keys().ItemKey("Gurkirat", "gurkirat@gmail.com")

	stored, err := client.Store(ctx, "", "", key, []byte("pass123"), []byte("SOCIAL123"))
	require.NoError(t, err)
	region, err := fed.RegionFor(key)
	require.NoError(t, err)
	assert.Equal(t, region.Name(), stored.Region)

	got, err := client.Get(ctx, "", "", key)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("pass123"), []byte("SOCIAL123")}, got.Payloads)
	assert.Equal(t, stored.ServedBy, got.ServedBy)
	assert.Equal(t, SourceOwner, got.Source)

	_, err = client.Get(ctx, "", "", key+1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = client.Get(ctx, "Pune", "", key)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRPCLivenessAndSnapshot(t *testing.T) {
	fed := testFederation(t, "Delhi")
	client := startServer(t, fed)
	ctx := context.Background()

	changed, err := client.SetLiveness(ctx, "", "A", false)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = client.SetLiveness(ctx, "Delhi", "A", false)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = client.Store(ctx, "", "A", 30, []byte("v"))
	assert.ErrorIs(t, err, ErrPeerDown)

	regions, err := client.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, fed.Snapshot(), regions)

	for _, label := range []string{"B", "C"} {
		_, err := client.SetLiveness(ctx, "", label, false)
		require.NoError(t, err)
	}
	_, err = client.Get(ctx, "", "", 30)
	assert.ErrorIs(t, err, ErrNoAlivePeers)
}
