package ringkv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequestWire(t *testing.T) {
	in := &Request{
		Op:       OpStore,
		Key:      Key(1 << 63),
		Payloads: [][]byte{[]byte("a"), {}, []byte("ccc")},
		Entry:    "A",
		Region:   "Delhi",
	}
	b, err := wireCodec{}.Marshal(in)
	require.NoError(t, err)

	out := new(Request)
	require.NoError(t, wireCodec{}.Unmarshal(b, out))
	assert.Equal(t, in, out)
}

func TestResponseWireWithRegions(t *testing.T) {
	in := &Response{
		Status:   StatusOK,
		Payloads: [][]byte{[]byte("pass123")},
		ServedBy: Identity{Label: "B", RingKey: 50},
		Source:   SourceReplica,
		Hops:     2,
		Region:   "Delhi",
		Changed:  true,
		Regions: []RegionStatus{
			{Name: "Delhi", Peers: []PeerStatus{
				{Identity: Identity{Label: "A", RingKey: 10}, Alive: true, Items: 3},
				{Identity: Identity{Label: "B", RingKey: 50}},
			}},
			{Name: "Mumbai"},
		},
	}
	b, err := wireCodec{}.Marshal(in)
	require.NoError(t, err)

	out := new(Response)
	require.NoError(t, wireCodec{}.Unmarshal(b, out))
	assert.Equal(t, in, out)
}

func TestWireSkipsUnknownFields(t *testing.T) {
	b := (&Request{Op: OpGet, Key: 7}).marshalWire()
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "from a newer client")
	b = protowire.AppendTag(b, 100, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)

	out := new(Request)
	require.NoError(t, out.unmarshalWire(b))
	assert.Equal(t, &Request{Op: OpGet, Key: 7}, out)
}

func TestWireRejectsTruncatedInput(t *testing.T) {
	b := (&Request{Op: OpStore, Payloads: [][]byte{[]byte("payload")}}).marshalWire()
	assert.Error(t, new(Request).unmarshalWire(b[:len(b)-2]))

	_, err := wireCodec{}.Marshal("not an envelope")
	assert.Error(t, err)
}

func TestStatusMapping(t *testing.T) {
	for _, base := range []error{ErrNotFound, ErrPeerDown, ErrNoAlivePeers, ErrRoutingLoop} {
		status := StatusOf(base)
		err := errorFor(status, "get key 1: "+base.Error())
		assert.ErrorIs(t, err, base, status.String())
		assert.Contains(t, err.Error(), "get key 1")
	}

	assert.Nil(t, errorFor(StatusOK, ""))
	assert.Equal(t, StatusInvalid, StatusOf(ErrUnknownRegion))
	assert.ErrorIs(t, errorFor(StatusInvalid, ""), ErrInvalidRequest)
	assert.EqualError(t, errorFor(StatusInternal, "boom"), "boom")
	assert.Equal(t, "UNKNOWN", Status(42).String())
}
