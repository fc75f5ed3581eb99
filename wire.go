package ringkv

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Op selects the operation of a Request.
type Op int32

const (
	OpUnknown Op = iota
	OpStore
	OpGet
	OpSetLiveness
	OpSnapshot
)

// Request is the envelope sent to the RPC service.
//
//	1 op        varint
//	2 key       varint
//	3 payloads  repeated bytes
//	4 entry     string
//	5 region    string
//	6 label     string
//	7 alive     bool
type Request struct {
	Op       Op
	Key      Key
	Payloads [][]byte
	Entry    string
	Region   string
	Label    string
	Alive    bool
}

// Response is the envelope returned by the RPC service.
//
//	1 status     varint
//	2 payloads   repeated bytes
//	3 served_by  string (label)
//	4 ring_key   varint (of served_by)
//	5 source     varint
//	6 hops       varint
//	7 region     string
//	8 message    string
//	9 changed    bool
//	10 regions   repeated RegionStatus
type Response struct {
	Status   Status
	Payloads [][]byte
	ServedBy Identity
	Source   Source
	Hops     int
	Region   string
	Message  string
	Changed  bool
	Regions  []RegionStatus
}

// wireMessage is implemented by every envelope carried by wireCodec.
type wireMessage interface {
	marshalWire() []byte
	unmarshalWire([]byte) error
}

func (r *Request) marshalWire() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(r.Op))
	b = appendVarint(b, 2, uint64(r.Key))
	for _, p := range r.Payloads {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, p)
	}
	b = appendString(b, 4, r.Entry)
	b = appendString(b, 5, r.Region)
	b = appendString(b, 6, r.Label)
	b = appendVarint(b, 7, protowire.EncodeBool(r.Alive))
	return b
}

func (r *Request) unmarshalWire(b []byte) error {
	*r = Request{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var v uint64
		var n int
		switch num {
		case 1:
			n = consumeVarint(typ, b, &v)
			r.Op = Op(v)
		case 2:
			n = consumeVarint(typ, b, &v)
			r.Key = Key(v)
		case 3:
			var p []byte
			if n = consumeBytes(typ, b, &p); n > 0 {
				r.Payloads = append(r.Payloads, p)
			}
		case 4:
			n = consumeString(typ, b, &r.Entry)
		case 5:
			n = consumeString(typ, b, &r.Region)
		case 6:
			n = consumeString(typ, b, &r.Label)
		case 7:
			n = consumeVarint(typ, b, &v)
			r.Alive = protowire.DecodeBool(v)
		}
		return n
	})
}

func (r *Response) marshalWire() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(r.Status))
	for _, p := range r.Payloads {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, p)
	}
	b = appendString(b, 3, r.ServedBy.Label)
	b = appendVarint(b, 4, uint64(r.ServedBy.RingKey))
	b = appendVarint(b, 5, uint64(r.Source))
	b = appendVarint(b, 6, uint64(r.Hops))
	b = appendString(b, 7, r.Region)
	b = appendString(b, 8, r.Message)
	b = appendVarint(b, 9, protowire.EncodeBool(r.Changed))
	for _, rs := range r.Regions {
		b = protowire.AppendTag(b, 10, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRegionStatus(rs))
	}
	return b
}

func (r *Response) unmarshalWire(b []byte) error {
	*r = Response{}
	var nested error
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var v uint64
		var n int
		switch num {
		case 1:
			n = consumeVarint(typ, b, &v)
			r.Status = Status(v)
		case 2:
			var p []byte
			if n = consumeBytes(typ, b, &p); n > 0 {
				r.Payloads = append(r.Payloads, p)
			}
		case 3:
			n = consumeString(typ, b, &r.ServedBy.Label)
		case 4:
			n = consumeVarint(typ, b, &v)
			r.ServedBy.RingKey = Key(v)
		case 5:
			n = consumeVarint(typ, b, &v)
			r.Source = Source(v)
		case 6:
			n = consumeVarint(typ, b, &v)
			r.Hops = int(v)
		case 7:
			n = consumeString(typ, b, &r.Region)
		case 8:
			n = consumeString(typ, b, &r.Message)
		case 9:
			n = consumeVarint(typ, b, &v)
			r.Changed = protowire.DecodeBool(v)
		case 10:
			var p []byte
			if n = consumeBytes(typ, b, &p); n > 0 {
				rs, err := unmarshalRegionStatus(p)
				if err != nil {
					nested = err
					return -1
				}
				r.Regions = append(r.Regions, rs)
			}
		}
		return n
	})
	if nested != nil {
		return nested
	}
	return err
}

// RegionStatus: 1 name string, 2 peers repeated PeerStatus.
// PeerStatus:   1 label string, 2 ring_key varint, 3 alive bool, 4 items varint.
func marshalRegionStatus(rs RegionStatus) []byte {
	b := appendString(nil, 1, rs.Name)
	for _, ps := range rs.Peers {
		var pb []byte
		pb = appendString(pb, 1, ps.Label)
		pb = appendVarint(pb, 2, uint64(ps.RingKey))
		pb = appendVarint(pb, 3, protowire.EncodeBool(ps.Alive))
		pb = appendVarint(pb, 4, uint64(ps.Items))
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	return b
}

func unmarshalRegionStatus(b []byte) (RegionStatus, error) {
	var rs RegionStatus
	var nested error
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &rs.Name)
		case 2:
			var p []byte
			n := consumeBytes(typ, b, &p)
			if n <= 0 {
				return n
			}
			ps, err := unmarshalPeerStatus(p)
			if err != nil {
				nested = err
				return -1
			}
			rs.Peers = append(rs.Peers, ps)
			return n
		}
		return 0
	})
	if nested != nil {
		return rs, nested
	}
	return rs, err
}

func unmarshalPeerStatus(b []byte) (PeerStatus, error) {
	var ps PeerStatus
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var v uint64
		var n int
		switch num {
		case 1:
			n = consumeString(typ, b, &ps.Label)
		case 2:
			n = consumeVarint(typ, b, &v)
			ps.RingKey = Key(v)
		case 3:
			n = consumeVarint(typ, b, &v)
			ps.Alive = protowire.DecodeBool(v)
		case 4:
			n = consumeVarint(typ, b, &v)
			ps.Items = int(v)
		}
		return n
	})
	return ps, err
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// consumeFields walks the fields of b. fn returns the number of bytes it
// consumed, 0 to skip the field, or a negative protowire error code.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: %w", protowire.ParseError(n))
		}
		b = b[n:]

		m := fn(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("wire: field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n > 0 {
		*dst = v
	}
	return n
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n > 0 {
		*dst = append([]byte{}, v...)
	}
	return n
}

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeString(b)
	if n > 0 {
		*dst = v
	}
	return n
}

// wireCodec lets gRPC carry the envelopes without generated code.
type wireCodec struct{}

const wireCodecName = "ringkv"

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("wire: cannot marshal %T", v)
	}
	return m.marshalWire(), nil
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("wire: cannot unmarshal into %T", v)
	}
	return m.unmarshalWire(data)
}

func (wireCodec) Name() string { return wireCodecName }
