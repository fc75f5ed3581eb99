package ringkv

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key is a position on the ring. Both peers and items are addressed by it.
type Key uint64

// HashFunc maps arbitrary bytes onto the 64-bit key domain. It must be
// deterministic and well distributed.
type HashFunc func([]byte) uint64

const (
	identityPrefix = "NODE:"
	// mixing multiplier applied to the second hash round
	mixMultiplier uint64 = 1315423911
)

// KeySpace derives ring keys for peers and items from a HashFunc.
type KeySpace struct {
	hash HashFunc
}

// NewKeySpace returns a KeySpace using h, or xxhash when h is nil.
func NewKeySpace(h HashFunc) *KeySpace {
	if h == nil {
		h = xxhash.Sum64
	}
	return &KeySpace{hash: h}
}

/* Function: 	IdentityKey
 *
 * Description:
 * 		Derive the ring key of a peer from its label.
 */
func (ks *KeySpace) IdentityKey(label string) Key {
	return Key(ks.hash([]byte(identityPrefix + label)))
}

/* Function: 	ItemKey
 *
 * Description:
 * 		Derive the key of a data item from its identifying fields. Each field
 * 		is framed with a uvarint length so that ("ab", "c") and ("a", "bc")
 * 		hash differently. The first hash is re-encoded in base 36 and hashed
 * 		again, and both rounds are mixed to spread clustered inputs.
 */
func (ks *KeySpace) ItemKey(fields ...string) Key {
	h1 := ks.hash(frameFields(fields))
	h2 := ks.hash([]byte(strings.ToUpper(strconv.FormatUint(h1, 36))))
	return Key(h1 + h2*mixMultiplier)
}

func frameFields(fields []string) []byte {
	size := 0
	for _, f := range fields {
		size += binary.MaxVarintLen64 + len(f)
	}
	buf := make([]byte, 0, size)
	for _, f := range fields {
		buf = binary.AppendUvarint(buf, uint64(len(f)))
		buf = append(buf, f...)
	}
	return buf
}
