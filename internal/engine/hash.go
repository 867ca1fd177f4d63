package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
)

// Digest is the hex-encoded sha256 identity of a node hash.
//
// It is stable across processes and architectures, which is what allows
// digests to address entries in persistent caches.
type Digest string

// String returns the string representation of the Digest.
func (d Digest) String() string { return string(d) }

// Hashable lets custom value types participate in leaf hashing.
//
// ContentHash must return a deterministic encoding of the value's content.
// Two values with equal content must return equal bytes.
type Hashable interface {
	ContentHash() []byte
}

// Hash is a node hash: the deterministic identity of the value a node
// produces. Leaf hashes wrap concrete input values; compound hashes combine
// children under a kind tag.
type Hash interface {
	Digest() Digest
}

// CompoundKind tags the combination rule that produced a compound hash.
//
// The byte values are part of the digest encoding; do not renumber.
type CompoundKind byte

const (
	KindFunction CompoundKind = iota + 1
	KindProduct
	KindMerge
	KindMapping
	KindGrouping
	KindGraph
)

func (k CompoundKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindProduct:
		return "product"
	case KindMerge:
		return "merge"
	case KindMapping:
		return "mapping"
	case KindGrouping:
		return "grouping"
	case KindGraph:
		return "graph"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// LeafHash is the hash of a concrete value entering the graph.
//
// The wrapped value stays reachable so selector edges can inspect it without
// forcing a separate evaluation pass.
type LeafHash struct {
	value  Value
	digest Digest
}

// NewLeafHash hashes a concrete value.
//
// Supported value types: nil, bool, string, signed/unsigned integers, float64,
// []byte, the Nothing sentinel and any Hashable implementation. Other types
// return ErrUnhashable: silently hashing them (e.g. via their Go
// representation) would not be stable across processes.
func NewLeafHash(v Value) (*LeafHash, error) {
	enc, err := encodeLeaf(v)
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	writeField(h, []byte{leafTag})
	writeField(h, enc)
	return &LeafHash{value: v, digest: Digest(hex.EncodeToString(h.Sum(nil)))}, nil
}

// MustLeafHash is NewLeafHash for values known to be hashable (internal
// sentinels, string ids). It panics on unhashable input.
func MustLeafHash(v Value) *LeafHash {
	h, err := NewLeafHash(v)
	if err != nil {
		panic(err)
	}
	return h
}

// Digest returns the leaf digest.
func (h *LeafHash) Digest() Digest { return h.digest }

// Data returns the wrapped value.
func (h *LeafHash) Data() Value { return h.value }

// CompoundHash combines child hashes under a kind tag.
type CompoundHash struct {
	kind     CompoundKind
	children []Hash
	digest   Digest
}

// NewCompoundHash builds a compound hash from children.
//
// The digest covers the kind tag and every child digest in order, so sibling
// order is significant.
func NewCompoundHash(kind CompoundKind, children ...Hash) *CompoundHash {
	h := sha256.New()
	writeField(h, []byte{compoundTag, byte(kind)})
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(children)))
	writeField(h, count[:])
	for _, c := range children {
		writeField(h, []byte(c.Digest()))
	}
	return &CompoundHash{
		kind:     kind,
		children: children,
		digest:   Digest(hex.EncodeToString(h.Sum(nil))),
	}
}

// Digest returns the compound digest.
func (h *CompoundHash) Digest() Digest { return h.digest }

// Kind returns the combination rule tag.
func (h *CompoundHash) Kind() CompoundKind { return h.kind }

// Children returns the child hashes in combination order.
func (h *CompoundHash) Children() []Hash {
	out := make([]Hash, len(h.children))
	copy(out, h.children)
	return out
}

const (
	leafTag     byte = 0x01
	compoundTag byte = 0x02
)

// writeField writes a length-prefixed field so concatenated fields can never
// be ambiguous.
func writeField(h interface{ Write([]byte) (int, error) }, data []byte) {
	var lengthBytes [8]byte
	binary.BigEndian.PutUint64(lengthBytes[:], uint64(len(data)))
	h.Write(lengthBytes[:])
	h.Write(data)
}

func encodeLeaf(v Value) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return []byte{0x00}, nil
	case nothingType:
		return []byte{0x0f}, nil
	case bool:
		if x {
			return []byte{0x01, 1}, nil
		}
		return []byte{0x01, 0}, nil
	case string:
		return append([]byte{0x02}, x...), nil
	case []byte:
		return append([]byte{0x03}, x...), nil
	case int:
		return encodeInt(int64(x)), nil
	case int8:
		return encodeInt(int64(x)), nil
	case int16:
		return encodeInt(int64(x)), nil
	case int32:
		return encodeInt(int64(x)), nil
	case int64:
		return encodeInt(x), nil
	case uint:
		return encodeUint(uint64(x)), nil
	case uint8:
		return encodeUint(uint64(x)), nil
	case uint16:
		return encodeUint(uint64(x)), nil
	case uint32:
		return encodeUint(uint64(x)), nil
	case uint64:
		return encodeUint(x), nil
	case float64:
		var buf [9]byte
		buf[0] = 0x06
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(x))
		return buf[:], nil
	case []string:
		// Common case for id tuples. Order is significant.
		h := sha256.New()
		for _, s := range x {
			writeField(h, []byte(s))
		}
		return append([]byte{0x07}, h.Sum(nil)...), nil
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h := sha256.New()
		for _, k := range keys {
			writeField(h, []byte(k))
			writeField(h, []byte(x[k]))
		}
		return append([]byte{0x08}, h.Sum(nil)...), nil
	case Hashable:
		return append([]byte{0x09}, x.ContentHash()...), nil
	default:
		return nil, unhashablef("value of type %T", v)
	}
}

func encodeInt(x int64) []byte {
	var buf [9]byte
	buf[0] = 0x04
	binary.BigEndian.PutUint64(buf[1:], uint64(x))
	return buf[:]
}

func encodeUint(x uint64) []byte {
	var buf [9]byte
	buf[0] = 0x05
	binary.BigEndian.PutUint64(buf[1:], x)
	return buf[:]
}
