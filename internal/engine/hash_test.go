package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"
)

func TestLeafHash_Deterministic(t *testing.T) {
	cases := []struct {
		name string
		v    Value
	}{
		{"nil", nil},
		{"bool", true},
		{"string", "abc"},
		{"int", 42},
		{"int64", int64(42)},
		{"uint", uint(7)},
		{"float", 3.5},
		{"bytes", []byte{1, 2, 3}},
		{"nothing", Nothing},
		{"string-slice", []string{"a", "b"}},
		{"string-map", map[string]string{"k": "v", "a": "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := NewLeafHash(tc.v)
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			b, err := NewLeafHash(tc.v)
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if a.Digest() != b.Digest() {
				t.Fatalf("digest not deterministic: %s != %s", a.Digest(), b.Digest())
			}
			if a.Digest() == "" {
				t.Fatalf("empty digest")
			}
		})
	}
}

func TestLeafHash_TypeTagsDisambiguate(t *testing.T) {
	a := MustLeafHash("1")
	b := MustLeafHash(1)
	c := MustLeafHash([]byte("1"))
	if a.Digest() == b.Digest() || a.Digest() == c.Digest() || b.Digest() == c.Digest() {
		t.Fatalf("values of different types must not collide: %s %s %s", a.Digest(), b.Digest(), c.Digest())
	}
}

func TestCompoundHash_FixedWidthChildCount(t *testing.T) {
	a := MustLeafHash("a")
	b := MustLeafHash("b")
	comp := NewCompoundHash(KindProduct, a, b)

	h := sha256.New()
	writeField(h, []byte{compoundTag, byte(KindProduct)})
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], 2)
	writeField(h, count[:])
	writeField(h, []byte(a.Digest()))
	writeField(h, []byte(b.Digest()))
	want := Digest(hex.EncodeToString(h.Sum(nil)))

	if comp.Digest() != want {
		t.Fatalf("compound digest drifted from the field layout: %s != %s", comp.Digest(), want)
	}
}

func TestLeafHash_MapOrderInsensitive(t *testing.T) {
	a := MustLeafHash(map[string]string{"x": "1", "y": "2", "z": "3"})
	b := MustLeafHash(map[string]string{"z": "3", "x": "1", "y": "2"})
	if a.Digest() != b.Digest() {
		t.Fatalf("map hashing must not depend on iteration order")
	}
}

func TestLeafHash_Unhashable(t *testing.T) {
	type opaque struct{ x int }
	_, err := NewLeafHash(opaque{1})
	if !errors.Is(err, ErrUnhashable) {
		t.Fatalf("expected ErrUnhashable, got %v", err)
	}
}

type stamped []byte

func (s stamped) ContentHash() []byte { return s }

func TestLeafHash_HashableInterface(t *testing.T) {
	a, err := NewLeafHash(stamped("payload"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	b := MustLeafHash(stamped("payload"))
	if a.Digest() != b.Digest() {
		t.Fatalf("Hashable values with equal content must agree")
	}
	c := MustLeafHash(stamped("other"))
	if a.Digest() == c.Digest() {
		t.Fatalf("Hashable values with different content must differ")
	}
}

func TestCompoundHash_OrderAndKindSensitive(t *testing.T) {
	a := MustLeafHash("a")
	b := MustLeafHash("b")

	ab := NewCompoundHash(KindFunction, a, b)
	ba := NewCompoundHash(KindFunction, b, a)
	if ab.Digest() == ba.Digest() {
		t.Fatalf("child order must be significant")
	}

	prod := NewCompoundHash(KindProduct, a, b)
	if ab.Digest() == prod.Digest() {
		t.Fatalf("kind must be significant")
	}

	again := NewCompoundHash(KindFunction, a, b)
	if ab.Digest() != again.Digest() {
		t.Fatalf("compound digest must be deterministic")
	}
}

func TestCompoundHash_NotConfusableWithLeaf(t *testing.T) {
	leaf := MustLeafHash("x")
	comp := NewCompoundHash(KindProduct, leaf)
	if leaf.Digest() == comp.Digest() {
		t.Fatalf("leaf and compound encodings must not collide")
	}
}
