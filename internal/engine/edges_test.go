package engine

import (
	"errors"
	"testing"
)

// mapStorage is a minimal in-test Storage.
type mapStorage struct {
	entries map[Digest]Value
	sets    int
}

func newMapStorage() *mapStorage {
	return &mapStorage{entries: make(map[Digest]Value)}
}

func (s *mapStorage) Contains(d Digest) (bool, error) {
	_, ok := s.entries[d]
	return ok, nil
}

func (s *mapStorage) Get(d Digest) (Value, error) {
	v, ok := s.entries[d]
	if !ok {
		return nil, errors.New("missing entry")
	}
	return v, nil
}

func (s *mapStorage) Set(d Digest, v Value) error {
	if _, ok := s.entries[d]; ok {
		return nil
	}
	s.entries[d] = v
	s.sets++
	return nil
}

func cachedGraph(t *testing.T, storage Storage, calls *int) *Graph {
	t.Helper()
	counted := func(args ...Value) (Value, error) {
		*calls++
		return args[0].(int) * 2, nil
	}

	x := NewNode("x")
	mid := NewNode("mid")
	out := NewNode("out")
	g, err := NewGraph(
		[]*Node{x},
		out,
		[]BoundEdge{
			MustBind(NewNamedFunctionEdge("counted-double", counted, 1), []*Node{x}, mid),
			MustBind(NewCacheEdge(storage), []*Node{mid}, out),
		},
	)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	return g
}

func TestCacheEdge_SecondCallSkipsEvaluation(t *testing.T) {
	storage := newMapStorage()
	calls := 0
	g := cachedGraph(t, storage, &calls)

	for i := 0; i < 2; i++ {
		v, err := g.Call(map[string]Value{"x": 21})
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if v != 42 {
			t.Fatalf("call %d: expected 42, got %v", i, v)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one evaluation, got %d", calls)
	}
	if storage.sets != 1 {
		t.Fatalf("expected one store, got %d", storage.sets)
	}
}

func TestCacheEdge_DistinctInputsAreDistinctEntries(t *testing.T) {
	storage := newMapStorage()
	calls := 0
	g := cachedGraph(t, storage, &calls)

	for _, x := range []int{1, 2, 1, 2} {
		if _, err := g.Call(map[string]Value{"x": x}); err != nil {
			t.Fatalf("call failed: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected two evaluations, got %d", calls)
	}
}

func TestCacheEdge_TransparentIdentity(t *testing.T) {
	storage := newMapStorage()
	calls := 0
	cached := cachedGraph(t, storage, &calls)

	counted := func(args ...Value) (Value, error) {
		return args[0].(int) * 2, nil
	}
	x := NewNode("x")
	out := NewNode("out")
	plain, err := NewGraph(
		[]*Node{x},
		out,
		[]BoundEdge{MustBind(NewNamedFunctionEdge("counted-double", counted, 1), []*Node{x}, out)},
	)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	ha, err := cached.OutputHash(map[string]Value{"x": 7})
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	hb, err := plain.OutputHash(map[string]Value{"x": 7})
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if ha.Digest() != hb.Digest() {
		t.Fatalf("cache edge must not change the output hash: %s != %s", ha.Digest(), hb.Digest())
	}
}

func TestSwitchProjection_SelectsSingleBranch(t *testing.T) {
	upper := func(args ...Value) (Value, error) { return "U:" + args[0].(string), nil }
	lower := func(args ...Value) (Value, error) { return "L:" + args[0].(string), nil }

	build := func() *Graph {
		id := NewNode("id")
		guardA := NewNode("guard-a")
		guardB := NewNode("guard-b")
		branchA := NewNode("branch-a")
		branchB := NewNode("branch-b")
		product := NewNode("product")
		out := NewNode("out")

		isA := func(key Value) (bool, error) { return key.(string) < "m", nil }
		isB := func(key Value) (bool, error) { return key.(string) >= "m", nil }

		g, err := NewGraph(
			[]*Node{id},
			out,
			[]BoundEdge{
				MustBind(NewSwitchEdge("first-half", isA), []*Node{id}, guardA),
				MustBind(NewSwitchEdge("second-half", isB), []*Node{id}, guardB),
				MustBind(NewNamedFunctionEdge("upper", upper, 1), []*Node{guardA}, branchA),
				MustBind(NewNamedFunctionEdge("lower", lower, 1), []*Node{guardB}, branchB),
				MustBind(NewProductEdge(2), []*Node{branchA, branchB}, product),
				MustBind(NewProjectionEdge(), []*Node{product}, out),
			},
		)
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		return g
	}

	g := build()
	v, err := g.Call(map[string]Value{"id": "abc"})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if v != "U:abc" {
		t.Fatalf("expected first branch, got %v", v)
	}

	v, err = g.Call(map[string]Value{"id": "xyz"})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if v != "L:xyz" {
		t.Fatalf("expected second branch, got %v", v)
	}
}

func TestSwitchProjection_HashMatchesUnguardedBranch(t *testing.T) {
	// The projected hash must equal the hash of the surviving branch alone, so
	// caches installed before a merge stay valid after it.
	upper := func(args ...Value) (Value, error) { return args[0], nil }

	guarded := func() *Graph {
		id := NewNode("id")
		guard := NewNode("guard")
		branch := NewNode("branch")
		other := NewNode("other")
		product := NewNode("product")
		out := NewNode("out")

		always := func(Value) (bool, error) { return true, nil }
		never := func(Value) (bool, error) { return false, nil }

		g, err := NewGraph(
			[]*Node{id},
			out,
			[]BoundEdge{
				MustBind(NewSwitchEdge("yes", always), []*Node{id}, guard),
				MustBind(NewSwitchEdge("no", never), []*Node{id}, other),
				MustBind(NewNamedFunctionEdge("upper", upper, 1), []*Node{guard}, branch),
				MustBind(NewProductEdge(2), []*Node{branch, other}, product),
				MustBind(NewProjectionEdge(), []*Node{product}, out),
			},
		)
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		return g
	}()

	plain := func() *Graph {
		id := NewNode("id")
		out := NewNode("out")
		g, err := NewGraph(
			[]*Node{id},
			out,
			[]BoundEdge{MustBind(NewNamedFunctionEdge("upper", upper, 1), []*Node{id}, out)},
		)
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		return g
	}()

	hg, err := guarded.OutputHash(map[string]Value{"id": "abc"})
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	hp, err := plain.OutputHash(map[string]Value{"id": "abc"})
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if hg.Digest() != hp.Digest() {
		t.Fatalf("projection must preserve the surviving branch hash: %s != %s", hg.Digest(), hp.Digest())
	}
}

func TestProjection_RejectsAmbiguousSelection(t *testing.T) {
	id := NewNode("id")
	guardA := NewNode("guard-a")
	guardB := NewNode("guard-b")
	product := NewNode("product")
	out := NewNode("out")

	always := func(Value) (bool, error) { return true, nil }

	g, err := NewGraph(
		[]*Node{id},
		out,
		[]BoundEdge{
			MustBind(NewSwitchEdge("a", always), []*Node{id}, guardA),
			MustBind(NewSwitchEdge("b", always), []*Node{id}, guardB),
			MustBind(NewProductEdge(2), []*Node{guardA, guardB}, product),
			MustBind(NewProjectionEdge(), []*Node{product}, out),
		},
	)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if _, err := g.Call(map[string]Value{"id": "k"}); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph for two selected branches, got %v", err)
	}
}
