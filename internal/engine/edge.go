package engine

// Mask lists the indices of parents whose values an edge needs for
// evaluation. An empty mask means the edge can produce its value without
// touching any parent (typically a cache hit).
type Mask []int

// FullMask returns a mask selecting every parent of an edge with the given
// arity.
func FullMask(arity int) Mask {
	m := make(Mask, arity)
	for i := range m {
		m[i] = i
	}
	return m
}

// Edge is a computation attached to a node.
//
// PropagateHash derives the output hash from the parents' hashes and reports
// the evaluation mask. It must not run user code; the only permitted peek at
// data is leaf hash payloads (selector edges).
//
// Evaluate receives the values of exactly the masked parents, in mask order,
// together with the output hash PropagateHash produced.
//
// HashGraph returns the structural identity of the edge: it must depend on
// the edge's definition and the parents' structural hashes, never on concrete
// input values.
type Edge interface {
	Arity() int
	PropagateHash(inputs []Hash) (Hash, Mask, error)
	Evaluate(args []Value, mask Mask, out Hash) (Value, error)
	HashGraph(inputs []Hash) (Hash, error)
}

// Storage is the minimal cache surface a CacheEdge needs.
//
// Implementations must be safe for concurrent use. Set with a digest that is
// already stored must be a no-op so racing writers stay consistent.
type Storage interface {
	Contains(d Digest) (bool, error)
	Get(d Digest) (Value, error)
	Set(d Digest, v Value) error
}
