package engine

// Value is an arbitrary datum flowing through the graph.
type Value = any

type nothingType struct{}

func (nothingType) String() string { return "Nothing" }

// Nothing is a unity-like value propagated through functional edges when a
// branch of the graph is not selected. Functional edges short-circuit instead
// of calling the user function when any argument is Nothing.
var Nothing Value = nothingType{}

// IsNothing reports whether v is the Nothing sentinel.
func IsNothing(v Value) bool {
	_, ok := v.(nothingType)
	return ok
}

func anyNothing(values []Value) bool {
	for _, v := range values {
		if IsNothing(v) {
			return true
		}
	}
	return false
}

func anyNothingHash(hashes []Hash) bool {
	for _, h := range hashes {
		if leaf, ok := h.(*LeafHash); ok && IsNothing(leaf.Data()) {
			return true
		}
	}
	return false
}
