package engine

import (
	"reflect"
	"runtime"
)

// Function is a pure function attached to a FunctionEdge. Arguments arrive in
// parent order.
type Function func(args ...Value) (Value, error)

// FunctionEdge applies a named pure function to its parents' values.
//
// The name participates in hash propagation: two edges with different names
// never collide in the cache even when wired identically. By default the name
// is the function's runtime symbol, which is stable for package-level
// functions; closures should be given an explicit name via NewNamedFunctionEdge.
type FunctionEdge struct {
	name  string
	arity int
	fn    Function
}

// NewFunctionEdge creates a FunctionEdge named after the function's runtime
// symbol.
func NewFunctionEdge(fn Function, arity int) *FunctionEdge {
	return NewNamedFunctionEdge(functionName(fn), fn, arity)
}

// NewNamedFunctionEdge creates a FunctionEdge with an explicit name.
func NewNamedFunctionEdge(name string, fn Function, arity int) *FunctionEdge {
	return &FunctionEdge{name: name, arity: arity, fn: fn}
}

func functionName(fn Function) string {
	if fn == nil {
		return "<nil>"
	}
	return runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
}

func (e *FunctionEdge) Arity() int { return e.arity }

func (e *FunctionEdge) PropagateHash(inputs []Hash) (Hash, Mask, error) {
	if anyNothingHash(inputs) {
		return MustLeafHash(Nothing), FullMask(e.arity), nil
	}
	children := make([]Hash, 0, len(inputs)+1)
	children = append(children, MustLeafHash(e.name))
	children = append(children, inputs...)
	return NewCompoundHash(KindFunction, children...), FullMask(e.arity), nil
}

func (e *FunctionEdge) Evaluate(args []Value, _ Mask, _ Hash) (Value, error) {
	if anyNothing(args) {
		return Nothing, nil
	}
	return e.fn(args...)
}

func (e *FunctionEdge) HashGraph(inputs []Hash) (Hash, error) {
	children := make([]Hash, 0, len(inputs)+1)
	children = append(children, MustLeafHash(e.name))
	children = append(children, inputs...)
	return NewCompoundHash(KindFunction, children...), nil
}

// IdentityEdge forwards its single parent untouched. It exists so layers can
// rewire node namespaces without disturbing hashes.
type IdentityEdge struct{}

func NewIdentityEdge() *IdentityEdge { return &IdentityEdge{} }

func (e *IdentityEdge) Arity() int { return 1 }

func (e *IdentityEdge) PropagateHash(inputs []Hash) (Hash, Mask, error) {
	return inputs[0], FullMask(1), nil
}

func (e *IdentityEdge) Evaluate(args []Value, _ Mask, _ Hash) (Value, error) {
	return args[0], nil
}

func (e *IdentityEdge) HashGraph(inputs []Hash) (Hash, error) {
	return inputs[0], nil
}

// ConstantEdge produces a fixed value.
type ConstantEdge struct {
	value Value
	hash  *LeafHash
}

func NewConstantEdge(v Value) (*ConstantEdge, error) {
	h, err := NewLeafHash(v)
	if err != nil {
		return nil, err
	}
	return &ConstantEdge{value: v, hash: h}, nil
}

func (e *ConstantEdge) Arity() int { return 0 }

func (e *ConstantEdge) PropagateHash([]Hash) (Hash, Mask, error) {
	return e.hash, Mask{}, nil
}

func (e *ConstantEdge) Evaluate([]Value, Mask, Hash) (Value, error) {
	return e.value, nil
}

func (e *ConstantEdge) HashGraph([]Hash) (Hash, error) {
	return e.hash, nil
}

// ProductEdge packs its parents' values into a slice.
type ProductEdge struct {
	arity int
}

func NewProductEdge(arity int) *ProductEdge { return &ProductEdge{arity: arity} }

func (e *ProductEdge) Arity() int { return e.arity }

func (e *ProductEdge) PropagateHash(inputs []Hash) (Hash, Mask, error) {
	return NewCompoundHash(KindProduct, inputs...), FullMask(e.arity), nil
}

func (e *ProductEdge) Evaluate(args []Value, _ Mask, _ Hash) (Value, error) {
	out := make([]Value, len(args))
	copy(out, args)
	return out, nil
}

func (e *ProductEdge) HashGraph(inputs []Hash) (Hash, error) {
	return NewCompoundHash(KindProduct, inputs...), nil
}

// Selector decides whether a switch branch accepts a key.
type Selector func(key Value) (bool, error)

// SwitchEdge guards a branch: when the selector rejects the key the branch
// collapses to Nothing, in hashes and values alike.
//
// The selector inspects the key through its leaf hash payload, so the guarded
// parent must be a concrete graph input (or otherwise carry a leaf hash).
type SwitchEdge struct {
	name     string
	selector Selector
}

func NewSwitchEdge(name string, selector Selector) *SwitchEdge {
	return &SwitchEdge{name: name, selector: selector}
}

func (e *SwitchEdge) Arity() int { return 1 }

func (e *SwitchEdge) PropagateHash(inputs []Hash) (Hash, Mask, error) {
	leaf, ok := inputs[0].(*LeafHash)
	if !ok {
		return nil, nil, invalidf("switch %q requires a concrete key, got a derived hash", e.name)
	}
	selected, err := e.selector(leaf.Data())
	if err != nil {
		return nil, nil, err
	}
	if !selected {
		return MustLeafHash(Nothing), FullMask(1), nil
	}
	return inputs[0], FullMask(1), nil
}

func (e *SwitchEdge) Evaluate(args []Value, _ Mask, out Hash) (Value, error) {
	if leaf, ok := out.(*LeafHash); ok && IsNothing(leaf.Data()) {
		return Nothing, nil
	}
	return args[0], nil
}

func (e *SwitchEdge) HashGraph(inputs []Hash) (Hash, error) {
	return NewCompoundHash(KindMerge, MustLeafHash(e.name), inputs[0]), nil
}

// ProjectionEdge reduces a product to its single non-Nothing element. It is
// the counterpart of SwitchEdge: of all guarded branches exactly one may
// survive.
type ProjectionEdge struct{}

func NewProjectionEdge() *ProjectionEdge { return &ProjectionEdge{} }

func (e *ProjectionEdge) Arity() int { return 1 }

func (e *ProjectionEdge) PropagateHash(inputs []Hash) (Hash, Mask, error) {
	product, ok := inputs[0].(*CompoundHash)
	if !ok || product.Kind() != KindProduct {
		return nil, nil, invalidf("projection requires a product hash, got %T", inputs[0])
	}

	var real []Hash
	for _, child := range product.Children() {
		if leaf, ok := child.(*LeafHash); ok && IsNothing(leaf.Data()) {
			continue
		}
		real = append(real, child)
	}
	if len(real) != 1 {
		return nil, nil, invalidf("projection expects exactly one selected branch, got %d", len(real))
	}
	return real[0], FullMask(1), nil
}

func (e *ProjectionEdge) Evaluate(args []Value, _ Mask, _ Hash) (Value, error) {
	product, ok := args[0].([]Value)
	if !ok {
		return nil, invalidf("projection requires a product value, got %T", args[0])
	}

	var real []Value
	for _, v := range product {
		if IsNothing(v) {
			continue
		}
		real = append(real, v)
	}
	if len(real) != 1 {
		return nil, invalidf("projection expects exactly one selected value, got %d", len(real))
	}
	return real[0], nil
}

func (e *ProjectionEdge) HashGraph(inputs []Hash) (Hash, error) {
	return NewCompoundHash(KindMerge, inputs[0]), nil
}

// CacheEdge makes its parent's value cacheable under the parent's hash.
//
// On hash propagation it consults the storage: a hit yields an empty mask, so
// the parent subtree is never evaluated. On a miss the computed value is
// stored before being returned.
//
// CacheEdge is structurally transparent: it does not alter hashes, so adding
// or removing a cache never invalidates downstream keys.
type CacheEdge struct {
	storage Storage
}

func NewCacheEdge(storage Storage) *CacheEdge { return &CacheEdge{storage: storage} }

func (e *CacheEdge) Arity() int { return 1 }

func (e *CacheEdge) PropagateHash(inputs []Hash) (Hash, Mask, error) {
	h := inputs[0]
	if leaf, ok := h.(*LeafHash); ok && IsNothing(leaf.Data()) {
		return h, FullMask(1), nil
	}
	hit, err := e.storage.Contains(h.Digest())
	if err != nil {
		return nil, nil, err
	}
	if hit {
		return h, Mask{}, nil
	}
	return h, FullMask(1), nil
}

func (e *CacheEdge) Evaluate(args []Value, _ Mask, out Hash) (Value, error) {
	// No arguments means the value is already stored.
	if len(args) == 0 {
		return e.storage.Get(out.Digest())
	}

	v := args[0]
	if IsNothing(v) {
		return v, nil
	}
	if err := e.storage.Set(out.Digest(), v); err != nil {
		return nil, err
	}
	return v, nil
}

func (e *CacheEdge) HashGraph(inputs []Hash) (Hash, error) {
	return inputs[0], nil
}
