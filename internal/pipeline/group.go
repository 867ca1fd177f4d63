package pipeline

import (
	"fmt"

	"connectome/internal/engine"
)

// MappingEdge applies a captured single-input graph to every element of a
// slice value. The output hash combines the graph's structural identity with
// the input hash, so editing the mapped computation invalidates downstream
// cache entries while reordering unrelated layers does not.
type MappingEdge struct {
	name     string
	sub      *engine.Graph
	arg      string
	identity engine.Hash
}

func NewMappingEdge(name string, sub *engine.Graph) (*MappingEdge, error) {
	inputs := sub.Inputs()
	if len(inputs) != 1 {
		return nil, fmt.Errorf("pipeline: mapping %q needs a single-input graph, got inputs %v", name, inputs)
	}
	identity, err := sub.Identity()
	if err != nil {
		return nil, fmt.Errorf("pipeline: mapping %q: %w", name, err)
	}
	return &MappingEdge{name: name, sub: sub, arg: inputs[0], identity: identity}, nil
}

func (e *MappingEdge) Arity() int { return 1 }

func (e *MappingEdge) PropagateHash(inputs []engine.Hash) (engine.Hash, engine.Mask, error) {
	if leaf, ok := inputs[0].(*engine.LeafHash); ok && engine.IsNothing(leaf.Data()) {
		return inputs[0], engine.FullMask(1), nil
	}
	h := engine.NewCompoundHash(engine.KindMapping, engine.MustLeafHash(e.name), e.identity, inputs[0])
	return h, engine.FullMask(1), nil
}

func (e *MappingEdge) Evaluate(args []engine.Value, _ engine.Mask, _ engine.Hash) (engine.Value, error) {
	if engine.IsNothing(args[0]) {
		return engine.Nothing, nil
	}
	elements, ok := args[0].([]engine.Value)
	if !ok {
		return nil, fmt.Errorf("pipeline: mapping %q requires a slice, got %T", e.name, args[0])
	}
	out := make([]engine.Value, len(elements))
	for i, el := range elements {
		v, err := e.sub.Call(map[string]engine.Value{e.arg: el})
		if err != nil {
			return nil, fmt.Errorf("pipeline: mapping %q element %d: %w", e.name, i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *MappingEdge) HashGraph(inputs []engine.Hash) (engine.Hash, error) {
	return engine.NewCompoundHash(engine.KindMapping, engine.MustLeafHash(e.name), e.identity, inputs[0]), nil
}

// GroupEdge collects parallel key and value slices into a map from each
// distinct key to the values that share it, preserving encounter order
// within a group.
type GroupEdge struct {
	name string
}

func NewGroupEdge(name string) *GroupEdge { return &GroupEdge{name: name} }

func (e *GroupEdge) Arity() int { return 2 }

func (e *GroupEdge) PropagateHash(inputs []engine.Hash) (engine.Hash, engine.Mask, error) {
	for _, h := range inputs {
		if leaf, ok := h.(*engine.LeafHash); ok && engine.IsNothing(leaf.Data()) {
			return engine.MustLeafHash(engine.Nothing), engine.FullMask(2), nil
		}
	}
	children := append([]engine.Hash{engine.MustLeafHash(e.name)}, inputs...)
	return engine.NewCompoundHash(engine.KindGrouping, children...), engine.FullMask(2), nil
}

func (e *GroupEdge) Evaluate(args []engine.Value, _ engine.Mask, _ engine.Hash) (engine.Value, error) {
	if engine.IsNothing(args[0]) || engine.IsNothing(args[1]) {
		return engine.Nothing, nil
	}
	keys, ok := args[0].([]engine.Value)
	if !ok {
		return nil, fmt.Errorf("pipeline: grouping %q requires a key slice, got %T", e.name, args[0])
	}
	values, ok := args[1].([]engine.Value)
	if !ok {
		return nil, fmt.Errorf("pipeline: grouping %q requires a value slice, got %T", e.name, args[1])
	}
	if len(keys) != len(values) {
		return nil, fmt.Errorf("pipeline: grouping %q got %d keys for %d values", e.name, len(keys), len(values))
	}
	groups := make(map[string][]engine.Value)
	for i, k := range keys {
		key, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("pipeline: grouping %q requires string keys, got %T", e.name, k)
		}
		groups[key] = append(groups[key], values[i])
	}
	return groups, nil
}

func (e *GroupEdge) HashGraph(inputs []engine.Hash) (engine.Hash, error) {
	children := append([]engine.Hash{engine.MustLeafHash(e.name)}, inputs...)
	return engine.NewCompoundHash(engine.KindGrouping, children...), nil
}

// MapOver is a layer applying sub to every element of the arg slot.
func MapOver(name string, sub *engine.Graph, arg string) (Layer, error) {
	edge, err := NewMappingEdge(name, sub)
	if err != nil {
		return nil, err
	}
	return &edgeLayer{name: name, args: []string{arg}, edge: edge}, nil
}

// GroupBy is a layer grouping the values slot by the parallel keys slot.
func GroupBy(name, keys, values string) Layer {
	return &edgeLayer{name: name, args: []string{keys, values}, edge: NewGroupEdge(name)}
}
