package pipeline

import (
	"fmt"

	"connectome/internal/engine"
)

// Def declares one derived slot of a Transform.
//
// Fn receives the values of Args in order. Inverse, when set, maps the
// derived value back to the (single) argument it came from; it is what makes
// the slot usable in backward and loopback graphs.
type Def struct {
	Name    string
	Args    []string
	Fn      engine.Function
	Inverse engine.Function
}

// Transform derives new slots from existing ones. Slots it does not define
// pass through unchanged.
type Transform struct {
	defs []Def
}

// NewTransform validates the definitions and builds the layer.
func NewTransform(defs ...Def) (*Transform, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("pipeline: transform needs at least one definition")
	}
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("pipeline: transform definition without a name")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("pipeline: duplicate definition for slot %q", d.Name)
		}
		seen[d.Name] = true
		if d.Fn == nil {
			return nil, fmt.Errorf("pipeline: definition %q has no function", d.Name)
		}
		if len(d.Args) == 0 {
			return nil, fmt.Errorf("pipeline: definition %q has no arguments", d.Name)
		}
		if d.Inverse != nil && len(d.Args) != 1 {
			return nil, fmt.Errorf("pipeline: definition %q is invertible but takes %d arguments", d.Name, len(d.Args))
		}
	}
	return &Transform{defs: defs}, nil
}

// MustTransform is NewTransform that panics on invalid definitions. Intended
// for statically declared pipelines.
func MustTransform(defs ...Def) *Transform {
	t, err := NewTransform(defs...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Transform) Requires() []string {
	var names []string
	seen := make(map[string]bool)
	for _, d := range t.defs {
		for _, a := range d.Args {
			if !seen[a] {
				seen[a] = true
				names = append(names, a)
			}
		}
	}
	return names
}

func (t *Transform) Provides() []string {
	names := make([]string, len(t.defs))
	for i, d := range t.defs {
		names[i] = d.Name
	}
	return names
}

func (t *Transform) Inverts() []string {
	var names []string
	for _, d := range t.defs {
		if d.Inverse != nil {
			names = append(names, d.Name)
		}
	}
	return names
}

func (t *Transform) forward(up namespace) (namespace, []engine.BoundEdge, error) {
	down := up.clone()
	edges := make([]engine.BoundEdge, 0, len(t.defs))
	for _, d := range t.defs {
		inputs := make([]*engine.Node, len(d.Args))
		for i, arg := range d.Args {
			// Arguments resolve against the upstream namespace, so a slot may
			// be redefined in terms of its previous value.
			n, ok := up[arg]
			if !ok {
				return nil, nil, fmt.Errorf("pipeline: definition %q requires unknown slot %q", d.Name, arg)
			}
			inputs[i] = n
		}
		out := engine.NewNode(d.Name)
		edge := engine.NewNamedFunctionEdge(d.Name, d.Fn, len(d.Args))
		be, err := engine.Bind(edge, inputs, out)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: wiring %q: %w", d.Name, err)
		}
		edges = append(edges, be)
		down[d.Name] = out
	}
	return down, edges, nil
}

func (t *Transform) backward(name string, node *engine.Node) (string, *engine.Node, []engine.BoundEdge, error) {
	for _, d := range t.defs {
		if d.Name != name {
			continue
		}
		if d.Inverse == nil {
			return "", nil, nil, fmt.Errorf("pipeline: definition %q has no inverse", d.Name)
		}
		out := engine.NewNode(d.Args[0])
		edge := engine.NewNamedFunctionEdge(d.Name+".inverse", d.Inverse, 1)
		be, err := engine.Bind(edge, []*engine.Node{node}, out)
		if err != nil {
			return "", nil, nil, fmt.Errorf("pipeline: wiring inverse of %q: %w", d.Name, err)
		}
		return d.Args[0], out, []engine.BoundEdge{be}, nil
	}
	return name, node, nil, nil
}
