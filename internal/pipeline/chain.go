package pipeline

import (
	"fmt"
	"sort"

	"connectome/internal/engine"
)

// Chain composes layers front to back. Slots provided by one layer are
// visible to every later layer; slots nobody provides become external inputs
// of the compiled graphs.
type Chain struct {
	layers []Layer
}

func NewChain(layers ...Layer) *Chain {
	return &Chain{layers: append([]Layer(nil), layers...)}
}

// Slice returns the sub-chain of layers [from, to).
func (c *Chain) Slice(from, to int) (*Chain, error) {
	if from < 0 || to > len(c.layers) || from > to {
		return nil, fmt.Errorf("pipeline: slice [%d:%d) out of range for %d layers", from, to, len(c.layers))
	}
	return &Chain{layers: c.layers[from:to]}, nil
}

// wire runs every layer forward and returns the final namespace, all bound
// edges, and the external input nodes, keyed by name.
func (c *Chain) wire() (namespace, []engine.BoundEdge, map[string]*engine.Node, error) {
	ns := namespace{}
	external := make(map[string]*engine.Node)
	var edges []engine.BoundEdge

	for i, l := range c.layers {
		// Required slots nobody provided yet become chain inputs.
		for _, name := range l.Requires() {
			if _, ok := ns[name]; ok {
				continue
			}
			n := engine.NewNode(name)
			ns[name] = n
			external[name] = n
		}
		down, added, err := l.forward(ns)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("pipeline: layer %d: %w", i, err)
		}
		ns = down
		edges = append(edges, added...)
	}
	return ns, edges, external, nil
}

// Outputs lists every slot visible after the last layer, sorted.
func (c *Chain) Outputs() ([]string, error) {
	ns, _, _, err := c.wire()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ns))
	for name := range ns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Graph compiles the chain into a graph computing the named slot. Unrelated
// inputs and edges are pruned during graph validation.
func (c *Chain) Graph(output string) (*engine.Graph, error) {
	ns, edges, external, err := c.wire()
	if err != nil {
		return nil, err
	}
	out, ok := ns[output]
	if !ok {
		return nil, fmt.Errorf("pipeline: no slot named %q", output)
	}
	inputs := make([]*engine.Node, 0, len(external))
	for _, n := range external {
		inputs = append(inputs, n)
	}
	return engine.NewGraph(inputs, out, edges)
}

// Backward compiles the inverse graph for a slot: it maps the chain's final
// representation of the slot back to its source representation, applying
// layer inverses in reverse order. Its single input carries the slot's name.
func (c *Chain) Backward(name string) (*engine.Graph, error) {
	in := engine.NewNode(name)
	out, edges, err := c.wireBackward(name, in)
	if err != nil {
		return nil, err
	}
	return engine.NewGraph([]*engine.Node{in}, out, edges)
}

func (c *Chain) wireBackward(name string, start *engine.Node) (*engine.Node, []engine.BoundEdge, error) {
	node := start
	var edges []engine.BoundEdge
	for i := len(c.layers) - 1; i >= 0; i-- {
		inv, ok := c.layers[i].(InvertibleLayer)
		if !ok {
			// Layers without inverses are transparent to the backward pass as
			// long as they do not define the slot being traced.
			for _, provided := range c.layers[i].Provides() {
				if provided == name {
					return nil, nil, fmt.Errorf("pipeline: layer %d defines %q but cannot invert it", i, name)
				}
			}
			continue
		}
		upName, upNode, added, err := inv.backward(name, node)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: layer %d inverse: %w", i, err)
		}
		name, node = upName, upNode
		edges = append(edges, added...)
	}
	return node, edges, nil
}

// Loopback compiles a graph that computes args forward through the chain,
// applies fn to them, and maps the result backward as if it were the chain's
// final representation of output.
func (c *Chain) Loopback(fn engine.Function, args []string, output string) (*engine.Graph, error) {
	if fn == nil {
		return nil, fmt.Errorf("pipeline: loopback needs a function")
	}
	ns, edges, external, err := c.wire()
	if err != nil {
		return nil, err
	}

	inputs := make([]*engine.Node, len(args))
	for i, arg := range args {
		n, ok := ns[arg]
		if !ok {
			return nil, fmt.Errorf("pipeline: no slot named %q", arg)
		}
		inputs[i] = n
	}

	mid := engine.NewNode(output + ".loopback")
	edge := engine.NewNamedFunctionEdge(output+".loopback", fn, len(args))
	be, err := engine.Bind(edge, inputs, mid)
	if err != nil {
		return nil, err
	}
	edges = append(edges, be)

	out, backEdges, err := c.wireBackward(output, mid)
	if err != nil {
		return nil, err
	}
	edges = append(edges, backEdges...)

	graphInputs := make([]*engine.Node, 0, len(external))
	for _, n := range external {
		graphInputs = append(graphInputs, n)
	}
	return engine.NewGraph(graphInputs, out, edges)
}
