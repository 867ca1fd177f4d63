// Package pipeline composes named computation layers into lazily evaluated
// graphs. A chain of layers exposes a namespace of slots; compiling a slot
// yields an engine.Graph that computes it from the chain's external inputs.
package pipeline

import (
	"fmt"

	"connectome/internal/engine"
)

// namespace maps slot names to the graph nodes currently carrying them.
type namespace map[string]*engine.Node

func (ns namespace) clone() namespace {
	out := make(namespace, len(ns))
	for k, v := range ns {
		out[k] = v
	}
	return out
}

// Layer is one segment of a chain. Layers are wired back to front: forward
// receives the upstream namespace and returns the namespace visible to the
// next layer plus the edges it added.
type Layer interface {
	// Requires lists the slots the layer reads.
	Requires() []string

	// Provides lists the slots the layer defines or rewrites.
	Provides() []string

	forward(up namespace) (namespace, []engine.BoundEdge, error)
}

// InvertibleLayer is a Layer that can also map (some of) its outputs back to
// the values they were derived from.
type InvertibleLayer interface {
	Layer

	// Inverts lists the slots backward can map.
	Inverts() []string

	// backward maps one slot from the layer's output representation to its
	// upstream representation. node carries the downstream value; the layer
	// returns the upstream slot name and the node carrying its value. Layers
	// that do not touch the slot return it unchanged with no edges.
	backward(name string, node *engine.Node) (string, *engine.Node, []engine.BoundEdge, error)
}

// edgeLayer wires a single edge producing one slot. It is the building block
// for cache, grouping and mapping layers.
type edgeLayer struct {
	name string
	args []string
	edge engine.Edge
}

func (l *edgeLayer) Requires() []string { return append([]string(nil), l.args...) }

func (l *edgeLayer) Provides() []string { return []string{l.name} }

func (l *edgeLayer) forward(up namespace) (namespace, []engine.BoundEdge, error) {
	inputs := make([]*engine.Node, len(l.args))
	for i, arg := range l.args {
		n, ok := up[arg]
		if !ok {
			return nil, nil, fmt.Errorf("pipeline: layer %q requires unknown slot %q", l.name, arg)
		}
		inputs[i] = n
	}
	out := engine.NewNode(l.name)
	be, err := engine.Bind(l.edge, inputs, out)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: wiring %q: %w", l.name, err)
	}
	down := up.clone()
	down[l.name] = out
	return down, []engine.BoundEdge{be}, nil
}
