package engine

// Node is a named vertex in a computation graph. Identity is pointer
// identity; the name addresses the node from outside the graph (layer
// wiring, input binding).
type Node struct {
	Name string
}

// NewNode creates a fresh node.
func NewNode(name string) *Node { return &Node{Name: name} }

// BoundEdge attaches an edge to concrete parent and output nodes.
type BoundEdge struct {
	Edge   Edge
	Inputs []*Node
	Output *Node
}

// Bind wires an edge between nodes, validating arity.
func Bind(e Edge, inputs []*Node, output *Node) (BoundEdge, error) {
	if e == nil {
		return BoundEdge{}, invalidf("nil edge")
	}
	if output == nil {
		return BoundEdge{}, invalidf("nil output node")
	}
	if len(inputs) != e.Arity() {
		return BoundEdge{}, invalidf("edge arity %d, got %d inputs", e.Arity(), len(inputs))
	}
	for _, in := range inputs {
		if in == nil {
			return BoundEdge{}, invalidf("nil input node")
		}
	}
	cp := make([]*Node, len(inputs))
	copy(cp, inputs)
	return BoundEdge{Edge: e, Inputs: cp, Output: output}, nil
}

// MustBind is Bind for statically correct wiring. It panics on arity
// mismatches, which are programming errors.
func MustBind(e Edge, inputs []*Node, output *Node) BoundEdge {
	be, err := Bind(e, inputs, output)
	if err != nil {
		panic(err)
	}
	return be
}
