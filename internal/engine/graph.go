package engine

import (
	"sort"
	"strings"
)

// Graph is an immutable, validated computation graph with a single output.
//
// It is safe for concurrent Call invocations: every call gets its own
// evaluation scope.
type Graph struct {
	inputs   []*Node // sorted by name, only inputs the output depends on
	output   *Node
	producer map[*Node]BoundEdge
	counts   map[*Node]int
}

// NewGraph builds and validates a Graph.
//
// Validation rejects:
//   - multiple edges producing the same node
//   - leaves reachable from the output that are not declared inputs
//   - duplicate or empty input names
func NewGraph(inputs []*Node, output *Node, edges []BoundEdge) (*Graph, error) {
	if output == nil {
		return nil, invalidf("nil output")
	}

	producer := make(map[*Node]BoundEdge, len(edges))
	for _, be := range edges {
		if _, dup := producer[be.Output]; dup {
			return nil, invalidf("node %q has multiple producing edges", be.Output.Name)
		}
		producer[be.Output] = be
	}

	declared := make(map[*Node]bool, len(inputs))
	seenNames := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if in == nil || in.Name == "" {
			return nil, invalidf("input name is required")
		}
		if seenNames[in.Name] {
			return nil, invalidf("duplicate input name: %q", in.Name)
		}
		seenNames[in.Name] = true
		declared[in] = true
	}

	if err := validateReachable(output, producer, declared); err != nil {
		return nil, err
	}

	// Reference counts drive eviction of intermediate results: one consult per
	// appearance as a parent of an evaluated edge.
	counts := make(map[*Node]int)
	countEntries(output, producer, declared, counts, 1)

	used := make([]*Node, 0, len(inputs))
	for _, in := range inputs {
		if counts[in] > 0 {
			used = append(used, in)
		}
	}
	sort.Slice(used, func(i, j int) bool { return used[i].Name < used[j].Name })

	return &Graph{inputs: used, output: output, producer: producer, counts: counts}, nil
}

func validateReachable(output *Node, producer map[*Node]BoundEdge, declared map[*Node]bool) error {
	visited := make(map[*Node]bool)
	var visit func(n *Node) error
	visit = func(n *Node) error {
		if visited[n] {
			return nil
		}
		visited[n] = true
		if declared[n] {
			return nil
		}
		be, ok := producer[n]
		if !ok {
			return invalidf("node %q has no producing edge and is not an input", n.Name)
		}
		for _, p := range be.Inputs {
			if err := visit(p); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(output)
}

func countEntries(n *Node, producer map[*Node]BoundEdge, declared map[*Node]bool, counts map[*Node]int, multiplier int) {
	counts[n] += multiplier
	if declared[n] {
		return
	}
	for _, p := range producer[n].Inputs {
		countEntries(p, producer, declared, counts, multiplier)
	}
}

// Inputs returns the names of the inputs the graph depends on, sorted.
func (g *Graph) Inputs() []string {
	names := make([]string, len(g.inputs))
	for i, n := range g.inputs {
		names[i] = n.Name
	}
	return names
}

// Output returns the output node.
func (g *Graph) Output() *Node { return g.output }

// Call evaluates the graph for the given arguments.
func (g *Graph) Call(args map[string]Value) (Value, error) {
	s, err := g.newScope(args)
	if err != nil {
		return nil, err
	}
	return s.evaluate(g.output)
}

// OutputHash runs only the hash pass and returns the output's hash. No user
// function is executed, which makes this cheap enough to use for cache
// probing.
func (g *Graph) OutputHash(args map[string]Value) (Hash, error) {
	s, err := g.newScope(args)
	if err != nil {
		return nil, err
	}
	h, _, err := s.computeHash(g.output)
	return h, err
}

// Identity returns the structural hash of the graph: it covers edges and
// wiring but no concrete input values, so it is stable across calls and
// processes.
func (g *Graph) Identity() (Hash, error) {
	memo := make(map[*Node]Hash, len(g.counts))
	for _, in := range g.inputs {
		memo[in] = inputPlaceholder
	}

	var visit func(n *Node) (Hash, error)
	visit = func(n *Node) (Hash, error) {
		if h, ok := memo[n]; ok {
			return h, nil
		}
		be := g.producer[n]
		parents := make([]Hash, len(be.Inputs))
		for i, p := range be.Inputs {
			ph, err := visit(p)
			if err != nil {
				return nil, err
			}
			parents[i] = ph
		}
		h, err := be.Edge.HashGraph(parents)
		if err != nil {
			return nil, err
		}
		memo[n] = h
		return h, nil
	}

	h, err := visit(g.output)
	if err != nil {
		return nil, err
	}
	return NewCompoundHash(KindGraph, h), nil
}

// inputPlaceholder stands in for input values when hashing graph structure.
var inputPlaceholder = MustLeafHash("connectome:input")

type scope struct {
	g         *Graph
	hashes    map[*Node]Hash
	masks     map[*Node]Mask
	values    map[*Node]Value
	remaining map[*Node]int
}

func (g *Graph) newScope(args map[string]Value) (*scope, error) {
	var missing []string
	s := &scope{
		g:         g,
		hashes:    make(map[*Node]Hash, len(g.counts)),
		masks:     make(map[*Node]Mask, len(g.counts)),
		values:    make(map[*Node]Value, len(g.counts)),
		remaining: make(map[*Node]int, len(g.counts)),
	}
	for n, c := range g.counts {
		s.remaining[n] = c
	}

	known := make(map[string]bool, len(g.inputs))
	for _, in := range g.inputs {
		known[in.Name] = true
		v, ok := args[in.Name]
		if !ok {
			missing = append(missing, in.Name)
			continue
		}
		leaf, err := NewLeafHash(v)
		if err != nil {
			return nil, err
		}
		s.hashes[in] = leaf
		s.masks[in] = Mask{}
		s.values[in] = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, invalidf("missing arguments: %s", strings.Join(missing, ", "))
	}

	var unexpected []string
	for name := range args {
		if !known[name] {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, invalidf("unexpected arguments: %s", strings.Join(unexpected, ", "))
	}
	return s, nil
}

func (s *scope) computeHash(n *Node) (Hash, Mask, error) {
	if h, ok := s.hashes[n]; ok {
		return h, s.masks[n], nil
	}

	be, ok := s.g.producer[n]
	if !ok {
		return nil, nil, invalidf("node %q was evicted or never seeded", n.Name)
	}

	parents := make([]Hash, len(be.Inputs))
	for i, p := range be.Inputs {
		ph, _, err := s.computeHash(p)
		if err != nil {
			return nil, nil, err
		}
		parents[i] = ph
	}

	h, mask, err := be.Edge.PropagateHash(parents)
	if err != nil {
		return nil, nil, err
	}
	s.hashes[n] = h
	s.masks[n] = mask
	return h, mask, nil
}

func (s *scope) evaluate(n *Node) (Value, error) {
	if v, ok := s.values[n]; ok {
		return v, nil
	}

	h, mask, err := s.computeHash(n)
	if err != nil {
		return nil, err
	}
	be, ok := s.g.producer[n]
	if !ok {
		return nil, invalidf("value of %q requested after eviction", n.Name)
	}

	args := make([]Value, len(mask))
	for i, idx := range mask {
		v, err := s.evaluate(be.Inputs[idx])
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	v, err := be.Edge.Evaluate(args, mask, h)
	if err != nil {
		return nil, err
	}
	s.values[n] = v

	for _, p := range be.Inputs {
		s.evict(p)
	}
	return v, nil
}

// evict drops an intermediate result once all consumers have seen it. The
// output and any node still awaiting consumers stay resident.
func (s *scope) evict(n *Node) {
	c, ok := s.remaining[n]
	if !ok {
		return
	}
	c--
	if c > 0 {
		s.remaining[n] = c
		return
	}
	delete(s.remaining, n)
	if n != s.g.output {
		delete(s.values, n)
	}
}
