package pipeline

import (
	"fmt"
	"sort"

	"connectome/internal/engine"
)

// Branch is one alternative of a Switch. When Selector is nil the branch
// matches keys equal to its Name.
type Branch struct {
	Name     string
	Selector engine.Selector
	Layer    Layer
}

// Switch routes slots through exactly one branch, decided by the key slot.
//
// Each branch sees the key rewritten through a guard: for non-matching keys
// the guarded key is Nothing, which poisons everything the branch derives
// from it, so only the selected branch is ever evaluated. Per provided slot
// the branch results are merged with a product and a projection; branches
// must derive their outputs from the key, directly or transitively, or the
// merge will see more than one surviving value and fail.
//
// Routing happens during hash propagation, so cached values are shared with
// the unswitched branch pipelines.
type Switch struct {
	key      string
	branches []Branch
}

func NewSwitch(key string, branches ...Branch) (*Switch, error) {
	if key == "" {
		return nil, fmt.Errorf("pipeline: switch needs a key slot")
	}
	if len(branches) < 2 {
		return nil, fmt.Errorf("pipeline: switch needs at least two branches, got %d", len(branches))
	}

	var provides []string
	seen := make(map[string]bool, len(branches))
	for i, b := range branches {
		if b.Name == "" {
			return nil, fmt.Errorf("pipeline: switch branch %d has no name", i)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("pipeline: duplicate switch branch %q", b.Name)
		}
		seen[b.Name] = true
		if b.Layer == nil {
			return nil, fmt.Errorf("pipeline: switch branch %q has no layer", b.Name)
		}
		p := sortedCopy(b.Layer.Provides())
		if i == 0 {
			provides = p
			continue
		}
		if !equalStrings(provides, p) {
			return nil, fmt.Errorf("pipeline: switch branches disagree on provided slots: %v vs %v", provides, p)
		}
	}
	return &Switch{key: key, branches: append([]Branch(nil), branches...)}, nil
}

func (s *Switch) Requires() []string {
	names := []string{s.key}
	seen := map[string]bool{s.key: true}
	for _, b := range s.branches {
		for _, r := range b.Layer.Requires() {
			if r == s.key || seen[r] {
				continue
			}
			seen[r] = true
			names = append(names, r)
		}
	}
	return names
}

func (s *Switch) Provides() []string {
	return sortedCopy(s.branches[0].Layer.Provides())
}

func (s *Switch) forward(up namespace) (namespace, []engine.BoundEdge, error) {
	keyNode, ok := up[s.key]
	if !ok {
		return nil, nil, fmt.Errorf("pipeline: switch key %q is not a known slot", s.key)
	}

	var edges []engine.BoundEdge
	// outputs[name][i] is branch i's node for the provided slot name.
	outputs := make(map[string][]*engine.Node)

	for _, b := range s.branches {
		selector := b.Selector
		if selector == nil {
			want := b.Name
			selector = func(key engine.Value) (bool, error) {
				return key == engine.Value(want), nil
			}
		}

		guarded := engine.NewNode(s.key + "@" + b.Name)
		be, err := engine.Bind(engine.NewSwitchEdge(b.Name, selector), []*engine.Node{keyNode}, guarded)
		if err != nil {
			return nil, nil, err
		}
		edges = append(edges, be)

		branchNS := up.clone()
		branchNS[s.key] = guarded
		down, added, err := b.Layer.forward(branchNS)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: switch branch %q: %w", b.Name, err)
		}
		edges = append(edges, added...)

		for _, name := range b.Layer.Provides() {
			outputs[name] = append(outputs[name], down[name])
		}
	}

	result := up.clone()
	for _, name := range s.Provides() {
		nodes := outputs[name]
		product := engine.NewNode(name + ".branches")
		be, err := engine.Bind(engine.NewProductEdge(len(nodes)), nodes, product)
		if err != nil {
			return nil, nil, err
		}
		edges = append(edges, be)

		merged := engine.NewNode(name)
		be, err = engine.Bind(engine.NewProjectionEdge(), []*engine.Node{product}, merged)
		if err != nil {
			return nil, nil, err
		}
		edges = append(edges, be)
		result[name] = merged
	}
	return result, edges, nil
}

func sortedCopy(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
