package pipeline

import (
	"connectome/internal/engine"
)

// CacheLayer rewrites slots through cache edges backed by a Storage. It is
// structurally transparent: node hashes are unchanged, so inserting or
// removing the layer never invalidates existing cache entries.
type CacheLayer struct {
	storage engine.Storage
	names   []string
}

func NewCacheLayer(storage engine.Storage, names ...string) *CacheLayer {
	return &CacheLayer{storage: storage, names: append([]string(nil), names...)}
}

func (l *CacheLayer) Requires() []string { return append([]string(nil), l.names...) }

func (l *CacheLayer) Provides() []string { return append([]string(nil), l.names...) }

func (l *CacheLayer) forward(up namespace) (namespace, []engine.BoundEdge, error) {
	down := up.clone()
	edges := make([]engine.BoundEdge, 0, len(l.names))
	for _, name := range l.names {
		inner := &edgeLayer{name: name, args: []string{name}, edge: engine.NewCacheEdge(l.storage)}
		next, added, err := inner.forward(down)
		if err != nil {
			return nil, nil, err
		}
		down = next
		edges = append(edges, added...)
	}
	return down, edges, nil
}

func (l *CacheLayer) Inverts() []string { return append([]string(nil), l.names...) }

// backward passes the slot through untouched: a cache does not change the
// representation of the value it stores.
func (l *CacheLayer) backward(name string, node *engine.Node) (string, *engine.Node, []engine.BoundEdge, error) {
	return name, node, nil, nil
}
