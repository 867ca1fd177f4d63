// Package engine implements the computation graph at the heart of connectome.
//
// Evaluation is made in two interleaved passes:
//  1. Hashes are propagated from the graph inputs towards the output. Each
//     edge derives its output hash from its parents' hashes and reports a
//     mask: the subset of parents whose values it actually needs.
//  2. Values are computed top-down following the masks, so a cached edge with
//     an empty mask never triggers evaluation of its subtree.
//
// Hashes are deterministic across processes, which makes them usable as cache
// keys for persistent storage.
package engine
