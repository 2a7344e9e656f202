package graph

import (
	"github.com/google/uuid"
	"gonum.org/v1/gonum/graph/network"
)

// PageRankOptions tunes network.PageRank
type PageRankOptions struct {
	Alpha float64
	// Tolerance bounds the L2 change between iterations at convergence
	Tolerance float64
}

// DefaultPageRankOptions uses the usual damping of 0.85
func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{Alpha: 0.85, Tolerance: 1e-10}
}

// PageRank computes edge-weighted PageRank over the ego graph. Transition
// probabilities are proportional to the summed transfer amount on each edge
// and nodes with no outgoing weight spread their mass uniformly, so the
// scores sum to 1.
func PageRank(g *EgoGraph, opts PageRankOptions) map[uuid.UUID]float64 {
	scores := make(map[uuid.UUID]float64, len(g.Nodes))
	if len(g.Nodes) == 0 {
		return scores
	}
	if opts.Alpha <= 0 || opts.Alpha >= 1 {
		opts.Alpha = 0.85
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-10
	}
	for id, rank := range network.PageRank(g.weighted, opts.Alpha, opts.Tolerance) {
		scores[g.Nodes[id]] = rank
	}
	return scores
}
