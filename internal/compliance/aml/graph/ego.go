// Package graph builds a user's ego network from direct transactions and
// derives network-risk signals from it.
package graph

import (
	"bytes"
	"sort"

	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/graph/simple"
)

// Edge aggregates every transfer from one account to another
type Edge struct {
	From   uuid.UUID `json:"from"`
	To     uuid.UUID `json:"to"`
	Weight float64   `json:"weight"`
	Count  int       `json:"count"`
}

// EgoGraph is a directed graph of the root and its direct counterparties.
// Nodes are ordered root first, then by ID, so every computation over it is deterministic.
type EgoGraph struct {
	Root  uuid.UUID
	Nodes []uuid.UUID
	Edges []Edge

	index map[uuid.UUID]int
	// node i of Nodes is gonum node ID i; self-transfers are not representable
	// in a simple graph and are only kept in Edges
	weighted *simple.WeightedDirectedGraph
	selfLoop bool
}

// BuildEgoGraph keeps only transactions touching root with both endpoints known.
// Parallel transfers collapse into one edge whose weight is the summed amount.
func BuildEgoGraph(root uuid.UUID, txs []store.Transaction) *EgoGraph {
	type pair struct{ from, to uuid.UUID }
	agg := make(map[pair]*Edge)
	nodes := make(map[uuid.UUID]struct{})

	for i := range txs {
		tx := &txs[i]
		if tx.FromUserID == nil {
			continue
		}
		from, to := *tx.FromUserID, tx.ToUserID
		if from != root && to != root {
			continue
		}
		p := pair{from, to}
		e, ok := agg[p]
		if !ok {
			e = &Edge{From: from, To: to}
			agg[p] = e
		}
		amount, _ := tx.Amount.Float64()
		e.Weight += amount
		e.Count++
		nodes[from] = struct{}{}
		nodes[to] = struct{}{}
	}

	g := &EgoGraph{Root: root, index: make(map[uuid.UUID]int), weighted: simple.NewWeightedDirectedGraph(0, 0)}
	if len(agg) == 0 {
		return g
	}

	others := make([]uuid.UUID, 0, len(nodes))
	for n := range nodes {
		if n != root {
			others = append(others, n)
		}
	}
	sort.Slice(others, func(i, j int) bool { return bytes.Compare(others[i][:], others[j][:]) < 0 })
	g.Nodes = append([]uuid.UUID{root}, others...)
	for i, n := range g.Nodes {
		g.index[n] = i
		g.weighted.AddNode(simple.Node(int64(i)))
	}

	for _, e := range agg {
		g.Edges = append(g.Edges, *e)
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		a, b := g.Edges[i], g.Edges[j]
		if ai, bi := g.index[a.From], g.index[b.From]; ai != bi {
			return ai < bi
		}
		return g.index[a.To] < g.index[b.To]
	})

	for _, e := range g.Edges {
		f, t := g.index[e.From], g.index[e.To]
		if f == t {
			g.selfLoop = true
			continue
		}
		g.weighted.SetWeightedEdge(g.weighted.NewWeightedEdge(simple.Node(int64(f)), simple.Node(int64(t)), e.Weight))
	}
	return g
}

// NodeCount and EdgeCount are reported for observability
func (g *EgoGraph) NodeCount() int { return len(g.Nodes) }
func (g *EgoGraph) EdgeCount() int { return len(g.Edges) }

// Index returns the position of a node, or -1
func (g *EgoGraph) Index(id uuid.UUID) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	return -1
}

// DirectCycles returns the back-and-forth cycles [root, v] where both root->v and v->root exist.
// Longer cycles have at most one edge touching root inside an ego graph, so they cannot be seen here.
func (g *EgoGraph) DirectCycles() [][]uuid.UUID {
	r := g.Index(g.Root)
	if r < 0 {
		return [][]uuid.UUID{}
	}
	cycles := [][]uuid.UUID{}
	if g.selfLoop {
		cycles = append(cycles, []uuid.UUID{g.Root})
	}
	for i := 1; i < len(g.Nodes); i++ {
		if g.weighted.HasEdgeFromTo(int64(r), int64(i)) && g.weighted.HasEdgeFromTo(int64(i), int64(r)) {
			cycles = append(cycles, []uuid.UUID{g.Root, g.Nodes[i]})
		}
	}
	return cycles
}
