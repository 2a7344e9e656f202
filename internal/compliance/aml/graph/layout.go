package graph

import (
	"math"
	"math/rand/v2"

	"github.com/google/uuid"
	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/layout"
	"gonum.org/v1/gonum/graph/simple"
)

const (
	rootColor     = "#f48fb1"
	cycleColor    = "#ff6f00"
	peerColor     = "#90caf9"
	rootSize      = 30
	peerSize      = 20
	layoutSeed    = 42
	layoutUpdates = 50
)

// VisNode is a positioned node ready for plotting
type VisNode struct {
	ID       uuid.UUID `json:"id"`
	Label    string    `json:"label"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Color    string    `json:"color"`
	Size     int       `json:"size"`
	PageRank float64   `json:"pagerank"`
}

// VisEdge is a directed edge between two positioned nodes
type VisEdge struct {
	From   uuid.UUID `json:"from"`
	To     uuid.UUID `json:"to"`
	Weight float64   `json:"weight"`
	Count  int       `json:"count"`
}

// Visualization is the presentation payload stored alongside a graph job
type Visualization struct {
	Root  uuid.UUID `json:"root"`
	Nodes []VisNode `json:"nodes"`
	Edges []VisEdge `json:"edges"`
}

// Layout positions the graph with an Eades spring layout from seeded starting
// coordinates, rescaled into [-1, 1]. The same graph always yields the same coordinates.
// labels maps node IDs to display names; missing labels fall back to the ID.
func Layout(g *EgoGraph, findings *Findings, ranks map[uuid.UUID]float64, labels map[uuid.UUID]string) *Visualization {
	vis := &Visualization{Root: g.Root, Nodes: []VisNode{}, Edges: []VisEdge{}}
	pos := springLayout(g, layoutUpdates, layoutSeed)

	inCycle := make(map[uuid.UUID]bool)
	if findings != nil {
		for _, c := range findings.Cycles {
			for _, id := range c {
				inCycle[id] = true
			}
		}
	}

	for i, id := range g.Nodes {
		label, ok := labels[id]
		if !ok || label == "" {
			label = "ID: " + id.String()
		}
		node := VisNode{ID: id, Label: label, X: pos[i][0], Y: pos[i][1], PageRank: ranks[id]}
		switch {
		case id == g.Root:
			node.Color, node.Size = rootColor, rootSize
		case inCycle[id]:
			node.Color, node.Size = cycleColor, peerSize
		default:
			node.Color, node.Size = peerColor, peerSize
		}
		vis.Nodes = append(vis.Nodes, node)
	}
	for _, e := range g.Edges {
		vis.Edges = append(vis.Edges, VisEdge{From: e.From, To: e.To, Weight: e.Weight, Count: e.Count})
	}
	return vis
}

// orderedGraph lists nodes in ego-graph order, so Eades draws the seeded
// starting positions in the same sequence on every run
type orderedGraph struct {
	*simple.UndirectedGraph
	n int
}

func (g orderedGraph) Nodes() gonumgraph.Nodes {
	nodes := make([]gonumgraph.Node, g.n)
	for i := range nodes {
		nodes[i] = simple.Node(int64(i))
	}
	return iterator.NewOrderedNodes(nodes)
}

func springLayout(g *EgoGraph, updates int, seed uint64) [][2]float64 {
	n := len(g.Nodes)
	pos := make([][2]float64, n)
	if n < 2 {
		return pos
	}

	u := simple.NewUndirectedGraph()
	for i := 0; i < n; i++ {
		u.AddNode(simple.Node(int64(i)))
	}
	// unweighted springs; transfer amounts would swamp the spring constants
	for _, e := range g.Edges {
		a, b := g.index[e.From], g.index[e.To]
		if a != b {
			u.SetEdge(u.NewEdge(simple.Node(int64(a)), simple.Node(int64(b))))
		}
	}

	eades := &layout.EadesR2{Repulsion: 1, Rate: 0.05, Updates: updates, Theta: 0.2, Src: rand.NewPCG(seed, seed)}
	opt := layout.NewOptimizerR2(orderedGraph{UndirectedGraph: u, n: n}, eades.Update)
	for opt.Update() {
	}
	for i := range pos {
		p := opt.Coord2(int64(i))
		pos[i] = [2]float64{p.X, p.Y}
	}
	return rescale(pos)
}

func rescale(pos [][2]float64) [][2]float64 {
	var cx, cy float64
	for _, p := range pos {
		cx += p[0]
		cy += p[1]
	}
	cx /= float64(len(pos))
	cy /= float64(len(pos))
	lim := 0.0
	for i := range pos {
		pos[i][0] -= cx
		pos[i][1] -= cy
		lim = math.Max(lim, math.Max(math.Abs(pos[i][0]), math.Abs(pos[i][1])))
	}
	for i := range pos {
		if lim > 0 {
			pos[i][0] /= lim
			pos[i][1] /= lim
		}
		// six decimals keep the stored payload stable across platforms
		pos[i][0] = math.Round(pos[i][0]*1e6) / 1e6
		pos[i][1] = math.Round(pos[i][1]*1e6) / 1e6
	}
	return pos
}
