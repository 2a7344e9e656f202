package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/google/uuid"
)

// CycleFidelityEgo marks cycle findings computed on an ego graph, where only
// direct back-and-forth transfers (length <= 2) are observable
const CycleFidelityEgo = "EGO_DIRECT_ONLY"

// Reasons reported when a graph cannot be analyzed
const (
	ReasonNoTransactions = "User has no P2P transactions to graph."
	ReasonNoEdges        = "Could not build graph from user's transactions."
)

// TransactionSource is the slice of the store the analyzer reads
type TransactionSource interface {
	TransactionsForUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]store.Transaction, error)
}

// Findings are the network-risk signals for the root user
type Findings struct {
	Cycles           [][]uuid.UUID `json:"cycles"`
	PageRankScore    float64       `json:"pagerankScore"`
	BetweennessScore float64       `json:"betweennessScore"`
	NodeCount        int           `json:"nodeCount"`
	EdgeCount        int           `json:"edgeCount"`
	CycleFidelity    string        `json:"cycleFidelity"`
}

// Analysis is either Applicable with findings, or carries the reason it is not
type Analysis struct {
	Applicable bool
	Reason     string
	Findings   *Findings
	Graph      *EgoGraph
	Ranks      map[uuid.UUID]float64
}

// Options configures the analyzer
type Options struct {
	// Radius is the neighborhood depth in hops. Only direct neighbors (1) are
	// supported; the field exists so multi-hop analysis can be added later.
	Radius   int
	PageRank PageRankOptions
}

func DefaultOptions() Options {
	return Options{Radius: 1, PageRank: DefaultPageRankOptions()}
}

// Analyzer computes ego-network findings
type Analyzer struct {
	src  TransactionSource
	opts Options
}

func NewAnalyzer(src TransactionSource, opts Options) (*Analyzer, error) {
	if opts.Radius == 0 {
		opts.Radius = 1
	}
	if opts.Radius != 1 {
		return nil, fmt.Errorf("unsupported neighborhood radius %d", opts.Radius)
	}
	return &Analyzer{src: src, opts: opts}, nil
}

// Analyze builds root's ego graph and computes its signals. Missing data is
// reported as a non-applicable Analysis; only store failures return an error.
func (a *Analyzer) Analyze(ctx context.Context, root uuid.UUID) (*Analysis, error) {
	txs, err := a.src.TransactionsForUser(ctx, root, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for graph: %w", err)
	}
	if len(txs) == 0 {
		return &Analysis{Reason: ReasonNoTransactions}, nil
	}

	g := BuildEgoGraph(root, txs)
	if g.EdgeCount() == 0 {
		return &Analysis{Reason: ReasonNoEdges, Graph: g}, nil
	}

	ranks := PageRank(g, a.opts.PageRank)
	return &Analysis{
		Applicable: true,
		Graph:      g,
		Ranks:      ranks,
		Findings: &Findings{
			Cycles:           g.DirectCycles(),
			PageRankScore:    ranks[root],
			BetweennessScore: 0, // not computed on ego graphs
			NodeCount:        g.NodeCount(),
			EdgeCount:        g.EdgeCount(),
			CycleFidelity:    CycleFidelityEgo,
		},
	}, nil
}
