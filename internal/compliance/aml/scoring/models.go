package scoring

import (
	"fmt"
	"math"
)

const eulerGamma = 0.5772156649015329

// StandardScaler centers and scales each feature
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Size() int { return len(s.Mean) }

func (s *StandardScaler) validate() error {
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("scaler needs matching non-empty mean and scale, got %d and %d", len(s.Mean), len(s.Scale))
	}
	return nil
}

// Transform returns (x - mean) / scale; a zero scale leaves the centered value unscaled
func (s *StandardScaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i] - s.Mean[i]
		if s.Scale[i] != 0 {
			out[i] /= s.Scale[i]
		}
	}
	return out
}

// IsolationTree uses the flattened array layout of a fitted binary tree.
// A node is a leaf when its left child is -1.
type IsolationTree struct {
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	NodeSamples   []int     `json:"n_node_samples"`
}

func (t *IsolationTree) validate(features int) error {
	n := len(t.ChildrenLeft)
	if n == 0 || len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.NodeSamples) != n {
		return fmt.Errorf("tree arrays must be non-empty and equally sized")
	}
	for i := 0; i < n; i++ {
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if l == -1 {
			continue
		}
		if l <= i || r <= i || l >= n || r >= n {
			return fmt.Errorf("node %d has invalid children %d/%d", i, l, r)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= features {
			return fmt.Errorf("node %d splits on unknown feature %d", i, t.Feature[i])
		}
	}
	return nil
}

// pathLength is the isolation depth of x, corrected by the expected depth of the leaf's remaining samples
func (t *IsolationTree) pathLength(x []float64) float64 {
	node, depth := 0, 0
	for t.ChildrenLeft[node] != -1 {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
		depth++
	}
	return float64(depth) + averagePathLength(t.NodeSamples[node])
}

// IsolationForest scores outliers by how quickly random splits isolate them
type IsolationForest struct {
	MaxSamples int             `json:"max_samples"`
	Offset     float64         `json:"offset"`
	Trees      []IsolationTree `json:"trees"`
}

func (f *IsolationForest) validate(features int) error {
	if f.MaxSamples < 1 || len(f.Trees) == 0 {
		return fmt.Errorf("isolation forest needs max_samples and at least one tree")
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(features); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

// Decision returns score - offset where score = -2^(-E[h(x)]/c(max_samples)).
// Negative values are more anomalous.
func (f *IsolationForest) Decision(x []float64) float64 {
	total := 0.0
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	mean := total / float64(len(f.Trees))
	norm := averagePathLength(f.MaxSamples)
	if norm == 0 {
		norm = 1
	}
	score := -math.Pow(2, -mean/norm)
	return score - f.Offset
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST search over n points
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// DenseLayer computes activation(x*W + b); Weights is indexed [input][output]
type DenseLayer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// Autoencoder is a stack of dense layers trained to reproduce its input
type Autoencoder struct {
	Layers []DenseLayer `json:"layers"`
}

func (a *Autoencoder) InputSize() int {
	if len(a.Layers) == 0 {
		return 0
	}
	return len(a.Layers[0].Weights)
}

func (a *Autoencoder) OutputSize() int {
	if len(a.Layers) == 0 {
		return 0
	}
	return len(a.Layers[len(a.Layers)-1].Bias)
}

func (a *Autoencoder) validate() error {
	if len(a.Layers) == 0 {
		return fmt.Errorf("autoencoder has no layers")
	}
	in := a.InputSize()
	for i, l := range a.Layers {
		if len(l.Weights) != in || in == 0 {
			return fmt.Errorf("layer %d expects %d inputs, has %d weight rows", i, in, len(l.Weights))
		}
		for _, row := range l.Weights {
			if len(row) != len(l.Bias) {
				return fmt.Errorf("layer %d weight row width %d does not match bias %d", i, len(row), len(l.Bias))
			}
		}
		switch l.Activation {
		case "", "linear", "relu", "sigmoid", "tanh":
		default:
			return fmt.Errorf("layer %d has unsupported activation %q", i, l.Activation)
		}
		in = len(l.Bias)
	}
	return nil
}

// Reconstruct runs the forward pass
func (a *Autoencoder) Reconstruct(x []float64) []float64 {
	cur := x
	for _, l := range a.Layers {
		next := make([]float64, len(l.Bias))
		copy(next, l.Bias)
		for i, xi := range cur {
			for j, w := range l.Weights[i] {
				next[j] += xi * w
			}
		}
		for j := range next {
			next[j] = activate(l.Activation, next[j])
		}
		cur = next
	}
	return cur
}

// ReconstructionError is the mean squared difference between x and its reconstruction
func (a *Autoencoder) ReconstructionError(x []float64) float64 {
	r := a.Reconstruct(x)
	sum := 0.0
	for i := range x {
		d := x[i] - r[i]
		sum += d * d
	}
	return sum / float64(len(x))
}

func activate(kind string, v float64) float64 {
	switch kind {
	case "relu":
		return math.Max(0, v)
	case "sigmoid":
		return 1 / (1 + math.Exp(-v))
	case "tanh":
		return math.Tanh(v)
	default:
		return v
	}
}
