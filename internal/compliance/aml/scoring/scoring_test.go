package scoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeJSON(t *testing.T, dir, name string, v interface{}) {
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o600))
}

// writeArtifacts lays down a one-tree forest that isolates scaled values above 2
// after a single split, and an autoencoder whose identity weight is aeWeight
func writeArtifacts(t *testing.T, dir string, aeWeight float64) {
	writeJSON(t, dir, "scaler.json", StandardScaler{Mean: []float64{50000}, Scale: []float64{10000}})
	writeJSON(t, dir, "isolation_forest.json", IsolationForest{
		MaxSamples: 4,
		Offset:     -0.5,
		Trees: []IsolationTree{{
			ChildrenLeft:  []int{1, -1, -1},
			ChildrenRight: []int{2, -1, -1},
			Feature:       []int{0, -2, -2},
			Threshold:     []float64{2.0, -2, -2},
			NodeSamples:   []int{4, 3, 1},
		}},
	})
	writeJSON(t, dir, "autoencoder.json", Autoencoder{Layers: []DenseLayer{
		{Weights: [][]float64{{aeWeight}}, Bias: []float64{0}, Activation: "linear"},
	}})
}

func TestLoad_MissingArtifactsFailsOpen(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "nope"), DefaultThresholds(), zap.NewNop().Sugar())
	assert.False(t, s.Available())

	for _, amount := range []int64{0, 1, 45000, 10_000_000} {
		res := s.Score(decimal.NewFromInt(amount))
		assert.False(t, res.IsAnomaly)
	}
	assert.Nil(t, Evaluate(s, store.Transaction{ID: uuid.New(), Amount: decimal.NewFromInt(99999999)}))
}

func TestLoadModel_MissingIsTyped(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "scaler.json", StandardScaler{Mean: []float64{0}, Scale: []float64{1}})
	_, err := LoadModel(dir, DefaultThresholds())
	assert.True(t, errors.Is(err, ErrArtifactsMissing))
}

func TestLoadModel_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, 1)
	writeJSON(t, dir, "autoencoder.json", Autoencoder{Layers: []DenseLayer{
		{Weights: [][]float64{{1, 1}}, Bias: []float64{0, 0}, Activation: "linear"},
	}})
	_, err := LoadModel(dir, DefaultThresholds())
	assert.Error(t, err)

	s := Load(dir, DefaultThresholds(), zap.NewNop().Sugar())
	assert.False(t, s.Available())
}

func TestLoadModel_RejectsExtraFeatures(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "scaler.json", StandardScaler{Mean: []float64{0, 0}, Scale: []float64{1, 1}})
	writeJSON(t, dir, "isolation_forest.json", IsolationForest{
		MaxSamples: 4,
		Trees: []IsolationTree{{
			ChildrenLeft:  []int{1, -1, -1},
			ChildrenRight: []int{2, -1, -1},
			Feature:       []int{1, -2, -2},
			Threshold:     []float64{0, -2, -2},
			NodeSamples:   []int{4, 2, 2},
		}},
	})
	writeJSON(t, dir, "autoencoder.json", Autoencoder{Layers: []DenseLayer{
		{Weights: [][]float64{{1, 0}, {0, 1}}, Bias: []float64{0, 0}, Activation: "linear"},
	}})
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("features: [amount, hour]\n"), 0o600))

	_, err := LoadModel(dir, DefaultThresholds())
	assert.Error(t, err)

	s := Load(dir, DefaultThresholds(), zap.NewNop().Sugar())
	assert.False(t, s.Available())
	assert.NotPanics(t, func() { s.Score(decimal.NewFromInt(1000)) })
}

func TestModelScorer_IsolationSignal(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, 1)
	s := Load(dir, DefaultThresholds(), zap.NewNop().Sugar())
	require.True(t, s.Available())

	normal := s.Score(decimal.NewFromInt(50000))
	assert.False(t, normal.IsAnomaly)
	assert.InDelta(t, 0.0623, normal.IsoScore, 1e-3)
	assert.InDelta(t, 0.0, normal.AEError, 1e-12)

	outlier := s.Score(decimal.NewFromInt(100000))
	assert.True(t, outlier.IsAnomaly)
	assert.InDelta(t, -0.1877, outlier.IsoScore, 1e-3)

	assert.Equal(t, outlier, s.Score(decimal.NewFromInt(100000)))
}

func TestModelScorer_ReconstructionSignal(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, 0)
	s := Load(dir, DefaultThresholds(), zap.NewNop().Sugar())
	require.True(t, s.Available())

	// scaled value 1 is not isolated by the tree but reconstructs to 0
	res := s.Score(decimal.NewFromInt(60000))
	assert.InDelta(t, 1.0, res.AEError, 1e-9)
	assert.Greater(t, res.IsoScore, DefaultIsoThreshold)
	assert.True(t, res.IsAnomaly)
}

func TestLoadModel_ManifestRenamesFiles(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, 1)
	require.NoError(t, os.Rename(filepath.Join(dir, "scaler.json"), filepath.Join(dir, "amount_scaler.json")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`
version: 1
features: [amount]
scaler: amount_scaler.json
isolation_forest: isolation_forest.json
autoencoder: autoencoder.json
`), 0o600))

	_, err := LoadModel(dir, DefaultThresholds())
	assert.NoError(t, err)
}

func TestThresholds_StrictBoundaries(t *testing.T) {
	th := DefaultThresholds()
	assert.False(t, th.Decide(-0.05, 0.2))
	assert.True(t, th.Decide(-0.0501, 0))
	assert.True(t, th.Decide(0, 0.2001))
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 1.8516, averagePathLength(4), 1e-3)
}

func TestEvaluate_CreditsReceiver(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, 1)
	s := Load(dir, DefaultThresholds(), zap.NewNop().Sugar())

	to := uuid.New()
	tx := store.Transaction{ID: uuid.New(), ToUserID: to, Amount: decimal.NewFromInt(100000)}
	f := Evaluate(s, tx)
	require.NotNil(t, f)
	assert.Equal(t, to, f.UserID)
	assert.Equal(t, tx.ID, f.TransactionID)
	assert.Equal(t, store.AlertMLAnomaly, f.AlertType())
	assert.Equal(t, "Anomalous transaction of ₹100,000.00 detected. (I-Forest:-0.19, AE-Error:0.0000)", f.Message())
}

func TestModelScorer_ConcurrentUse(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, 0.5)
	s := Load(dir, DefaultThresholds(), zap.NewNop().Sugar())
	want := s.Score(decimal.NewFromInt(70000))

	var wg sync.WaitGroup
	results := make([]Result, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Score(decimal.NewFromInt(70000))
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, want, r)
	}
}
