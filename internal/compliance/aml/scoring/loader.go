package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/Aidin1998/amlwatch/pkg/metrics"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ManifestFile names the artifact index inside the model directory
const ManifestFile = "manifest.yaml"

// ErrArtifactsMissing is returned when the model directory lacks a required file
var ErrArtifactsMissing = errors.Unavailable.Reason("ArtifactsMissing").Explain("model artifacts missing")

// Manifest lists the artifact files produced by offline training
type Manifest struct {
	Version         int      `yaml:"version"`
	Features        []string `yaml:"features"`
	Scaler          string   `yaml:"scaler"`
	IsolationForest string   `yaml:"isolation_forest"`
	Autoencoder     string   `yaml:"autoencoder"`
}

func defaultManifest() Manifest {
	return Manifest{
		Version:         1,
		Features:        []string{"amount"},
		Scaler:          "scaler.json",
		IsolationForest: "isolation_forest.json",
		Autoencoder:     "autoencoder.json",
	}
}

// LoadModel reads and validates every artifact in dir
func LoadModel(dir string, thresholds Thresholds) (*ModelScorer, error) {
	m := defaultManifest()
	if raw, err := os.ReadFile(filepath.Join(dir, ManifestFile)); err == nil {
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", ManifestFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", ManifestFile, err)
	}

	var scaler StandardScaler
	var forest IsolationForest
	var ae Autoencoder
	for _, a := range []struct {
		name string
		dst  interface{}
	}{
		{m.Scaler, &scaler},
		{m.IsolationForest, &forest},
		{m.Autoencoder, &ae},
	} {
		if err := readArtifact(dir, a.name, a.dst); err != nil {
			return nil, err
		}
	}

	if err := scaler.validate(); err != nil {
		return nil, fmt.Errorf("invalid scaler: %w", err)
	}
	if scaler.Size() != scoredFeatures {
		return nil, fmt.Errorf("model expects %d features, only the amount is scored", scaler.Size())
	}
	if len(m.Features) > 0 && len(m.Features) != scaler.Size() {
		return nil, fmt.Errorf("manifest lists %d features, scaler has %d", len(m.Features), scaler.Size())
	}
	if err := forest.validate(scaler.Size()); err != nil {
		return nil, fmt.Errorf("invalid isolation forest: %w", err)
	}
	if err := ae.validate(); err != nil {
		return nil, fmt.Errorf("invalid autoencoder: %w", err)
	}
	return NewModelScorer(&scaler, &forest, &ae, thresholds)
}

func readArtifact(dir, name string, dst interface{}) error {
	if name == "" {
		return ErrArtifactsMissing.Explain("manifest does not name every artifact")
	}
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrArtifactsMissing.Explain("%s not found in %s", name, dir)
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

// Load returns a model-backed scorer, or a NopScorer when the artifacts cannot be
// used. It never fails: scoring degrades to "never anomalous" so ingestion keeps running.
// Call it once per process and share the result.
func Load(dir string, thresholds Thresholds, logger *zap.SugaredLogger) Scorer {
	model, err := LoadModel(dir, thresholds)
	if err != nil {
		logger.Warnw("Anomaly scoring disabled, model artifacts unavailable", "dir", dir, "error", err)
		metrics.ScorerAvailable.Set(0)
		return NopScorer{}
	}
	logger.Infow("Anomaly model loaded", "dir", dir, "trees", len(model.forest.Trees), "layers", len(model.ae.Layers))
	metrics.ScorerAvailable.Set(1)
	return model
}
