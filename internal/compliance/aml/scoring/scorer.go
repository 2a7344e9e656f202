// Package scoring turns transaction amounts into anomaly verdicts using
// pre-trained model artifacts. Training happens offline.
package scoring

import (
	"fmt"

	"github.com/Aidin1998/amlwatch/internal/compliance/aml/rules"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Default decision thresholds
const (
	DefaultIsoThreshold = -0.05
	DefaultAEThreshold  = 0.2
)

// Result is the verdict for one amount
type Result struct {
	IsAnomaly bool    `json:"is_anomaly"`
	IsoScore  float64 `json:"iso_forest_score"`
	AEError   float64 `json:"autoencoder_error"`
}

// Scorer is safe for concurrent use once constructed
type Scorer interface {
	Score(amount decimal.Decimal) Result
	// Available reports whether real model artifacts back this scorer
	Available() bool
}

// scoredFeatures is the width of the vector Score builds: the amount alone
const scoredFeatures = 1

// Thresholds decide when the two signals flag an anomaly
type Thresholds struct {
	Iso float64 // anomalous below this isolation score
	AE  float64 // anomalous above this reconstruction error
}

func DefaultThresholds() Thresholds {
	return Thresholds{Iso: DefaultIsoThreshold, AE: DefaultAEThreshold}
}

// Decide applies the OR policy
func (t Thresholds) Decide(iso, ae float64) bool {
	return iso < t.Iso || ae > t.AE
}

// NopScorer never flags anything. It stands in when artifacts are unavailable.
type NopScorer struct{}

func (NopScorer) Score(decimal.Decimal) Result { return Result{} }
func (NopScorer) Available() bool              { return false }

// ModelScorer combines an isolation forest with an autoencoder over scaled features
type ModelScorer struct {
	scaler     *StandardScaler
	forest     *IsolationForest
	ae         *Autoencoder
	thresholds Thresholds
}

// NewModelScorer wires already-loaded models together
func NewModelScorer(scaler *StandardScaler, forest *IsolationForest, ae *Autoencoder, thresholds Thresholds) (*ModelScorer, error) {
	if scaler == nil || forest == nil || ae == nil {
		return nil, fmt.Errorf("scaler, isolation forest and autoencoder are all required")
	}
	if scaler.Size() != scoredFeatures {
		return nil, fmt.Errorf("scaler has %d features, want %d", scaler.Size(), scoredFeatures)
	}
	if ae.InputSize() != scaler.Size() || ae.OutputSize() != scaler.Size() {
		return nil, fmt.Errorf("autoencoder shape %dx%d does not match %d features", ae.InputSize(), ae.OutputSize(), scaler.Size())
	}
	return &ModelScorer{scaler: scaler, forest: forest, ae: ae, thresholds: thresholds}, nil
}

func (m *ModelScorer) Available() bool { return true }

// Score scales the amount, then takes the isolation forest decision value and
// the autoencoder mean squared reconstruction error
func (m *ModelScorer) Score(amount decimal.Decimal) Result {
	v, _ := amount.Float64()
	x := m.scaler.Transform([]float64{v})
	iso := m.forest.Decision(x)
	ae := m.ae.ReconstructionError(x)
	return Result{IsAnomaly: m.thresholds.Decide(iso, ae), IsoScore: iso, AEError: ae}
}

// AnomalyFinding is an anomalous transaction, credited to its receiver
type AnomalyFinding struct {
	UserID        uuid.UUID       `json:"user_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Result        Result          `json:"result"`
}

// Evaluate scores tx and returns a finding when it is anomalous
func Evaluate(s Scorer, tx store.Transaction) *AnomalyFinding {
	res := s.Score(tx.Amount)
	if !res.IsAnomaly {
		return nil
	}
	return &AnomalyFinding{UserID: tx.ToUserID, TransactionID: tx.ID, Amount: tx.Amount, Result: res}
}

func (f *AnomalyFinding) AlertType() store.AlertType { return store.AlertMLAnomaly }

func (f *AnomalyFinding) Message() string {
	return fmt.Sprintf("Anomalous transaction of ₹%s detected. (I-Forest:%.2f, AE-Error:%.4f)",
		rules.FormatAmount(f.Amount), f.Result.IsoScore, f.Result.AEError)
}

func (f *AnomalyFinding) Summary() string {
	return "ML model detected a significant deviation from normal activity."
}
