// Package rules holds the deterministic detection rules. Rules are pure
// functions over data already loaded from the store; they never persist.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction selects which side of a transfer the account must be on
type Direction string

const (
	// Outbound matches transfers the account sent (structuring by payment)
	Outbound Direction = "OUTBOUND"
	// Inbound matches transfers the account received (structuring by deposit)
	Inbound Direction = "INBOUND"
)

// bandFloor is the lower edge of the near-threshold band as a fraction of the threshold
var bandFloor = decimal.New(8, -1)

// StructuringParams configures one structuring rule
type StructuringParams struct {
	Threshold decimal.Decimal
	Window    time.Duration
	MinCount  int
}

// DefaultStructuringParams returns the reporting ceiling of 50,000 over 48 hours with 4 hits
func DefaultStructuringParams() StructuringParams {
	return StructuringParams{
		Threshold: decimal.NewFromInt(50000),
		Window:    48 * time.Hour,
		MinCount:  4,
	}
}

// Finding is a triggered structuring rule
type Finding struct {
	UserID         uuid.UUID       `json:"user_id"`
	Direction      Direction       `json:"direction"`
	Count          int             `json:"count"`
	Total          decimal.Decimal `json:"total"`
	Window         time.Duration   `json:"window"`
	TransactionIDs []uuid.UUID     `json:"transaction_ids"`
}

// AlertType maps the direction onto the persisted alert type
func (f *Finding) AlertType() store.AlertType {
	if f.Direction == Inbound {
		return store.AlertStructuringDeposit
	}
	return store.AlertStructuringPayment
}

// Message is the human readable alert reason
func (f *Finding) Message() string {
	hours := int(f.Window.Hours())
	if f.Direction == Inbound {
		return fmt.Sprintf("Structuring (Deposits) Detected: User received %d deposits totaling ₹%s in the last %d hours.",
			f.Count, FormatAmount(f.Total), hours)
	}
	return fmt.Sprintf("Structuring (Payments) Detected: User sent %d payments totaling ₹%s in the last %d hours.",
		f.Count, FormatAmount(f.Total), hours)
}

// Summary is the canned analyst summary attached to structuring alerts
func (f *Finding) Summary() string {
	if f.Direction == Inbound {
		return "User received multiple deposits, suggesting use as a mule account."
	}
	return "User sent multiple payments under reporting thresholds."
}

// EvaluateStructuring counts the account's transfers in the given direction whose
// amount lies strictly inside (0.8*threshold, threshold) and whose timestamp falls in
// [now-window, now]. It returns nil unless at least MinCount transfers match.
func EvaluateStructuring(history []store.Transaction, account uuid.UUID, dir Direction, p StructuringParams, now time.Time) *Finding {
	if len(history) == 0 || p.MinCount <= 0 {
		return nil
	}
	floor := p.Threshold.Mul(bandFloor)
	start := now.Add(-p.Window)

	finding := &Finding{UserID: account, Direction: dir, Window: p.Window, Total: decimal.Zero}
	for i := range history {
		tx := &history[i]
		if !matchesDirection(tx, account, dir) {
			continue
		}
		if tx.Timestamp.Before(start) || tx.Timestamp.After(now) {
			continue
		}
		if !tx.Amount.GreaterThan(floor) || !tx.Amount.LessThan(p.Threshold) {
			continue
		}
		finding.Count++
		finding.Total = finding.Total.Add(tx.Amount)
		finding.TransactionIDs = append(finding.TransactionIDs, tx.ID)
	}
	if finding.Count < p.MinCount {
		return nil
	}
	return finding
}

func matchesDirection(tx *store.Transaction, account uuid.UUID, dir Direction) bool {
	switch dir {
	case Outbound:
		return tx.FromUserID != nil && *tx.FromUserID == account
	case Inbound:
		return tx.ToUserID == account
	default:
		return false
	}
}

// Engine runs both structuring rules with shared parameters
type Engine struct {
	params StructuringParams
}

func NewEngine(params StructuringParams) *Engine {
	return &Engine{params: params}
}

// Params returns the configured parameters
func (e *Engine) Params() StructuringParams {
	return e.params
}

// Lookback is how far back history must reach for a complete evaluation
func (e *Engine) Lookback() time.Duration {
	return e.params.Window
}

// Evaluate runs the outbound and inbound rules over one account's history.
// The two rules test disjoint transaction sets (except self-transfers) so both always run.
func (e *Engine) Evaluate(history []store.Transaction, account uuid.UUID, now time.Time) []*Finding {
	var findings []*Finding
	for _, dir := range []Direction{Outbound, Inbound} {
		if f := EvaluateStructuring(history, account, dir, e.params, now); f != nil {
			findings = append(findings, f)
		}
	}
	return findings
}

// FormatAmount renders an amount with two decimals and thousands separators (180,000.00)
func FormatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart, frac = s[:dot], s[dot:]
	}
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + frac
}
