// Package advisor assembles evidence dossiers and turns findings into analyst
// prose through a text generator. Generation never fails a caller: every
// method degrades to a fixed string.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Aidin1998/amlwatch/internal/compliance/aml/graph"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/Aidin1998/amlwatch/internal/textgen"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Fixed outputs
const (
	NoRiskExplanation   = "No open alerts; user appears low-risk."
	NoSARWarranted      = "No suspicious activity found. SAR not warranted."
	NoGraphPatterns     = "No significant graph patterns were detected."
	KYCPassed           = "KYC check passed. No issues found."
	SummaryUnavailable  = "AI summary could not be generated."
	RiskUnavailable     = "AI risk explanation could not be generated."
	SARDraftUnavailable = "SAR draft could not be generated."
)

const (
	hubPageRank       = 0.02
	bridgeBetweenness = 0.1
)

// Source is the slice of the store the advisor reads
type Source interface {
	GetUser(ctx context.Context, id uuid.UUID) (*store.User, error)
	ListAlerts(ctx context.Context, userID uuid.UUID, limit int) ([]store.Alert, error)
	SummarizeUser(ctx context.Context, userID uuid.UUID) (*store.UserSummary, error)
}

type Profile struct {
	ID          uuid.UUID `json:"id"`
	FullName    string    `json:"full_name"`
	Country     string    `json:"country"`
	MemberSince time.Time `json:"member_since"`
}

type AlertEvidence struct {
	Type      store.AlertType `json:"type"`
	Reason    string          `json:"reason"`
	AISummary *string         `json:"ai_summary"`
	Timestamp time.Time       `json:"timestamp"`
}

type SummaryStats struct {
	TotalAlerts      int               `json:"total_alerts"`
	AlertTypes       []store.AlertType `json:"alert_types"`
	TotalSent        decimal.Decimal   `json:"total_sent"`
	TotalReceived    decimal.Decimal   `json:"total_received"`
	TransactionCount int64             `json:"transaction_count"`
}

// Dossier is the evidence handed to the generator for risk and SAR prose
type Dossier struct {
	UserProfile  Profile         `json:"user_profile"`
	Alerts       []AlertEvidence `json:"alerts"`
	SummaryStats SummaryStats    `json:"summary_stats"`
}

type Advisor struct {
	src    Source
	gen    textgen.Generator
	logger *zap.SugaredLogger
}

func New(src Source, gen textgen.Generator, logger *zap.SugaredLogger) *Advisor {
	if gen == nil {
		gen = textgen.Disabled{}
	}
	return &Advisor{src: src, gen: gen, logger: logger}
}

// Dossier gathers a user's profile, alerts (newest first) and flow totals
func (a *Advisor) Dossier(ctx context.Context, userID uuid.UUID) (*Dossier, error) {
	user, err := a.src.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	alerts, err := a.src.ListAlerts(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	summary, err := a.src.SummarizeUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	d := &Dossier{
		UserProfile: Profile{ID: user.ID, FullName: user.FullName, Country: user.Country, MemberSince: user.CreatedAt.UTC()},
		Alerts:      make([]AlertEvidence, 0, len(alerts)),
		SummaryStats: SummaryStats{
			TotalAlerts:      len(alerts),
			AlertTypes:       []store.AlertType{},
			TotalSent:        summary.TotalSent,
			TotalReceived:    summary.TotalReceived,
			TransactionCount: summary.TransactionCount,
		},
	}
	types := make(map[store.AlertType]bool)
	for _, al := range alerts {
		d.Alerts = append(d.Alerts, AlertEvidence{Type: al.AlertType, Reason: al.Reason, AISummary: al.AISummary, Timestamp: al.CreatedAt.UTC()})
		if !types[al.AlertType] {
			types[al.AlertType] = true
			d.SummaryStats.AlertTypes = append(d.SummaryStats.AlertTypes, al.AlertType)
		}
	}
	sort.Slice(d.SummaryStats.AlertTypes, func(i, j int) bool {
		return d.SummaryStats.AlertTypes[i] < d.SummaryStats.AlertTypes[j]
	})
	return d, nil
}

// ExplainRisk summarizes overall risk and recommends a next action
func (a *Advisor) ExplainRisk(ctx context.Context, d *Dossier) string {
	if len(d.Alerts) == 0 {
		return NoRiskExplanation
	}
	evidence, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return RiskUnavailable
	}
	prompt := fmt.Sprintf("You are an expert financial crime investigator. Here is a user's dossier:\n```json\n%s\n```\n"+
		"Summarize the user's overall risk level, list the top 2-3 most severe risk factors, and recommend a next action "+
		"(e.g., 'Continue Monitoring', 'Escalate for Investigation'). Be concise.", evidence)
	return a.generate(ctx, "explain_risk", prompt, RiskUnavailable)
}

// DraftSAR writes a suspicious activity report narrative
func (a *Advisor) DraftSAR(ctx context.Context, d *Dossier) string {
	if len(d.Alerts) == 0 {
		return NoSARWarranted
	}
	evidence, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return SARDraftUnavailable
	}
	prompt := fmt.Sprintf("You are a compliance officer. Draft a formal SAR narrative based on this evidence:\n```json\n%s\n```\n"+
		"Use sections for Introduction, Narrative of Suspicious Activity, and Conclusion. Be factual.", evidence)
	return a.generate(ctx, "generate_sar", prompt, SARDraftUnavailable)
}

// KYCSummary condenses KYC reasons into one sentence
func (a *Advisor) KYCSummary(ctx context.Context, reasons []string) string {
	if len(reasons) == 0 {
		return KYCPassed
	}
	prompt := fmt.Sprintf("Concisely summarize this compliance risk in one sentence: A user was flagged for these reasons: %s.",
		strings.Join(reasons, ", "))
	return a.generate(ctx, "kyc_summary", prompt, SummaryUnavailable)
}

// ExplainGraph describes the network risk in f. The generator is only called
// when a cycle, hub or bridge signal is present; ok is false when that call fails.
func (a *Advisor) ExplainGraph(ctx context.Context, f *graph.Findings) (text string, ok bool) {
	if f == nil {
		return NoGraphPatterns, true
	}
	lines := []string{"You are a compliance investigator. Explain the primary risk of this network structure:"}
	if len(f.Cycles) > 0 && len(f.Cycles[0]) > 0 {
		lines = append(lines, fmt.Sprintf("- The entity is part of a %d-node money laundering cycle.", len(f.Cycles[0])))
	}
	if f.PageRankScore > hubPageRank {
		lines = append(lines, fmt.Sprintf("- The user is a financial hub (PageRank: %.3f).", f.PageRankScore))
	}
	if f.BetweennessScore > bridgeBetweenness {
		lines = append(lines, fmt.Sprintf("- The user is a financial bridge (Betweenness: %.2f).", f.BetweennessScore))
	}
	if len(lines) == 1 {
		return NoGraphPatterns, true
	}
	text, err := a.gen.Generate(ctx, strings.Join(lines, "\n"))
	if err != nil {
		a.logger.Warnw("Text generation failed", "purpose", "graph_explanation", "error", err)
		return "", false
	}
	return text, true
}

func (a *Advisor) generate(ctx context.Context, purpose, prompt, fallback string) string {
	text, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		a.logger.Warnw("Text generation failed", "purpose", purpose, "error", err)
		return fallback
	}
	return text
}
