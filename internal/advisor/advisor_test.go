package advisor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Aidin1998/amlwatch/internal/advisor"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/graph"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeGenerator struct {
	prompts []string
	reply   string
	err     error
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

func setupStore(t *testing.T) *store.GormStore {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	s := store.NewGormStore(db)
	require.NoError(t, s.Migrate())
	return s
}

func TestDossier(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	ids, err := st.FindOrCreateUsers(ctx, []string{"Alice", "Bob"})
	require.NoError(t, err)
	alice, bob := ids["Alice"], ids["Bob"]

	require.NoError(t, st.BulkCreateTransactions(ctx, []store.Transaction{
		{FromUserID: &alice, ToUserID: bob, Amount: decimal.NewFromInt(45000)},
		{FromUserID: &bob, ToUserID: alice, Amount: decimal.NewFromInt(1000)},
	}))
	_, err = st.BulkCreateAlerts(ctx, []store.Alert{
		{UserID: alice, AlertType: store.AlertStructuringPayment, Reason: "structuring"},
		{UserID: alice, AlertType: store.AlertMLAnomaly, Reason: "anomaly 1"},
		{UserID: alice, AlertType: store.AlertMLAnomaly, Reason: "anomaly 2"},
	})
	require.NoError(t, err)

	adv := advisor.New(st, nil, zap.NewNop().Sugar())
	d, err := adv.Dossier(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "Alice", d.UserProfile.FullName)
	assert.Equal(t, 3, d.SummaryStats.TotalAlerts)
	assert.Equal(t, []store.AlertType{store.AlertStructuringPayment, store.AlertMLAnomaly}, d.SummaryStats.AlertTypes)
	assert.True(t, d.SummaryStats.TotalSent.Equal(decimal.NewFromInt(45000)))
	assert.True(t, d.SummaryStats.TotalReceived.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, int64(2), d.SummaryStats.TransactionCount)

	_, err = adv.Dossier(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExplainRiskAndSAR_NoAlerts(t *testing.T) {
	gen := &fakeGenerator{reply: "should not be used"}
	adv := advisor.New(nil, gen, zap.NewNop().Sugar())
	d := &advisor.Dossier{}

	assert.Equal(t, advisor.NoRiskExplanation, adv.ExplainRisk(context.Background(), d))
	assert.Equal(t, advisor.NoSARWarranted, adv.DraftSAR(context.Background(), d))
	assert.Empty(t, gen.prompts)
}

func TestExplainRiskAndSAR(t *testing.T) {
	gen := &fakeGenerator{reply: "Escalate for Investigation"}
	adv := advisor.New(nil, gen, zap.NewNop().Sugar())
	d := &advisor.Dossier{
		UserProfile: advisor.Profile{FullName: "Alice"},
		Alerts:      []advisor.AlertEvidence{{Type: store.AlertKYCFlag, Reason: "from high-risk country: Iran"}},
	}

	assert.Equal(t, "Escalate for Investigation", adv.ExplainRisk(context.Background(), d))
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "expert financial crime investigator")
	assert.Contains(t, gen.prompts[0], "from high-risk country: Iran")

	adv.DraftSAR(context.Background(), d)
	require.Len(t, gen.prompts, 2)
	assert.Contains(t, gen.prompts[1], "Narrative of Suspicious Activity")

	gen.err = errors.New("down")
	assert.Equal(t, advisor.RiskUnavailable, adv.ExplainRisk(context.Background(), d))
	assert.Equal(t, advisor.SARDraftUnavailable, adv.DraftSAR(context.Background(), d))
}

func TestKYCSummary(t *testing.T) {
	gen := &fakeGenerator{reply: "User is from a sanctioned jurisdiction."}
	adv := advisor.New(nil, gen, zap.NewNop().Sugar())

	assert.Equal(t, advisor.KYCPassed, adv.KYCSummary(context.Background(), nil))
	assert.Empty(t, gen.prompts)

	adv.KYCSummary(context.Background(), []string{"from high-risk country: Syria", "matches watchlist: Bad Actor"})
	require.Len(t, gen.prompts, 1)
	assert.Equal(t, "Concisely summarize this compliance risk in one sentence: A user was flagged for these reasons: "+
		"from high-risk country: Syria, matches watchlist: Bad Actor.", gen.prompts[0])

	gen.err = errors.New("down")
	assert.Equal(t, advisor.SummaryUnavailable, adv.KYCSummary(context.Background(), []string{"r"}))
}

func TestExplainGraph(t *testing.T) {
	root, peer := uuid.New(), uuid.New()
	tests := []struct {
		name     string
		findings *graph.Findings
		wantCall bool
		contains string
	}{
		{"nil", nil, false, ""},
		{"quiet", &graph.Findings{PageRankScore: 0.02, BetweennessScore: 0.1, Cycles: [][]uuid.UUID{}}, false, ""},
		{"hub", &graph.Findings{PageRankScore: 0.35, Cycles: [][]uuid.UUID{}}, true, "financial hub (PageRank: 0.350)"},
		{"cycle", &graph.Findings{Cycles: [][]uuid.UUID{{root, peer}}}, true, "2-node money laundering cycle"},
		{"bridge", &graph.Findings{BetweennessScore: 0.5, Cycles: [][]uuid.UUID{}}, true, "financial bridge (Betweenness: 0.50)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{reply: "explained"}
			adv := advisor.New(nil, gen, zap.NewNop().Sugar())
			got, ok := adv.ExplainGraph(context.Background(), tt.findings)
			assert.True(t, ok)
			if !tt.wantCall {
				assert.Equal(t, advisor.NoGraphPatterns, got)
				assert.Empty(t, gen.prompts)
				return
			}
			assert.Equal(t, "explained", got)
			require.Len(t, gen.prompts, 1)
			assert.Contains(t, gen.prompts[0], tt.contains)
		})
	}
}

func TestExplainGraph_GeneratorFailure(t *testing.T) {
	adv := advisor.New(nil, &fakeGenerator{err: errors.New("timeout")}, zap.NewNop().Sugar())
	got, ok := adv.ExplainGraph(context.Background(), &graph.Findings{PageRankScore: 0.5})
	assert.False(t, ok)
	assert.Empty(t, got)
}
