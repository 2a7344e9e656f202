package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Aidin1998/amlwatch/internal/advisor"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/alerts"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/graph"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/rules"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/scoring"
	"github.com/Aidin1998/amlwatch/internal/ingest"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/google/uuid"
)

const (
	reasonUserNotFound        = "User not found."
	reasonTransactionNotFound = "Transaction not found."
)

// outcome is what a handler hands back for the commit step
type outcome struct {
	status        store.JobStatus
	findings      interface{}
	visualization interface{}
	explanation   *string
	reason        string
	// write runs inside the commit transaction, before the status update
	write        func(ctx context.Context, tx store.Store) error
	alerts       []store.Alert
	explainGraph *graph.Findings
}

func completed(findings interface{}) *outcome {
	return &outcome{status: store.JobCompleted, findings: findings}
}

// notApplicable is a terminal non-exceptional failure: the input held nothing to analyze
func notApplicable(reason string) *outcome {
	return &outcome{status: store.JobFailed, findings: errorFindings(reason), reason: reason}
}

// IngestFindings reports what a batch ingestion wrote and raised
type IngestFindings struct {
	Transactions   int `json:"transactions"`
	AffectedUsers  int `json:"affected_users"`
	AlertsInserted int `json:"alerts_inserted"`
	AlertsSkipped  int `json:"alerts_skipped"`
	AnomaliesFound int `json:"anomalies_found"`
}

// ScreenFindings reports the structuring and anomaly results for one user
type ScreenFindings struct {
	Structuring []*rules.Finding `json:"structuring"`
	Anomaly     *scoring.Result  `json:"anomaly,omitempty"`
	Inserted    int              `json:"alerts_inserted"`
	Skipped     int              `json:"alerts_skipped"`
}

// KYCFindings reports the KYC check result
type KYCFindings struct {
	Passed  bool                   `json:"passed"`
	Reasons []string               `json:"reasons"`
	Matches []store.WatchlistEntry `json:"matches,omitempty"`
	Outcome alerts.Outcome         `json:"alert_outcome,omitempty"`
}

func (o *Orchestrator) run(ctx context.Context, job *store.AnalysisJob) (*outcome, error) {
	var params Params
	if job.Params != "" {
		if err := json.Unmarshal([]byte(job.Params), &params); err != nil {
			return nil, fmt.Errorf("failed to decode job params: %w", err)
		}
	}

	switch job.Kind {
	case store.JobIngestBatch:
		return o.ingestBatch(params)
	case store.JobTransactionScreen:
		return o.screen(ctx, *job.SubjectUserID, params.TransactionID)
	case store.JobStructuringSweep:
		return o.screen(ctx, *job.SubjectUserID, nil)
	case store.JobAnomalyScore:
		return o.scoreTransaction(ctx, *params.TransactionID)
	case store.JobGraphAnalysis:
		return o.analyzeGraph(ctx, *job.SubjectUserID)
	case store.JobKYCCheck:
		return o.checkKYC(ctx, *job.SubjectUserID)
	case store.JobExplainRisk, store.JobGenerateSAR:
		return o.advise(ctx, job.Kind, *job.SubjectUserID)
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// ingestBatch writes every row before any detection runs, so detection reads
// the batch as part of "all transactions so far". Everything commits together.
func (o *Orchestrator) ingestBatch(params Params) (*outcome, error) {
	out := completed(nil)
	out.write = func(ctx context.Context, tx store.Store) error {
		now := o.now()
		valid := make([]ingest.Row, 0, len(params.Rows))
		skipped := 0
		for _, r := range params.Rows {
			if !r.Normalize() {
				skipped++
				continue
			}
			valid = append(valid, r)
		}

		names := make([]string, 0, len(valid)*2)
		for _, r := range valid {
			names = append(names, r.FromAccount, r.ToAccount)
		}
		ids, err := tx.FindOrCreateUsers(ctx, names)
		if err != nil {
			return err
		}

		txs := make([]store.Transaction, 0, len(valid))
		for _, r := range valid {
			from := ids[r.FromAccount]
			txs = append(txs, store.Transaction{
				ID:          uuid.New(),
				FromUserID:  &from,
				ToUserID:    ids[r.ToAccount],
				Amount:      r.Amount,
				Currency:    r.Currency,
				Description: r.Description,
				Timestamp:   now,
			})
		}
		if err := tx.BulkCreateTransactions(ctx, txs); err != nil {
			return err
		}

		affected := make([]uuid.UUID, 0, len(ids))
		for _, id := range ids {
			affected = append(affected, id)
		}
		sort.Slice(affected, func(i, j int) bool { return affected[i].String() < affected[j].String() })

		batch := o.sink.NewBatch()
		since := now.Add(-o.rules.Lookback())
		for _, user := range affected {
			history, err := tx.TransactionsForUser(ctx, user, since)
			if err != nil {
				return err
			}
			for _, f := range o.rules.Evaluate(history, user, now) {
				batch.Add(alerts.FromStructuring(f))
			}
		}
		anomalies := 0
		if o.scorer.Available() {
			for _, t := range txs {
				if f := scoring.Evaluate(o.scorer, t); f != nil {
					anomalies++
					batch.Add(alerts.FromAnomaly(f))
				}
			}
		}

		res, err := batch.Flush(ctx, tx)
		if err != nil {
			return err
		}
		out.alerts = res.Alerts
		out.findings = IngestFindings{
			Transactions:   len(txs),
			AffectedUsers:  len(affected),
			AlertsInserted: res.Inserted,
			AlertsSkipped:  res.Skipped,
			AnomaliesFound: anomalies,
		}
		if skipped > 0 {
			o.logger.Warnw("Skipped invalid ingest rows", "count", skipped)
		}
		return nil
	}
	return out, nil
}

// screen runs both structuring directions for one user through the
// single-record sink path, and scores txID when given
func (o *Orchestrator) screen(ctx context.Context, userID uuid.UUID, txID *uuid.UUID) (*outcome, error) {
	if _, err := o.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notApplicable(reasonUserNotFound), nil
		}
		return nil, err
	}
	out := completed(nil)
	out.write = func(ctx context.Context, tx store.Store) error {
		now := o.now()
		history, err := tx.TransactionsForUser(ctx, userID, now.Add(-o.rules.Lookback()))
		if err != nil {
			return err
		}
		findings := ScreenFindings{Structuring: o.rules.Evaluate(history, userID, now)}
		if findings.Structuring == nil {
			findings.Structuring = []*rules.Finding{}
		}
		for _, f := range findings.Structuring {
			if err := o.recordIn(ctx, tx, alerts.FromStructuring(f), out, &findings.Inserted, &findings.Skipped); err != nil {
				return err
			}
		}

		if txID != nil {
			t, err := tx.GetTransaction(ctx, *txID)
			if err != nil {
				return err
			}
			res := o.scorer.Score(t.Amount)
			findings.Anomaly = &res
			if f := scoring.Evaluate(o.scorer, *t); f != nil {
				if err := o.recordIn(ctx, tx, alerts.FromAnomaly(f), out, &findings.Inserted, &findings.Skipped); err != nil {
					return err
				}
			}
		}
		out.findings = findings
		return nil
	}
	return out, nil
}

func (o *Orchestrator) scoreTransaction(ctx context.Context, txID uuid.UUID) (*outcome, error) {
	t, err := o.store.GetTransaction(ctx, txID)
	if errors.Is(err, store.ErrNotFound) {
		return notApplicable(reasonTransactionNotFound), nil
	}
	if err != nil {
		return nil, err
	}
	out := completed(nil)
	out.write = func(ctx context.Context, tx store.Store) error {
		res := o.scorer.Score(t.Amount)
		findings := ScreenFindings{Structuring: []*rules.Finding{}, Anomaly: &res}
		if f := scoring.Evaluate(o.scorer, *t); f != nil {
			if err := o.recordIn(ctx, tx, alerts.FromAnomaly(f), out, &findings.Inserted, &findings.Skipped); err != nil {
				return err
			}
		}
		out.findings = findings
		return nil
	}
	return out, nil
}

func (o *Orchestrator) recordIn(ctx context.Context, tx store.Store, r alerts.Record, out *outcome, inserted, skipped *int) error {
	res, alert, err := o.sink.RecordIn(ctx, tx, r)
	if err != nil {
		return err
	}
	if res == alerts.Inserted {
		*inserted++
		out.alerts = append(out.alerts, *alert)
	} else {
		*skipped++
	}
	return nil
}

func (o *Orchestrator) analyzeGraph(ctx context.Context, userID uuid.UUID) (*outcome, error) {
	analysis, err := o.graph.Analyze(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !analysis.Applicable {
		return notApplicable(analysis.Reason), nil
	}

	users, err := o.store.UsersByIDs(ctx, analysis.Graph.Nodes)
	if err != nil {
		return nil, err
	}
	labels := make(map[uuid.UUID]string, len(users))
	for id, u := range users {
		labels[id] = u.FullName
	}

	out := completed(analysis.Findings)
	out.visualization = graph.Layout(analysis.Graph, analysis.Findings, analysis.Ranks, labels)
	out.explainGraph = analysis.Findings
	return out, nil
}

// checkKYC screens the user outside the commit transaction, since the summary
// comes from the text generator; only the alert write is transactional
func (o *Orchestrator) checkKYC(ctx context.Context, userID uuid.UUID) (*outcome, error) {
	user, err := o.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return notApplicable(reasonUserNotFound), nil
	}
	if err != nil {
		return nil, err
	}
	watchlist, err := o.store.ListWatchlist(ctx)
	if err != nil {
		return nil, err
	}

	finding := o.kyc.Check(*user, watchlist)
	if finding == nil {
		out := completed(KYCFindings{Passed: true, Reasons: []string{}})
		text := advisor.KYCPassed
		out.explanation = &text
		return out, nil
	}

	summary := o.advisor.KYCSummary(ctx, finding.Reasons)
	findings := KYCFindings{Reasons: finding.Reasons, Matches: finding.Matches}
	out := completed(nil)
	out.explanation = &summary
	out.write = func(ctx context.Context, tx store.Store) error {
		res, alert, err := o.sink.RecordIn(ctx, tx, alerts.FromKYC(finding, &summary))
		if err != nil {
			return err
		}
		findings.Outcome = res
		if alert != nil {
			out.alerts = append(out.alerts, *alert)
		}
		out.findings = findings
		return nil
	}
	return out, nil
}

func (o *Orchestrator) advise(ctx context.Context, kind store.JobKind, userID uuid.UUID) (*outcome, error) {
	dossier, err := o.advisor.Dossier(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return notApplicable(reasonUserNotFound), nil
	}
	if err != nil {
		return nil, err
	}

	var text string
	if kind == store.JobGenerateSAR {
		text = o.advisor.DraftSAR(ctx, dossier)
	} else {
		text = o.advisor.ExplainRisk(ctx, dossier)
	}
	out := completed(dossier)
	out.explanation = &text
	return out, nil
}
