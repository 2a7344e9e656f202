// Package jobs runs analyses as tracked jobs. A job is persisted PENDING
// before it is queued, moves to RUNNING when a worker claims it and always
// ends COMPLETED or FAILED.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Aidin1998/amlwatch/internal/advisor"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/alerts"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/graph"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/rules"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/scoring"
	"github.com/Aidin1998/amlwatch/internal/config"
	"github.com/Aidin1998/amlwatch/internal/ingest"
	"github.com/Aidin1998/amlwatch/internal/queue"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/Aidin1998/amlwatch/pkg/metrics"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const maxJobIDLength = 64

// ErrInvalidRequest is returned for submissions that can never run
var ErrInvalidRequest = errors.Invalid.Reason("InvalidJobRequest").Explain("invalid job request")

// Params is the job input persisted with the job record
type Params struct {
	Rows          []ingest.Row `json:"rows,omitempty"`
	TransactionID *uuid.UUID   `json:"transaction_id,omitempty"`
}

// Request asks for one job. JobID is optional; a UUID is generated when empty.
type Request struct {
	JobID  string
	Kind   store.JobKind
	UserID *uuid.UUID
	Params Params
}

// Deps are the collaborators a job may need
type Deps struct {
	Store    store.Store
	Queue    queue.Queue
	Rules    *rules.Engine
	KYC      *rules.KYCChecker
	Graph    *graph.Analyzer
	Scorer   scoring.Scorer
	Sink     *alerts.Sink
	Advisor  *advisor.Advisor
	Logger   *zap.SugaredLogger
	Settings config.JobsConfig
}

// Orchestrator accepts, runs and reports jobs
type Orchestrator struct {
	store   store.Store
	queue   queue.Queue
	rules   *rules.Engine
	kyc     *rules.KYCChecker
	graph   *graph.Analyzer
	scorer  scoring.Scorer
	sink    *alerts.Sink
	advisor *advisor.Advisor
	cfg     config.JobsConfig
	logger  *zap.SugaredLogger
	results *cache.Cache
	now     func() time.Time

	workers    []*Worker
	workerWG   sync.WaitGroup
	background sync.WaitGroup
	cancel     context.CancelFunc
	stopOnce   sync.Once
}

func NewOrchestrator(deps Deps) *Orchestrator {
	cfg := deps.Settings
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ExplanationTimeout <= 0 {
		cfg.ExplanationTimeout = 30 * time.Second
	}
	if cfg.ResultCacheTTL <= 0 {
		cfg.ResultCacheTTL = 10 * time.Minute
	}
	scorer := deps.Scorer
	if scorer == nil {
		scorer = scoring.NopScorer{}
	}
	return &Orchestrator{
		store:   deps.Store,
		queue:   deps.Queue,
		rules:   deps.Rules,
		kyc:     deps.KYC,
		graph:   deps.Graph,
		scorer:  scorer,
		sink:    deps.Sink,
		advisor: deps.Advisor,
		cfg:     cfg,
		logger:  deps.Logger,
		results: cache.New(cfg.ResultCacheTTL, 2*cfg.ResultCacheTTL),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit persists the job as PENDING and queues it. The record exists before
// Submit returns, so a poll never sees an unknown ID for an accepted job.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*store.AnalysisJob, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	params, err := json.Marshal(req.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job params: %w", err)
	}

	job := &store.AnalysisJob{
		JobID:         jobID,
		Kind:          req.Kind,
		SubjectUserID: req.UserID,
		Status:        store.JobPending,
		Params:        string(params),
		CreatedAt:     o.now(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	metrics.JobsSubmitted.WithLabelValues(string(job.Kind)).Inc()

	if err := o.queue.Enqueue(ctx, jobID); err != nil {
		o.logger.Errorw("Failed to enqueue job", "job_id", jobID, "kind", job.Kind, "error", err)
		o.fail(context.Background(), job, fmt.Errorf("failed to enqueue job: %w", err))
		return nil, err
	}
	o.logger.Infow("Job submitted", "job_id", jobID, "kind", job.Kind)
	return job, nil
}

func validateRequest(req Request) error {
	if len(req.JobID) > maxJobIDLength {
		return ErrInvalidRequest.Explain("job_id longer than %d characters", maxJobIDLength)
	}
	switch req.Kind {
	case store.JobIngestBatch:
		if len(req.Params.Rows) == 0 {
			return ErrInvalidRequest.Explain("ingest batch has no rows")
		}
	case store.JobAnomalyScore:
		if req.Params.TransactionID == nil {
			return ErrInvalidRequest.Explain("anomaly score requires a transaction_id")
		}
	case store.JobTransactionScreen:
		if req.UserID == nil || req.Params.TransactionID == nil {
			return ErrInvalidRequest.Explain("transaction screen requires a user and a transaction_id")
		}
	case store.JobStructuringSweep, store.JobGraphAnalysis, store.JobKYCCheck, store.JobExplainRisk, store.JobGenerateSAR:
		if req.UserID == nil {
			return ErrInvalidRequest.Explain("%s requires a user", req.Kind)
		}
	default:
		return ErrInvalidRequest.Explain("unknown job kind %q", req.Kind)
	}
	return nil
}

// Process claims and runs one queued job to a terminal state. A job that is no
// longer PENDING (duplicate delivery, expired) is left untouched.
func (o *Orchestrator) Process(ctx context.Context, jobID string) (err error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	startedAt := o.now()
	if err := o.store.MarkJobRunning(ctx, jobID, startedAt); err != nil {
		return err
	}
	job.Status = store.JobRunning
	job.StartedAt = &startedAt

	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorw("Job panic recovered", "job_id", jobID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
			o.fail(context.Background(), job, err)
		}
		metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(startedAt).Seconds())
	}()

	out, err := o.run(ctx, job)
	if err == nil {
		err = o.commit(ctx, job, out)
	}
	if err != nil {
		o.logger.Errorw("Job failed", "job_id", jobID, "kind", job.Kind, "error", err)
		o.fail(context.Background(), job, err)
		return err
	}

	metrics.JobsFinished.WithLabelValues(string(job.Kind), string(out.status)).Inc()
	o.logger.Infow("Job finished", "job_id", jobID, "kind", job.Kind, "status", out.status)
	o.sink.Publish(ctx, out.alerts)
	if out.explainGraph != nil {
		o.explainAsync(jobID, out.explainGraph)
	}
	return nil
}

// commit applies the job's writes and its terminal status in one transaction
func (o *Orchestrator) commit(ctx context.Context, job *store.AnalysisJob, out *outcome) error {
	findings, err := encodeJSON(out.findings)
	if err != nil {
		return err
	}
	visualization, err := encodeJSON(out.visualization)
	if err != nil {
		return err
	}
	return o.store.WithTx(ctx, func(tx store.Store) error {
		if out.write != nil {
			if err := out.write(ctx, tx); err != nil {
				return err
			}
			// write may fill in findings
			if findings, err = encodeJSON(out.findings); err != nil {
				return err
			}
		}
		if err := tx.FinishJob(ctx, job.JobID, store.JobOutcome{
			Status:        out.status,
			Findings:      findings,
			Visualization: visualization,
			Error:         out.reason,
			CompletedAt:   o.now(),
		}); err != nil {
			return err
		}
		if out.explanation != nil && out.status == store.JobCompleted {
			return tx.SetJobExplanation(ctx, job.JobID, *out.explanation)
		}
		return nil
	})
}

// fail records err on the job after any partial writes were rolled back
func (o *Orchestrator) fail(ctx context.Context, job *store.AnalysisJob, cause error) {
	current, err := o.store.GetJob(ctx, job.JobID)
	if err != nil {
		o.logger.Errorw("Failed to reload job for failure", "job_id", job.JobID, "error", err)
		return
	}
	if current.Status.Terminal() {
		return
	}
	findings, _ := encodeJSON(errorFindings(cause.Error()))
	err = o.store.FinishJob(ctx, job.JobID, store.JobOutcome{
		Status:      store.JobFailed,
		Findings:    findings,
		Error:       cause.Error(),
		CompletedAt: o.now(),
	})
	if err != nil {
		o.logger.Errorw("Failed to mark job failed", "job_id", job.JobID, "error", err)
		return
	}
	metrics.JobsFinished.WithLabelValues(string(job.Kind), string(store.JobFailed)).Inc()
}

// explainAsync annotates a completed graph job. It runs detached from the job
// and can only ever add an explanation.
func (o *Orchestrator) explainAsync(jobID string, findings *graph.Findings) {
	if o.advisor == nil {
		return
	}
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		defer o.results.Delete(jobID)
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ExplanationTimeout)
		defer cancel()

		text, ok := o.advisor.ExplainGraph(ctx, findings)
		if !ok {
			// the job stays COMPLETED with no explanation
			o.logger.Warnw("Graph explanation unavailable", "job_id", jobID)
			return
		}
		// the store write gets its own budget so a slow generator cannot starve it
		writeCtx, writeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer writeCancel()
		if err := o.store.SetJobExplanation(writeCtx, jobID, text); err != nil {
			o.logger.Warnw("Failed to store graph explanation", "job_id", jobID, "error", err)
		}
	}()
}

// SweepOrphans fails RUNNING jobs whose worker has evidently gone away and
// PENDING jobs that never reached a worker, e.g. dropped from an in-memory
// queue at shutdown
func (o *Orchestrator) SweepOrphans(ctx context.Context) (int64, error) {
	now := o.now()
	findings, _ := encodeJSON(errorFindings(orphanReason))
	n, err := o.store.ExpireStaleJobs(ctx, now.Add(-o.cfg.OrphanTTL), store.JobOutcome{
		Status:      store.JobFailed,
		Findings:    findings,
		Error:       orphanReason,
		CompletedAt: now,
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.JobsExpired.Add(float64(n))
		o.logger.Warnw("Expired orphaned jobs", "count", n, "ttl", o.cfg.OrphanTTL)
	}
	return n, nil
}

const orphanReason = "job expired before completing"

func errorFindings(reason string) map[string]string {
	return map[string]string{"error": reason}
}

func encodeJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}
	return string(b), nil
}
