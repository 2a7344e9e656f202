package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/patrickmn/go-cache"
)

// Result is the polling view of a job. Non-terminal jobs expose only their status.
type Result struct {
	JobID         string          `json:"job_id"`
	Kind          store.JobKind   `json:"kind,omitempty"`
	Status        store.JobStatus `json:"status"`
	Findings      json.RawMessage `json:"findings,omitempty"`
	Visualization json.RawMessage `json:"visualization,omitempty"`
	Explanation   *string         `json:"explanation,omitempty"`
	Error         string          `json:"error,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the job will change no further
func (r *Result) Terminal() bool { return r.Status.Terminal() }

// Poll returns the current view of jobID. Unknown IDs return store.ErrJobNotFound.
// Terminal views are cached; a completed graph job is cached only once its
// explanation has landed.
func (o *Orchestrator) Poll(ctx context.Context, jobID string) (*Result, error) {
	if cached, ok := o.results.Get(jobID); ok {
		return cached.(*Result), nil
	}
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	res := &Result{JobID: job.JobID, Status: job.Status}
	if !job.Status.Terminal() {
		return res, nil
	}
	res.Kind = job.Kind
	res.Explanation = job.Explanation
	res.Error = job.Error
	res.CompletedAt = job.CompletedAt
	if job.Findings != "" {
		res.Findings = json.RawMessage(job.Findings)
	}
	if job.Visualization != "" {
		res.Visualization = json.RawMessage(job.Visualization)
	}

	awaitingExplanation := job.Kind == store.JobGraphAnalysis && job.Status == store.JobCompleted && job.Explanation == nil
	if !awaitingExplanation {
		o.results.Set(jobID, res, cache.DefaultExpiration)
	}
	return res, nil
}
