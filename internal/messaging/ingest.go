package messaging

import (
	"context"
	"encoding/json"

	"github.com/Aidin1998/amlwatch/internal/compliance/aml/jobs"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ErrInvalidMessage is returned for payloads that can never be ingested
var ErrInvalidMessage = errors.Invalid.Reason("InvalidMessage").Explain("invalid ingest message")

// Submitter accepts jobs
type Submitter interface {
	Submit(ctx context.Context, req jobs.Request) (*store.AnalysisJob, error)
}

// IngestHandler turns ingest batch messages into INGEST_BATCH jobs. Redelivered
// messages carrying a job_id are dropped as duplicates.
func IngestHandler(sub Submitter, logger *zap.SugaredLogger) MessageHandler {
	validate := validator.New()
	return func(ctx context.Context, msg *ReceivedMessage) error {
		batch, err := decodeIngestBatch(validate, msg.Value)
		if err != nil {
			logger.Warnw("Dropping invalid ingest message", "offset", msg.Offset, "error", err)
			return nil
		}
		job, err := sub.Submit(ctx, jobs.Request{
			JobID:  batch.JobID,
			Kind:   store.JobIngestBatch,
			Params: jobs.Params{Rows: batch.Transactions},
		})
		if errors.Is(err, store.ErrDuplicateJob) {
			logger.Infow("Ingest batch already submitted", "job_id", batch.JobID)
			return nil
		}
		if err != nil {
			return err
		}
		logger.Infow("Ingest batch accepted", "job_id", job.JobID, "rows", len(batch.Transactions), "offset", msg.Offset)
		return nil
	}
}

func decodeIngestBatch(validate *validator.Validate, value []byte) (*IngestBatchMessage, error) {
	var batch IngestBatchMessage
	if err := json.Unmarshal(value, &batch); err != nil {
		return nil, ErrInvalidMessage.Explain("malformed json: %v", err)
	}
	if err := validate.Struct(&batch); err != nil {
		return nil, ErrInvalidMessage.Explain("%v", err)
	}
	return &batch, nil
}
