package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/Aidin1998/amlwatch/internal/compliance/aml/jobs"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubmitter struct {
	requests []jobs.Request
	err      error
}

func (f *fakeSubmitter) Submit(_ context.Context, req jobs.Request) (*store.AnalysisJob, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &store.AnalysisJob{JobID: "job-1", Kind: req.Kind, Status: store.JobPending}, nil
}

func TestIngestHandler(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	tests := []struct {
		name      string
		payload   string
		submitErr error
		wantErr   bool
		submitted int
	}{
		{
			name:      "valid batch",
			payload:   `{"job_id":"kafka-7","transactions":[{"from_account":"ACC1001","to_account":"ACC2001","amount":"45000"}]}`,
			submitted: 1,
		},
		{name: "malformed json", payload: `{"transactions":`},
		{name: "no transactions", payload: `{"transactions":[]}`},
		{name: "missing account", payload: `{"transactions":[{"from_account":"A","amount":"1"}]}`},
		{
			name:      "duplicate delivery",
			payload:   `{"job_id":"kafka-7","transactions":[{"from_account":"A","to_account":"B","amount":"1"}]}`,
			submitErr: store.ErrDuplicateJob,
			submitted: 1,
		},
		{
			name:      "submit failure",
			payload:   `{"transactions":[{"from_account":"A","to_account":"B","amount":"1"}]}`,
			submitErr: errors.New("database down"),
			wantErr:   true,
			submitted: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{err: tt.submitErr}
			err := IngestHandler(sub, logger)(ctx, &ReceivedMessage{Value: []byte(tt.payload)})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Len(t, sub.requests, tt.submitted)
			if tt.submitted > 0 {
				assert.Equal(t, store.JobIngestBatch, sub.requests[0].Kind)
				assert.Len(t, sub.requests[0].Params.Rows, 1)
			}
		})
	}
}

func TestAlertBatch(t *testing.T) {
	user, txID := uuid.New(), uuid.New()
	summary := "User sent multiple payments under reporting thresholds."
	batch := alertBatch([]store.Alert{
		{ID: uuid.New(), UserID: user, AlertType: store.AlertStructuringPayment, Reason: "r", AISummary: &summary, Status: store.AlertStatusOpen},
		{ID: uuid.New(), UserID: user, AlertType: store.AlertMLAnomaly, Reason: "r", Status: store.AlertStatusOpen, TransactionID: &txID},
	})
	require.Len(t, batch, 2)
	assert.Equal(t, user.String(), batch[0].Key)

	first := batch[0].Message.(*AlertMessage)
	assert.Equal(t, MsgAlertRecorded, first.Type)
	assert.Equal(t, "AML_STRUCTURING_PAYMENT", first.AlertType)
	assert.Empty(t, first.TransactionID)
	assert.NotEmpty(t, first.MessageID)

	second := batch[1].Message.(*AlertMessage)
	assert.Equal(t, txID.String(), second.TransactionID)

	msgs, err := encodeMessages(batch)
	require.NoError(t, err)
	assert.Contains(t, string(msgs[1].Value), `"alert_type":"ML_ANOMALY"`)
}
