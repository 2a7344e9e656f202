package messaging

import (
	"time"

	"github.com/Aidin1998/amlwatch/internal/ingest"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/google/uuid"
)

// Topic is a Kafka topic name
type Topic string

// MessageType defines the type of message being sent
type MessageType string

const (
	MsgAlertRecorded MessageType = "alert.recorded"
	MsgIngestBatch   MessageType = "ingest.batch"
)

const messageVersion = "1"

// BaseMessage contains common fields for all messages
type BaseMessage struct {
	MessageID     string      `json:"message_id"`
	Type          MessageType `json:"type"`
	Timestamp     time.Time   `json:"timestamp"`
	Version       string      `json:"version"`
	Source        string      `json:"source"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{
		MessageID: uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Version:   messageVersion,
		Source:    "amlwatch",
	}
}

// AlertMessage is emitted once per stored alert
type AlertMessage struct {
	BaseMessage
	AlertID       string  `json:"alert_id"`
	UserID        string  `json:"user_id"`
	AlertType     string  `json:"alert_type"`
	Reason        string  `json:"reason"`
	AISummary     *string `json:"ai_summary,omitempty"`
	Status        string  `json:"status"`
	TransactionID string  `json:"transaction_id,omitempty"`
}

// NewAlertMessage converts a stored alert
func NewAlertMessage(a store.Alert) *AlertMessage {
	msg := &AlertMessage{
		BaseMessage: newBase(MsgAlertRecorded),
		AlertID:     a.ID.String(),
		UserID:      a.UserID.String(),
		AlertType:   string(a.AlertType),
		Reason:      a.Reason,
		AISummary:   a.AISummary,
		Status:      string(a.Status),
	}
	if a.TransactionID != nil {
		msg.TransactionID = a.TransactionID.String()
	}
	return msg
}

// IngestBatchMessage carries transfers from an upstream ledger. JobID, when
// set, makes redelivery of the same message a duplicate submission.
type IngestBatchMessage struct {
	BaseMessage
	JobID        string       `json:"job_id,omitempty" validate:"max=64"`
	Transactions []ingest.Row `json:"transactions" validate:"required,min=1,dive"`
}
