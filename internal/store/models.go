package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertType enumerates the kinds of finding an alert can carry
type AlertType string

const (
	AlertStructuringPayment AlertType = "AML_STRUCTURING_PAYMENT"
	AlertStructuringDeposit AlertType = "AML_STRUCTURING_DEPOSIT"
	AlertKYCFlag            AlertType = "KYC_FLAG"
	AlertMLAnomaly          AlertType = "ML_ANOMALY"
)

// Deduplicated reports whether at most one OPEN alert of this type may exist per user.
// ML anomalies are per transaction and always inserted.
func (t AlertType) Deduplicated() bool {
	return t != AlertMLAnomaly
}

// AlertStatus is managed by case handling outside of detection
type AlertStatus string

const (
	AlertStatusOpen      AlertStatus = "OPEN"
	AlertStatusEscalated AlertStatus = "ESCALATED"
	AlertStatusClosed    AlertStatus = "CLOSED"
)

// JobStatus is the lifecycle state of an analysis job
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition enforces PENDING -> RUNNING -> {COMPLETED, FAILED}.
// A PENDING job may also fail directly (e.g. it expired before a worker picked it up).
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobPending:
		return to == JobRunning || to == JobFailed
	case JobRunning:
		return to == JobCompleted || to == JobFailed
	default:
		return false
	}
}

// JobKind selects the work a job performs
type JobKind string

const (
	JobIngestBatch       JobKind = "INGEST_BATCH"
	JobTransactionScreen JobKind = "TRANSACTION_SCREEN"
	JobStructuringSweep  JobKind = "STRUCTURING_SWEEP"
	JobGraphAnalysis     JobKind = "GRAPH_ANALYSIS"
	JobAnomalyScore      JobKind = "ANOMALY_SCORE"
	JobKYCCheck          JobKind = "KYC_CHECK"
	JobExplainRisk       JobKind = "EXPLAIN_RISK"
	JobGenerateSAR       JobKind = "GENERATE_SAR"
)

// User is an account holder
type User struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	FullName  string    `json:"full_name" gorm:"uniqueIndex;not null" validate:"required,max=255"`
	Email     string    `json:"email" gorm:"index" validate:"omitempty,email"`
	Country   string    `json:"country" validate:"omitempty,max=100"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is an immutable directed money movement. FromUserID is nil for
// funds that originate outside the ledger.
type Transaction struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	FromUserID  *uuid.UUID      `json:"from_user_id" gorm:"type:uuid;index"`
	ToUserID    uuid.UUID       `json:"to_user_id" gorm:"type:uuid;index;not null"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(20,2);not null"`
	Currency    string          `json:"currency" gorm:"type:varchar(10);not null"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp" gorm:"index;not null"`
}

// Alert is one finding attached to a user
type Alert struct {
	ID            uuid.UUID   `json:"id" gorm:"primaryKey;type:uuid"`
	UserID        uuid.UUID   `json:"user_id" gorm:"type:uuid;index:idx_alert_user_type_status;not null"`
	AlertType     AlertType   `json:"alert_type" gorm:"type:varchar(50);index:idx_alert_user_type_status;not null"`
	Reason        string      `json:"reason" gorm:"type:text;not null"`
	AISummary     *string     `json:"ai_summary" gorm:"type:text"`
	Status        AlertStatus `json:"status" gorm:"type:varchar(20);index:idx_alert_user_type_status;not null"`
	TransactionID *uuid.UUID  `json:"transaction_id,omitempty" gorm:"type:uuid"`
	CreatedAt     time.Time   `json:"created_at"`
}

// WatchlistEntry is a sanctioned or otherwise flagged name
type WatchlistEntry struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Name   string `json:"name" gorm:"index;not null"`
	Reason string `json:"reason"`
}

// AnalysisJob tracks one asynchronous request from acceptance to a terminal state.
// Params, Findings and Visualization hold JSON documents.
type AnalysisJob struct {
	JobID         string     `json:"job_id" gorm:"primaryKey;type:varchar(64)"`
	Kind          JobKind    `json:"kind" gorm:"type:varchar(32);not null"`
	SubjectUserID *uuid.UUID `json:"subject_user_id,omitempty" gorm:"type:uuid;index"`
	Status        JobStatus  `json:"status" gorm:"type:varchar(16);index;not null"`
	Params        string     `json:"-" gorm:"type:text"`
	Findings      string     `json:"-" gorm:"type:text"`
	Visualization string     `json:"-" gorm:"type:text"`
	Explanation   *string    `json:"explanation,omitempty" gorm:"type:text"`
	Error         string     `json:"error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// UserSummary aggregates a user's flows for evidence dossiers
type UserSummary struct {
	TotalSent        decimal.Decimal `json:"total_sent"`
	TotalReceived    decimal.Decimal `json:"total_received"`
	TransactionCount int64           `json:"transaction_count"`
}

// AllModels lists every table for migration
func AllModels() []interface{} {
	return []interface{}{&User{}, &Transaction{}, &Alert{}, &WatchlistEntry{}, &AnalysisJob{}}
}
