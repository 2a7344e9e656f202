// Package store persists users, transactions, alerts, watchlist entries and
// analysis jobs. It is the single source of truth for detection.
package store

import (
	"context"
	"time"

	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a user or transaction does not exist
	ErrNotFound = errors.NotFound.Reason("RecordNotFound").Explain("record not found")
	// ErrJobNotFound is returned for job identifiers that were never created
	ErrJobNotFound = errors.NotFound.Reason("JobNotFound").Explain("job not found")
	// ErrJobTransition is returned when a job update would leave a terminal state
	ErrJobTransition = errors.Conflict.Reason("JobTransition").Explain("job status transition not allowed")
	// ErrDuplicateJob is returned when a caller-supplied job identifier is reused
	ErrDuplicateJob = errors.Conflict.Reason("DuplicateJob").Explain("job identifier already exists")
)

const (
	ExternalSystemName  = "External System"
	ExternalSystemEmail = "external@system.com"
)

// JobOutcome is the terminal write applied to a job
type JobOutcome struct {
	Status        JobStatus
	Findings      string
	Visualization string
	Error         string
	CompletedAt   time.Time
}

// Store is the persistence contract consumed by detection
type Store interface {
	// WithTx runs fn against a transactional view; any error rolls back every write made through it
	WithTx(ctx context.Context, fn func(tx Store) error) error

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsers(ctx context.Context, offset, limit int) ([]User, error)
	UsersByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]User, error)
	FindOrCreateUsers(ctx context.Context, names []string) (map[string]uuid.UUID, error)
	ExternalSystemUser(ctx context.Context) (*User, error)

	CreateTransaction(ctx context.Context, tx *Transaction) error
	BulkCreateTransactions(ctx context.Context, txs []Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	// TransactionsForUser returns transactions where the user is sender or receiver
	// with a timestamp at or after since; a zero since returns the full history.
	TransactionsForUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]Transaction, error)
	ReceivedTransactions(ctx context.Context, userID uuid.UUID) ([]Transaction, error)
	SummarizeUser(ctx context.Context, userID uuid.UUID) (*UserSummary, error)

	HasOpenAlert(ctx context.Context, userID uuid.UUID, alertType AlertType) (bool, error)
	OpenAlertTypes(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]map[AlertType]bool, error)
	// CreateAlert reports false when an OPEN alert of the same deduplicated type already exists
	CreateAlert(ctx context.Context, alert *Alert) (bool, error)
	// BulkCreateAlerts returns how many rows were inserted; rows that would
	// duplicate an OPEN deduplicated alert are dropped
	BulkCreateAlerts(ctx context.Context, alerts []Alert) (int64, error)
	// ExistingAlertIDs reports which of ids are stored
	ExistingAlertIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	ListAlerts(ctx context.Context, userID uuid.UUID, limit int) ([]Alert, error)

	ListWatchlist(ctx context.Context) ([]WatchlistEntry, error)
	AddWatchlistEntry(ctx context.Context, entry *WatchlistEntry) error

	CreateJob(ctx context.Context, job *AnalysisJob) error
	GetJob(ctx context.Context, jobID string) (*AnalysisJob, error)
	MarkJobRunning(ctx context.Context, jobID string, at time.Time) error
	FinishJob(ctx context.Context, jobID string, outcome JobOutcome) error
	SetJobExplanation(ctx context.Context, jobID, explanation string) error
	// ExpireStaleJobs fails RUNNING jobs started before cutoff and PENDING jobs
	// created before it
	ExpireStaleJobs(ctx context.Context, cutoff time.Time, outcome JobOutcome) (int64, error)

	ClearAll(ctx context.Context) error
}
