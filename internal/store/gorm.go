package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	insertBatchSize = 500
	// keeps IN clauses under SQLite's host parameter limit
	lookupChunkSize = 500
)

// GormStore implements Store on gorm (PostgreSQL in production, SQLite locally and in tests)
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps an open connection
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// openAlertIndex backs the one-OPEN-alert-per-(user, type) rule at the storage layer.
// ML anomalies are per transaction and excluded.
const openAlertIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_unique
ON alerts (user_id, alert_type) WHERE status = 'OPEN' AND alert_type <> 'ML_ANOMALY'`

// Migrate creates or updates the schema
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	if err := s.db.Exec(openAlertIndex).Error; err != nil {
		return fmt.Errorf("failed to create open alert index: %w", err)
	}
	return nil
}

// DB exposes the underlying connection for pool metrics
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// ---- users ----

func (s *GormStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *GormStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound.Explain("user %s not found", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *GormStore) ListUsers(ctx context.Context, offset, limit int) ([]User, error) {
	var users []User
	q := s.db.WithContext(ctx).Order("full_name").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *GormStore) UsersByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]User, error) {
	out := make(map[uuid.UUID]User, len(ids))
	for _, chunk := range chunkIDs(ids) {
		var users []User
		if err := s.db.WithContext(ctx).Where("id IN ?", chunk).Find(&users).Error; err != nil {
			return nil, fmt.Errorf("failed to load users: %w", err)
		}
		for _, u := range users {
			out[u.ID] = u
		}
	}
	return out, nil
}

// FindOrCreateUsers resolves account names to user IDs, creating placeholder
// users (country "Unknown") for names not seen before.
func (s *GormStore) FindOrCreateUsers(ctx context.Context, names []string) (map[string]uuid.UUID, error) {
	wanted := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		wanted = append(wanted, n)
	}

	ids := make(map[string]uuid.UUID, len(wanted))
	for start := 0; start < len(wanted); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(wanted))
		var existing []User
		if err := s.db.WithContext(ctx).Where("full_name IN ?", wanted[start:end]).Find(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to look up users: %w", err)
		}
		for _, u := range existing {
			ids[u.FullName] = u.ID
		}
	}

	var missing []User
	for _, n := range wanted {
		if _, ok := ids[n]; ok {
			continue
		}
		u := User{
			ID:       uuid.New(),
			FullName: n,
			Email:    strings.ReplaceAll(strings.ToLower(n), " ", "_") + "@bank.com",
			Country:  "Unknown",
		}
		missing = append(missing, u)
		ids[n] = u.ID
	}
	if len(missing) > 0 {
		if err := s.db.WithContext(ctx).CreateInBatches(missing, insertBatchSize).Error; err != nil {
			return nil, fmt.Errorf("failed to create users: %w", err)
		}
	}
	return ids, nil
}

// ExternalSystemUser returns the account that originates deposits from outside the ledger
func (s *GormStore) ExternalSystemUser(ctx context.Context) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", ExternalSystemEmail).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to get external system user: %w", err)
	}
	user = User{ID: uuid.New(), FullName: ExternalSystemName, Email: ExternalSystemEmail, Country: "N/A"}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create external system user: %w", err)
	}
	return &user, nil
}

// ---- transactions ----

func (s *GormStore) CreateTransaction(ctx context.Context, tx *Transaction) error {
	normalizeTransaction(tx)
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *GormStore) BulkCreateTransactions(ctx context.Context, txs []Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	for i := range txs {
		normalizeTransaction(&txs[i])
	}
	if err := s.db.WithContext(ctx).CreateInBatches(txs, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to bulk insert transactions: %w", err)
	}
	return nil
}

func (s *GormStore) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	var tx Transaction
	if err := s.db.WithContext(ctx).First(&tx, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound.Explain("transaction %s not found", id)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

func (s *GormStore) TransactionsForUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]Transaction, error) {
	var txs []Transaction
	q := s.db.WithContext(ctx).Where("(from_user_id = ? OR to_user_id = ?)", userID, userID)
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since.UTC())
	}
	if err := q.Order("timestamp").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return txs, nil
}

func (s *GormStore) ReceivedTransactions(ctx context.Context, userID uuid.UUID) ([]Transaction, error) {
	var txs []Transaction
	if err := s.db.WithContext(ctx).Where("to_user_id = ?", userID).Order("timestamp DESC").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to query received transactions: %w", err)
	}
	return txs, nil
}

func (s *GormStore) SummarizeUser(ctx context.Context, userID uuid.UUID) (*UserSummary, error) {
	var sent, received struct {
		Total decimal.Decimal
		Count int64
	}
	if err := s.db.WithContext(ctx).Model(&Transaction{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("from_user_id = ?", userID).Scan(&sent).Error; err != nil {
		return nil, fmt.Errorf("failed to summarize sent transactions: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&Transaction{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("to_user_id = ?", userID).Scan(&received).Error; err != nil {
		return nil, fmt.Errorf("failed to summarize received transactions: %w", err)
	}
	return &UserSummary{
		TotalSent:        sent.Total,
		TotalReceived:    received.Total,
		TransactionCount: sent.Count + received.Count,
	}, nil
}

func normalizeTransaction(tx *Transaction) {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}
	tx.Timestamp = tx.Timestamp.UTC()
	if tx.Currency == "" {
		tx.Currency = "INR"
	}
}

// ---- alerts ----

func (s *GormStore) HasOpenAlert(ctx context.Context, userID uuid.UUID, alertType AlertType) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Alert{}).
		Where("user_id = ? AND alert_type = ? AND status = ?", userID, alertType, AlertStatusOpen).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check open alerts: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) OpenAlertTypes(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]map[AlertType]bool, error) {
	out := make(map[uuid.UUID]map[AlertType]bool)
	for _, chunk := range chunkIDs(userIDs) {
		var rows []struct {
			UserID    uuid.UUID
			AlertType AlertType
		}
		err := s.db.WithContext(ctx).Model(&Alert{}).
			Distinct("user_id", "alert_type").
			Where("status = ? AND user_id IN ?", AlertStatusOpen, chunk).
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to load open alert types: %w", err)
		}
		for _, r := range rows {
			if out[r.UserID] == nil {
				out[r.UserID] = make(map[AlertType]bool)
			}
			out[r.UserID][r.AlertType] = true
		}
	}
	return out, nil
}

func (s *GormStore) CreateAlert(ctx context.Context, alert *Alert) (bool, error) {
	normalizeAlert(alert)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(alert)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create alert: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) BulkCreateAlerts(ctx context.Context, alerts []Alert) (int64, error) {
	if len(alerts) == 0 {
		return 0, nil
	}
	for i := range alerts {
		normalizeAlert(&alerts[i])
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(alerts, insertBatchSize)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to bulk insert alerts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) ExistingAlertIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ids))
	for _, chunk := range chunkIDs(ids) {
		var found []uuid.UUID
		if err := s.db.WithContext(ctx).Model(&Alert{}).Where("id IN ?", chunk).Pluck("id", &found).Error; err != nil {
			return nil, fmt.Errorf("failed to look up alerts: %w", err)
		}
		for _, id := range found {
			out[id] = true
		}
	}
	return out, nil
}

func (s *GormStore) ListAlerts(ctx context.Context, userID uuid.UUID, limit int) ([]Alert, error) {
	var alerts []Alert
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

func normalizeAlert(a *Alert) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = AlertStatusOpen
	}
}

// ---- watchlist ----

func (s *GormStore) ListWatchlist(ctx context.Context) ([]WatchlistEntry, error) {
	var entries []WatchlistEntry
	if err := s.db.WithContext(ctx).Order("id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	return entries, nil
}

func (s *GormStore) AddWatchlistEntry(ctx context.Context, entry *WatchlistEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to add watchlist entry: %w", err)
	}
	return nil
}

// ---- jobs ----

func (s *GormStore) CreateJob(ctx context.Context, job *AnalysisJob) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&AnalysisJob{}).Where("job_id = ?", job.JobID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check job id: %w", err)
		}
		if count > 0 {
			return ErrDuplicateJob.Explain("job %s already exists", job.JobID)
		}
		if job.Status == "" {
			job.Status = JobPending
		}
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		return nil
	})
}

func (s *GormStore) GetJob(ctx context.Context, jobID string) (*AnalysisJob, error) {
	var job AnalysisJob
	if err := s.db.WithContext(ctx).First(&job, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound.Explain("job %s not found", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *GormStore) MarkJobRunning(ctx context.Context, jobID string, at time.Time) error {
	at = at.UTC()
	res := s.db.WithContext(ctx).Model(&AnalysisJob{}).
		Where("job_id = ? AND status = ?", jobID, JobPending).
		Updates(map[string]interface{}{"status": JobRunning, "started_at": at})
	if res.Error != nil {
		return fmt.Errorf("failed to mark job running: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.transitionError(ctx, jobID, JobRunning)
	}
	return nil
}

// FinishJob moves a job to a terminal state. The update is guarded on the
// current status so concurrent finishers cannot overwrite each other.
func (s *GormStore) FinishJob(ctx context.Context, jobID string, outcome JobOutcome) error {
	var from []JobStatus
	for _, st := range []JobStatus{JobPending, JobRunning} {
		if st.CanTransition(outcome.Status) {
			from = append(from, st)
		}
	}
	if !outcome.Status.Terminal() || len(from) == 0 {
		return ErrJobTransition.Explain("%s is not a terminal status", outcome.Status)
	}
	completed := outcome.CompletedAt.UTC()
	res := s.db.WithContext(ctx).Model(&AnalysisJob{}).
		Where("job_id = ? AND status IN ?", jobID, from).
		Updates(map[string]interface{}{
			"status":        outcome.Status,
			"findings":      outcome.Findings,
			"visualization": outcome.Visualization,
			"error":         outcome.Error,
			"completed_at":  completed,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to finish job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.transitionError(ctx, jobID, outcome.Status)
	}
	return nil
}

// SetJobExplanation annotates a completed job; status is never touched
func (s *GormStore) SetJobExplanation(ctx context.Context, jobID, explanation string) error {
	res := s.db.WithContext(ctx).Model(&AnalysisJob{}).
		Where("job_id = ? AND status = ?", jobID, JobCompleted).
		Update("explanation", explanation)
	if res.Error != nil {
		return fmt.Errorf("failed to set job explanation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return ErrJobTransition.Explain("job %s is not completed", jobID)
	}
	return nil
}

func (s *GormStore) ExpireStaleJobs(ctx context.Context, cutoff time.Time, outcome JobOutcome) (int64, error) {
	cutoff = cutoff.UTC()
	res := s.db.WithContext(ctx).Model(&AnalysisJob{}).
		Where("(status = ? AND started_at < ?) OR (status = ? AND created_at < ?)", JobRunning, cutoff, JobPending, cutoff).
		Updates(map[string]interface{}{
			"status":       JobFailed,
			"findings":     outcome.Findings,
			"error":        outcome.Error,
			"completed_at": outcome.CompletedAt.UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire stale jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) transitionError(ctx context.Context, jobID string, to JobStatus) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return ErrJobTransition.Explain("job %s cannot move from %s to %s", jobID, job.Status, to)
}

// ClearAll removes ledger, alert and job data. Watchlist entries are reference data and kept.
func (s *GormStore) ClearAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		for _, model := range []interface{}{&Alert{}, &AnalysisJob{}, &Transaction{}, &User{}} {
			if err := all.Delete(model).Error; err != nil {
				return fmt.Errorf("failed to clear %T: %w", model, err)
			}
		}
		return nil
	})
}

func chunkIDs(ids []uuid.UUID) [][]uuid.UUID {
	var chunks [][]uuid.UUID
	for start := 0; start < len(ids); start += lookupChunkSize {
		chunks = append(chunks, ids[start:min(start+lookupChunkSize, len(ids))])
	}
	return chunks
}
