// Package alerts records detection findings as alerts, enforcing at most one
// OPEN alert per (user, type) for deduplicated types.
package alerts

import (
	"context"
	"fmt"

	"github.com/Aidin1998/amlwatch/internal/compliance/aml/rules"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/scoring"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/Aidin1998/amlwatch/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome of recording one finding
type Outcome string

const (
	Inserted Outcome = "inserted"
	Skipped  Outcome = "skipped"
)

// Record is a finding ready to persist
type Record struct {
	UserID        uuid.UUID
	Type          store.AlertType
	Reason        string
	AISummary     *string
	TransactionID *uuid.UUID
}

func (r Record) alert() store.Alert {
	return store.Alert{
		UserID:        r.UserID,
		AlertType:     r.Type,
		Reason:        r.Reason,
		AISummary:     r.AISummary,
		Status:        store.AlertStatusOpen,
		TransactionID: r.TransactionID,
	}
}

// FromStructuring converts a structuring finding
func FromStructuring(f *rules.Finding) Record {
	summary := f.Summary()
	return Record{UserID: f.UserID, Type: f.AlertType(), Reason: f.Message(), AISummary: &summary}
}

// FromKYC converts a KYC finding; summary may be nil when no text was generated
func FromKYC(f *rules.KYCFinding, summary *string) Record {
	return Record{UserID: f.UserID, Type: f.AlertType(), Reason: f.Message(), AISummary: summary}
}

// FromAnomaly converts an anomaly finding, linking the scored transaction
func FromAnomaly(f *scoring.AnomalyFinding) Record {
	summary := f.Summary()
	txID := f.TransactionID
	return Record{UserID: f.UserID, Type: f.AlertType(), Reason: f.Message(), AISummary: &summary, TransactionID: &txID}
}

// Publisher fans recorded alerts out to downstream consumers
type Publisher interface {
	PublishAlerts(ctx context.Context, alerts []store.Alert) error
}

// Sink is the only writer of alerts
type Sink struct {
	store     store.Store
	publisher Publisher
	logger    *zap.SugaredLogger
}

// NewSink creates a sink; publisher may be nil
func NewSink(st store.Store, publisher Publisher, logger *zap.SugaredLogger) *Sink {
	return &Sink{store: st, publisher: publisher, logger: logger}
}

// Record persists one finding unless an OPEN alert of the same deduplicated
// type already exists for the user. The alert is published on insert.
func (s *Sink) Record(ctx context.Context, r Record) (Outcome, error) {
	out, alert, err := s.RecordIn(ctx, s.store, r)
	if err != nil {
		return "", err
	}
	if out == Inserted {
		s.Publish(ctx, []store.Alert{*alert})
	}
	return out, nil
}

// RecordIn is Record against st, which may be a transactional view. Nothing is
// published; the inserted alert is returned for the caller to publish after commit.
func (s *Sink) RecordIn(ctx context.Context, st store.Store, r Record) (Outcome, *store.Alert, error) {
	if r.Type.Deduplicated() {
		open, err := st.HasOpenAlert(ctx, r.UserID, r.Type)
		if err != nil {
			return "", nil, fmt.Errorf("failed to check open alerts: %w", err)
		}
		if open {
			metrics.AlertsRecorded.WithLabelValues(string(r.Type), string(Skipped)).Inc()
			return Skipped, nil, nil
		}
	}

	alert := r.alert()
	inserted, err := st.CreateAlert(ctx, &alert)
	if err != nil {
		return "", nil, err
	}
	if !inserted {
		// lost a race with a concurrent writer
		metrics.AlertsRecorded.WithLabelValues(string(r.Type), string(Skipped)).Inc()
		return Skipped, nil, nil
	}
	metrics.AlertsRecorded.WithLabelValues(string(r.Type), string(Inserted)).Inc()
	return Inserted, &alert, nil
}

// Publish hands committed alerts to the publisher. Failures are logged and never
// affect the alerts already stored.
func (s *Sink) Publish(ctx context.Context, alerts []store.Alert) {
	if s.publisher == nil || len(alerts) == 0 {
		return
	}
	if err := s.publisher.PublishAlerts(ctx, alerts); err != nil {
		s.logger.Warnw("Failed to publish alerts", "count", len(alerts), "error", err)
	}
}

// BatchResult summarizes a flushed batch
type BatchResult struct {
	Inserted int
	Skipped  int
	Alerts   []store.Alert
}

// Batch collects findings and writes them with a single dedup lookup
type Batch struct {
	records []Record
}

// NewBatch starts an empty batch
func (s *Sink) NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Add(records ...Record) {
	b.records = append(b.records, records...)
}

func (b *Batch) Len() int { return len(b.records) }

// Flush writes the batch through st, which may be a transactional view.
// Deduplication considers both OPEN alerts already stored and earlier
// records in the same batch. Callers publish Alerts after their commit.
func (b *Batch) Flush(ctx context.Context, st store.Store) (*BatchResult, error) {
	res := &BatchResult{}
	if len(b.records) == 0 {
		return res, nil
	}

	users := make([]uuid.UUID, 0, len(b.records))
	seenUser := make(map[uuid.UUID]bool)
	for _, r := range b.records {
		if r.Type.Deduplicated() && !seenUser[r.UserID] {
			seenUser[r.UserID] = true
			users = append(users, r.UserID)
		}
	}
	open, err := st.OpenAlertTypes(ctx, users)
	if err != nil {
		return nil, fmt.Errorf("failed to load open alerts: %w", err)
	}

	for _, r := range b.records {
		if r.Type.Deduplicated() {
			if open[r.UserID][r.Type] {
				res.Skipped++
				metrics.AlertsRecorded.WithLabelValues(string(r.Type), string(Skipped)).Inc()
				continue
			}
			if open[r.UserID] == nil {
				open[r.UserID] = make(map[store.AlertType]bool)
			}
			open[r.UserID][r.Type] = true
		}
		res.Alerts = append(res.Alerts, r.alert())
	}

	n, err := st.BulkCreateAlerts(ctx, res.Alerts)
	if err != nil {
		return nil, err
	}
	if int(n) < len(res.Alerts) {
		// a concurrent writer won some conflicts; keep only the rows that landed
		if res.Alerts, err = storedOnly(ctx, st, res.Alerts, &res.Skipped); err != nil {
			return nil, err
		}
	}
	res.Inserted = len(res.Alerts)
	for _, a := range res.Alerts {
		metrics.AlertsRecorded.WithLabelValues(string(a.AlertType), string(Inserted)).Inc()
	}
	b.records = nil
	return res, nil
}

func storedOnly(ctx context.Context, st store.Store, alerts []store.Alert, skipped *int) ([]store.Alert, error) {
	ids := make([]uuid.UUID, len(alerts))
	for i := range alerts {
		ids[i] = alerts[i].ID
	}
	stored, err := st.ExistingAlertIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	kept := alerts[:0]
	for _, a := range alerts {
		if stored[a.ID] {
			kept = append(kept, a)
			continue
		}
		*skipped++
		metrics.AlertsRecorded.WithLabelValues(string(a.AlertType), string(Skipped)).Inc()
	}
	return kept, nil
}
