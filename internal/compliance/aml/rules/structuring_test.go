package rules

import (
	"testing"
	"time"

	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func outbound(from uuid.UUID, amount int64, ago time.Duration) store.Transaction {
	return store.Transaction{
		ID:         uuid.New(),
		FromUserID: &from,
		ToUserID:   uuid.New(),
		Amount:     decimal.NewFromInt(amount),
		Timestamp:  testNow.Add(-ago),
	}
}

func inbound(to uuid.UUID, amount int64, ago time.Duration) store.Transaction {
	from := uuid.New()
	return store.Transaction{
		ID:         uuid.New(),
		FromUserID: &from,
		ToUserID:   to,
		Amount:     decimal.NewFromInt(amount),
		Timestamp:  testNow.Add(-ago),
	}
}

func TestEvaluateStructuring_ScenarioA(t *testing.T) {
	acc := uuid.New()
	var history []store.Transaction
	for i := 0; i < 4; i++ {
		history = append(history, outbound(acc, 45000, time.Duration(i*3)*time.Hour))
	}

	f := EvaluateStructuring(history, acc, Outbound, DefaultStructuringParams(), testNow)
	require.NotNil(t, f)
	assert.Equal(t, 4, f.Count)
	assert.True(t, f.Total.Equal(decimal.NewFromInt(180000)))
	assert.Equal(t, 48*time.Hour, f.Window)
	assert.Len(t, f.TransactionIDs, 4)
	assert.Equal(t, store.AlertStructuringPayment, f.AlertType())
	assert.Equal(t, "Structuring (Payments) Detected: User sent 4 payments totaling ₹180,000.00 in the last 48 hours.", f.Message())
}

func TestEvaluateStructuring_Boundaries(t *testing.T) {
	acc := uuid.New()
	p := DefaultStructuringParams()

	tests := []struct {
		name   string
		amount int64
		counts bool
	}{
		{"exactly threshold", 50000, false},
		{"exactly floor", 40000, false},
		{"just above floor", 40001, true},
		{"just below threshold", 49999, true},
		{"small", 100, false},
		{"above threshold", 60000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var history []store.Transaction
			for i := 0; i < 4; i++ {
				history = append(history, outbound(acc, tt.amount, time.Hour))
			}
			f := EvaluateStructuring(history, acc, Outbound, p, testNow)
			assert.Equal(t, tt.counts, f != nil)
		})
	}
}

func TestEvaluateStructuring_CountAndWindow(t *testing.T) {
	acc := uuid.New()
	p := DefaultStructuringParams()

	assert.Nil(t, EvaluateStructuring(nil, acc, Outbound, p, testNow))

	three := []store.Transaction{
		outbound(acc, 45000, time.Hour),
		outbound(acc, 45000, 2*time.Hour),
		outbound(acc, 45000, 3*time.Hour),
	}
	assert.Nil(t, EvaluateStructuring(three, acc, Outbound, p, testNow))

	// a fourth one outside the window does not count
	stale := append(append([]store.Transaction{}, three...), outbound(acc, 45000, 49*time.Hour))
	assert.Nil(t, EvaluateStructuring(stale, acc, Outbound, p, testNow))

	// exactly at the window edge does
	edge := append(append([]store.Transaction{}, three...), outbound(acc, 45000, 48*time.Hour))
	assert.NotNil(t, EvaluateStructuring(edge, acc, Outbound, p, testNow))

	five := append(append([]store.Transaction{}, edge...), outbound(acc, 41000, 4*time.Hour))
	f := EvaluateStructuring(five, acc, Outbound, p, testNow)
	require.NotNil(t, f)
	assert.Equal(t, 5, f.Count)
}

func TestEvaluateStructuring_DirectionsAreDisjoint(t *testing.T) {
	acc := uuid.New()
	var received []store.Transaction
	for i := 0; i < 4; i++ {
		received = append(received, inbound(acc, 48000, time.Duration(i)*time.Hour))
	}
	// deposits from outside the ledger have no sender
	received[0].FromUserID = nil

	p := DefaultStructuringParams()
	assert.Nil(t, EvaluateStructuring(received, acc, Outbound, p, testNow))

	f := EvaluateStructuring(received, acc, Inbound, p, testNow)
	require.NotNil(t, f)
	assert.Equal(t, store.AlertStructuringDeposit, f.AlertType())
	assert.Contains(t, f.Message(), "received 4 deposits totaling ₹192,000.00")
}

func TestEngine_Evaluate(t *testing.T) {
	acc := uuid.New()
	var history []store.Transaction
	for i := 0; i < 4; i++ {
		history = append(history, outbound(acc, 45000, time.Hour))
		history = append(history, inbound(acc, 45000, time.Hour))
	}
	findings := NewEngine(DefaultStructuringParams()).Evaluate(history, acc, testNow)
	require.Len(t, findings, 2)
	assert.Equal(t, Outbound, findings[0].Direction)
	assert.Equal(t, Inbound, findings[1].Direction)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.00", FormatAmount(decimal.Zero))
	assert.Equal(t, "999.50", FormatAmount(decimal.RequireFromString("999.5")))
	assert.Equal(t, "1,000.00", FormatAmount(decimal.NewFromInt(1000)))
	assert.Equal(t, "1,234,567.89", FormatAmount(decimal.RequireFromString("1234567.891")))
	assert.Equal(t, "-45,000.00", FormatAmount(decimal.NewFromInt(-45000)))
}
