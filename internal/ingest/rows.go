// Package ingest normalizes inbound transfer records. Orchestration only ever
// sees Rows; raw files stop here.
package ingest

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	DefaultCurrency    = "INR"
	DefaultDescription = "N/A"
)

// Row is one normalized transfer between named accounts
type Row struct {
	FromAccount string          `json:"from_account" validate:"required,max=255"`
	ToAccount   string          `json:"to_account" validate:"required,max=255"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"omitempty,max=10"`
	Description string          `json:"description"`
}

// Normalize trims fields and fills defaults. It reports false for rows that
// cannot be ingested: a missing account or a negative amount.
func (r *Row) Normalize() bool {
	r.FromAccount = strings.TrimSpace(r.FromAccount)
	r.ToAccount = strings.TrimSpace(r.ToAccount)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Description = strings.TrimSpace(r.Description)
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
	if r.Description == "" {
		r.Description = DefaultDescription
	}
	return r.FromAccount != "" && r.ToAccount != "" && !r.Amount.IsNegative()
}

// Accounts returns the distinct account names referenced by rows, in first-seen order
func Accounts(rows []Row) []string {
	seen := make(map[string]bool, len(rows)*2)
	var out []string
	for _, r := range rows {
		for _, name := range []string{r.FromAccount, r.ToAccount} {
			if name != "" && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}
