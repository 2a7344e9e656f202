package ingest

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/shopspring/decimal"
)

// Column headers of the bank export
const (
	ColDebitAccount  = "Debit_Account"
	ColCreditAccount = "Credit_Account"
	ColAmount        = "Amount"
	ColCurrency      = "Currency"
	ColDescription   = "Description"
)

// ErrInvalidCSV is returned when the file cannot be read as a bank export
var ErrInvalidCSV = errors.Invalid.Reason("InvalidCSV").Explain("invalid transaction CSV")

// ParseResult holds the rows that survived normalization
type ParseResult struct {
	Rows    []Row `json:"-"`
	Skipped int   `json:"skipped"`
}

// ParseCSV reads a bank export. Rows with a missing account or an amount that
// is not a non-negative number are skipped and counted.
func ParseCSV(r io.Reader) (*ParseResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrInvalidCSV.Explain("empty file")
	}
	if err != nil {
		return nil, ErrInvalidCSV.Explain("%v", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		// tolerate a UTF-8 BOM on the first header
		cols[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}
	for _, required := range []string{ColDebitAccount, ColCreditAccount, ColAmount} {
		if _, ok := cols[required]; !ok {
			return nil, ErrInvalidCSV.Explain("missing column %s", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	res := &ParseResult{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ErrInvalidCSV.Explain("%v", err)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(field(record, ColAmount)))
		if err != nil {
			res.Skipped++
			continue
		}
		row := Row{
			FromAccount: field(record, ColDebitAccount),
			ToAccount:   field(record, ColCreditAccount),
			Amount:      amount,
			Currency:    field(record, ColCurrency),
			Description: field(record, ColDescription),
		}
		if !row.Normalize() {
			res.Skipped++
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}
