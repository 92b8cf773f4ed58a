package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/agentfacts/expense-compliance/internal/policy"
)

// ReadCSV reads transactions from CSV with a header row. Header names are
// matched case-insensitively against the transaction fields; unknown columns
// are ignored.
func ReadCSV(in io.Reader) ([]policy.Transaction, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return []policy.Transaction{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	txns := []policy.Transaction{}
	for {
		row, err := r.Read()
		if err == io.EOF {
			return txns, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}

		get := func(field string) string {
			i, ok := columns[field]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		amt, err := ParseAmount(get("amount"))
		if err != nil {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		txns = append(txns, policy.Transaction{
			TxnID:      get("txn_id"),
			Amount:     amt,
			Category:   get("category"),
			Merchant:   get("merchant"),
			City:       get("city"),
			Timestamp:  get("timestamp"),
			Channel:    get("channel"),
			CardID:     get("card_id"),
			EmployeeID: get("employee_id"),
		})
	}
}

// Categories returns the distinct non-empty categories of txns in first-seen
// order.
func Categories(txns []policy.Transaction) []string {
	seen := make(map[string]bool)
	cats := []string{}
	for _, t := range txns {
		c := strings.TrimSpace(t.Category)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cats = append(cats, c)
	}
	return cats
}
