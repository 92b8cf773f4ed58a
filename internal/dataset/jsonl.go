// Package dataset reads transaction datasets and writes scored results.
package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/agentfacts/expense-compliance/internal/policy"
)

// DefaultMaxLineSize is the default maximum size of a single JSONL line (1MB).
const DefaultMaxLineSize = 1024 * 1024

// Reader reads newline-delimited JSON transactions.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader creates a new Reader for the given input stream.
func NewReader(in io.Reader) *Reader {
	return NewReaderWithMaxSize(in, DefaultMaxLineSize)
}

// NewReaderWithMaxSize creates a new Reader with a custom max line size.
func NewReaderWithMaxSize(in io.Reader, maxSize int) *Reader {
	// The scanner's limit is the larger of maxSize and the initial capacity.
	initial := 64 * 1024
	if maxSize < initial {
		initial = maxSize
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, initial), maxSize)

	return &Reader{scanner: scanner}
}

// Read returns the next transaction, or io.EOF when the input is exhausted.
// Blank lines are skipped.
func (r *Reader) Read() (policy.Transaction, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		txn, err := decodeTransaction(line)
		if err != nil {
			return policy.Transaction{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return txn, nil
	}
	if err := r.scanner.Err(); err != nil {
		return policy.Transaction{}, fmt.Errorf("reading input: %w", err)
	}
	return policy.Transaction{}, io.EOF
}

// ReadAll reads every remaining transaction.
func (r *Reader) ReadAll() ([]policy.Transaction, error) {
	txns := []policy.Transaction{}
	for {
		txn, err := r.Read()
		if err == io.EOF {
			return txns, nil
		}
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
}

// ReadJSONArray decodes a JSON array of transactions.
func ReadJSONArray(in io.Reader) ([]policy.Transaction, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("invalid transaction array: %w", err)
	}
	txns := make([]policy.Transaction, 0, len(items))
	for i, item := range items {
		txn, err := decodeTransaction(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// wireTransaction accepts amounts written as numbers or numeric strings.
type wireTransaction struct {
	TxnID      string `json:"txn_id"`
	Amount     amount `json:"amount"`
	Category   string `json:"category"`
	Merchant   string `json:"merchant"`
	City       string `json:"city"`
	Timestamp  string `json:"timestamp"`
	Channel    string `json:"channel"`
	CardID     string `json:"card_id"`
	EmployeeID string `json:"employee_id"`
}

type amount float64

func (a *amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*a = amount(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("amount must be a number")
	}
	f, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = amount(f)
	return nil
}

func decodeTransaction(data []byte) (policy.Transaction, error) {
	var w wireTransaction
	if err := json.Unmarshal(data, &w); err != nil {
		return policy.Transaction{}, fmt.Errorf("invalid transaction: %w", err)
	}
	return policy.Transaction{
		TxnID:      w.TxnID,
		Amount:     float64(w.Amount),
		Category:   w.Category,
		Merchant:   w.Merchant,
		City:       w.City,
		Timestamp:  w.Timestamp,
		Channel:    w.Channel,
		CardID:     w.CardID,
		EmployeeID: w.EmployeeID,
	}, nil
}

// ParseAmount parses a numeric amount, ignoring a leading currency sign and
// thousands separators.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return f, nil
}
