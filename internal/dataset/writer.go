package dataset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/agentfacts/expense-compliance/internal/policy"
)

// Writer writes scored transactions as newline-delimited JSON.
// It is safe for concurrent use.
type Writer struct {
	out io.Writer
	mu  sync.Mutex
}

// NewWriter creates a new Writer for the given output stream.
func NewWriter(out io.Writer) *Writer {
	return &Writer{
		out: out,
	}
}

// Write writes one scored transaction followed by a newline.
func (w *Writer) Write(st policy.ScoredTransaction) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode transaction %s: %w", st.TxnID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.out.Write(append(data, '\n')); err != nil {
		return err
	}

	if f, ok := w.out.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// WriteAll writes every scored transaction in order.
func (w *Writer) WriteAll(scored []policy.ScoredTransaction) error {
	for _, st := range scored {
		if err := w.Write(st); err != nil {
			return err
		}
	}
	return nil
}

// Format is a dataset file format.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
)

// FormatFor picks a format from a file extension; unknown extensions read as
// JSONL.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".json":
		return FormatJSON
	default:
		return FormatJSONL
	}
}

// Read decodes transactions from in using format.
func Read(in io.Reader, format Format) ([]policy.Transaction, error) {
	switch format {
	case FormatCSV:
		return ReadCSV(in)
	case FormatJSON:
		return ReadJSONArray(in)
	case FormatJSONL, "":
		return NewReader(in).ReadAll()
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", format)
	}
}

// Load reads a dataset file, or stdin when path is "-".
func Load(path string) ([]policy.Transaction, error) {
	if path == "-" {
		return Read(os.Stdin, FormatJSONL)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %q: %w", path, err)
	}
	defer f.Close()

	txns, err := Read(f, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", path, err)
	}
	return txns, nil
}
