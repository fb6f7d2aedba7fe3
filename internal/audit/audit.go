// Package audit persists the append-only decision trail. The log is a
// diagnostic record, never the source of position truth: the gateway is.
package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Action classifies a decision outcome.
type Action string

const (
	Entry   Action = "ENTRY"
	Exit    Action = "EXIT"
	Skip    Action = "SKIP"
	Failure Action = "FAILURE"
)

// Record is one decision outcome. Records are append-only: once written they
// are never mutated or deleted.
type Record struct {
	Ts     time.Time
	Action Action
	Status string // direction for fills, error class otherwise
	Price  float64
	Size   float64
	PnL    float64
	Reason string
}

// Sink receives finished audit records.
type Sink interface {
	Append(Record) error
}

var header = []string{"Timestamp", "Action", "Status", "Price", "Size", "PnL", "Reason"}

// Writer appends records to a CSV file, one flushed row per call. The file is
// created with a header row when absent and is never rewritten or truncated.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

// NewWriter opens or creates the audit file at path.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	w := &Writer{file: file, csv: csv.NewWriter(file)}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}
	if info.Size() == 0 {
		if err := w.writeRow(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("write audit header: %w", err)
		}
	}
	return w, nil
}

// Append writes a single record and flushes it before returning.
func (w *Writer) Append(rec Record) error {
	return w.writeRow(rec.row())
}

func (w *Writer) writeRow(row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.csv.Write(row); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close flushes pending rows and closes the file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	w.csv.Flush()
	err := w.file.Close()
	w.file = nil
	return err
}

func (rec Record) row() []string {
	return []string{
		rec.Ts.UTC().Format(time.RFC3339),
		string(rec.Action),
		rec.Status,
		strconv.FormatFloat(rec.Price, 'f', 5, 64),
		strconv.FormatFloat(rec.Size, 'f', 2, 64),
		strconv.FormatFloat(rec.PnL, 'f', 2, 64),
		rec.Reason,
	}
}

// Tee fans each record out to every sink, returning the first error while
// still delivering to the rest.
func Tee(sinks ...Sink) Sink { return multiSink(sinks) }

type multiSink []Sink

func (m multiSink) Append(rec Record) error {
	var first error
	for _, s := range m {
		if err := s.Append(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
