// Package journal writes the append-only, newline-delimited audit log of
// every non-empty change report.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/gradewatch/internal/differ"
)

// ChangePath describes where a change occurred, flattened for the
// journal record.
type ChangePath struct {
	SectionTitle    string `json:"section_title"`
	PeriodName      string `json:"period_name"`
	CategoryName    string `json:"category_name"`
	AssignmentTitle string `json:"assignment_title"`
	AssignmentID    string `json:"assignment_id"`
}

// ChangeRecord is one flattened Change as persisted in the journal.
type ChangeRecord struct {
	ChangePath
	Type string `json:"type"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// Entry is one journal record: an observation, its change set, and the
// outcome of notifying about it.
type Entry struct {
	ID                  string          `json:"id"`
	Timestamp           time.Time       `json:"timestamp"`
	IsInitial           bool            `json:"is_initial"`
	IsError             bool            `json:"is_error,omitempty"`
	ErrorMessage        string          `json:"error_message,omitempty"`
	Summary             string          `json:"summary"`
	Counts              differ.Counts   `json:"counts"`
	Changes             []ChangeRecord  `json:"changes"`
	NotificationResults map[string]bool `json:"notification_results,omitempty"`
}

// FromReport builds an Entry from a ChangeReport and its notification
// outcome. Callers assign an empty NotificationResults when notification
// was skipped.
func FromReport(report differ.ChangeReport, results map[string]bool) Entry {
	records := make([]ChangeRecord, 0, len(report.Changes))
	for _, c := range report.Changes {
		records = append(records, ChangeRecord{
			ChangePath: ChangePath{
				SectionTitle:    c.SectionTitle,
				PeriodName:      c.PeriodName,
				CategoryName:    c.CategoryName,
				AssignmentTitle: c.AssignmentTitle,
				AssignmentID:    c.AssignmentID,
			},
			Type: string(c.Type),
			Old:  c.Old,
			New:  c.New,
		})
	}
	return Entry{
		ID:                  uuid.NewString(),
		Timestamp:           report.Timestamp,
		IsInitial:           report.IsInitial,
		Summary:             report.Summary(),
		Counts:              report.Counts,
		Changes:             records,
		NotificationResults: results,
	}
}

// ErrorEntry builds the distinguished "error" record written when the
// final fetch attempt fails: is_initial=false, zero changes.
func ErrorEntry(at time.Time, message string) Entry {
	return Entry{
		ID:           uuid.NewString(),
		Timestamp:    at,
		IsInitial:    false,
		IsError:      true,
		ErrorMessage: message,
	}
}

// Writer is the append-only, retention-pruning journal handle. Writing
// never fails the pipeline: callers log and swallow any returned error.
type Writer struct {
	path          string
	retentionDays int
	logger        *zap.Logger
}

// Open opens (creating if needed) the journal file at path, pruning any
// entries older than retentionDays. A non-positive retentionDays disables
// pruning.
func Open(path string, retentionDays int, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare journal directory: %w", err)
	}
	w := &Writer{path: path, retentionDays: retentionDays, logger: logger}
	if err := w.prune(); err != nil {
		return nil, fmt.Errorf("prune journal: %w", err)
	}
	return w, nil
}

// Append writes entry as one JSON line. Reports with zero changes are
// never journaled, unless the entry is the distinguished error record.
func (w *Writer) Append(entry Entry) error {
	if !entry.IsError && len(entry.Changes) == 0 {
		return nil
	}

	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal for append: %w", err)
	}
	defer file.Close() //nolint:errcheck

	bw := bufio.NewWriter(file)
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	if _, err := bw.Write(line); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush journal entry: %w", err)
	}
	return nil
}

// prune rewrites the journal via a temp-file-then-rename swap, dropping
// whole records older than the retention horizon. Malformed lines are
// kept rather than discarded, since a corrupt line should not silently
// destroy history.
func (w *Writer) prune() error {
	if w.retentionDays <= 0 {
		return nil
	}
	if _, err := os.Stat(w.path); os.IsNotExist(err) {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	in, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer in.Close() //nolint:errcheck

	tmpPath := w.path + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create journal temp file: %w", err)
	}

	scanner := bufio.NewScanner(in)
	writer := bufio.NewWriter(out)
	var kept, removed int
	for scanner.Scan() {
		line := scanner.Bytes()
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.Timestamp.IsZero() {
			writer.Write(line) //nolint:errcheck
			writer.WriteByte('\n') //nolint:errcheck
			kept++
			continue
		}
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		writer.Write(line) //nolint:errcheck
		writer.WriteByte('\n') //nolint:errcheck
		kept++
	}
	if err := scanner.Err(); err != nil {
		out.Close() //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("scan journal: %w", err)
	}
	if err := writer.Flush(); err != nil {
		out.Close() //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("flush journal temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("close journal temp file: %w", err)
	}

	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("replace journal file: %w", err)
	}

	if removed > 0 {
		w.logger.Info("journal pruned", zap.Int("removed", removed), zap.Int("kept", kept))
	}
	return nil
}
