// Package journal is the append-only audit trail: every collection
// cycle, cleanup plan, cleanup execution, and job step transition is
// recorded as one JSON line. The journal is for operators and
// postmortems; nothing in the engine reads it back at runtime.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// EntryKind classifies a journal entry.
type EntryKind string

const (
	EntryCycle       EntryKind = "cycle"
	EntryPlan        EntryKind = "plan"
	EntryCleanupExec EntryKind = "cleanup_exec"
	EntryJobStep     EntryKind = "job_step"
)

// Entry is one journal line.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	Kind      EntryKind       `json:"kind"`
	Subject   string          `json:"subject,omitempty"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error,omitempty"`
}

const filePrefix = "runctl"

// Journal appends entries to timestamped JSONL files in a directory.
// Each append is flushed and synced before returning.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
}

// Open creates or opens a journal in the given directory. The sequence
// counter continues from the highest sequence found in existing files.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	filename := fmt.Sprintf("%s-%s.jsonl", filePrefix, time.Now().Format("20060102-150405"))
	file, err := os.OpenFile(filepath.Join(dir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening journal file: %w", err)
	}

	j := &Journal{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
	}
	j.sequence = lastSequence(dir)
	return j, nil
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Record appends one entry.
func (j *Journal) Record(kind EntryKind, subject string, data any) error {
	return j.record(kind, subject, data, nil)
}

// RecordError appends one entry carrying an error.
func (j *Journal) RecordError(kind EntryKind, subject string, data any, cause error) error {
	return j.record(kind, subject, data, cause)
}

func (j *Journal) record(kind EntryKind, subject string, data any, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling journal payload: %w", err)
	}

	j.sequence++
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Sequence:  j.sequence,
		Kind:      kind,
		Subject:   subject,
		Data:      payload,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}
	if _, err := j.writer.Write(line); err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flushing journal: %w", err)
	}
	return j.file.Sync()
}

// lastSequence scans existing journal files for the highest sequence.
// A corrupt trailing line is skipped, not fatal: the journal is an
// audit trail, not a consistency mechanism.
func lastSequence(dir string) int64 {
	files := journalFiles(dir)
	if len(files) == 0 {
		return 0
	}

	var last int64
	for _, path := range files {
		reader, err := NewReader(path)
		if err != nil {
			continue
		}
		for {
			entry, err := reader.Next()
			if err != nil {
				break
			}
			if entry.Sequence > last {
				last = entry.Sequence
			}
		}
		_ = reader.Close()
	}
	return last
}

func journalFiles(dir string) []string {
	files, err := filepath.Glob(filepath.Join(dir, filePrefix+"-*.jsonl"))
	if err != nil {
		return nil
	}
	sort.Strings(files)
	return files
}

// Reader iterates one journal file.
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens a journal file for replay.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal file: %w", err)
	}
	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next returns the next entry, or io.EOF at the end of the file.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("decoding journal entry: %w", err)
	}
	return &entry, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay walks every entry newer than since, across all files in order.
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	for _, path := range journalFiles(dir) {
		reader, err := NewReader(path)
		if err != nil {
			return err
		}

		for {
			entry, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = reader.Close()
				return err
			}
			if entry.Timestamp.After(since) {
				if err := handler(entry); err != nil {
					_ = reader.Close()
					return err
				}
			}
		}
		if err := reader.Close(); err != nil {
			return err
		}
	}
	return nil
}
