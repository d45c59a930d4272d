package journal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type cycleSummary struct {
	Cycle     int `json:"cycle"`
	Resources int `json:"resources"`
}

func TestJournal_RecordAndReplay(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := j.Record(EntryCycle, "plan-1", cycleSummary{Cycle: 1, Resources: 5}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := j.Record(EntryPlan, "plan-1", map[string]int{"candidates": 2}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := j.RecordError(EntryJobStep, "job-1", nil, errors.New("attach failed")); err != nil {
		t.Fatalf("RecordError() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var entries []*Entry
	err = Replay(dir, time.Time{}, func(e *Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("replayed %d entries, want 3", len(entries))
	}
	if entries[0].Kind != EntryCycle || entries[0].Sequence != 1 {
		t.Errorf("first entry = %+v, want cycle seq 1", entries[0])
	}
	if entries[2].Error != "attach failed" {
		t.Errorf("error entry = %+v, want attach failed", entries[2])
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Sequence <= entries[i-1].Sequence {
			t.Errorf("sequence not increasing: %d then %d", entries[i-1].Sequence, entries[i].Sequence)
		}
	}
}

func TestJournal_SequenceContinuesAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := j.Record(EntryCycle, "", cycleSummary{Cycle: i}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	j2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() { _ = j2.Close() }()

	if err := j2.Record(EntryCycle, "", cycleSummary{Cycle: 4}); err != nil {
		t.Fatalf("Record() after reopen error = %v", err)
	}

	var last int64
	err = Replay(dir, time.Time{}, func(e *Entry) error {
		if e.Sequence > last {
			last = e.Sequence
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if last != 4 {
		t.Errorf("last sequence = %d, want 4", last)
	}
}

func TestJournal_ReplaySince(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := j.Record(EntryCycle, "", cycleSummary{Cycle: 1}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	cutoff := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)
	if err := j.Record(EntryCycle, "", cycleSummary{Cycle: 2}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	count := 0
	err = Replay(dir, cutoff, func(e *Entry) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if count != 1 {
		t.Errorf("replayed %d entries after cutoff, want 1", count)
	}
}

func TestReader_EOFAtEnd(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := j.Record(EntryCycle, "", nil); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	files := journalFiles(dir)
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
	reader, err := NewReader(files[0])
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer func() { _ = reader.Close() }()

	if _, err := reader.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next() at end = %v, want EOF", err)
	}
}

func TestPrune_RemovesOldFiles(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "runctl-20200101-000000.jsonl")
	if err := os.WriteFile(old, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	fresh := filepath.Join(dir, "runctl-20990101-000000.jsonl")
	if err := os.WriteFile(fresh, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	stats, err := Prune(dir, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if stats.FilesRemoved != 1 {
		t.Errorf("removed = %d, want 1", stats.FilesRemoved)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old file survived pruning")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh file was pruned")
	}
}
