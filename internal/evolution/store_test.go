package evolution

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLocalQueue_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	q := NewLocalQueue(path)

	want := []Proposal{
		{ID: "a", Source: "local", Title: "first", CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)},
		{ID: "b", Source: "local", Title: "second", CreatedAt: time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)},
	}
	for _, p := range want {
		if err := q.Add(p); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	// Reopen from disk, as a restart would.
	got, err := NewLocalQueue(path).Peek()
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Queue mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalQueue_Remove(t *testing.T) {
	q := NewLocalQueue(filepath.Join(t.TempDir(), "queue.json"))
	q.Add(Proposal{ID: "keep"})
	q.Add(Proposal{ID: "drop"})

	if err := q.Remove("drop"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	got, _ := q.Peek()
	if len(got) != 1 || got[0].ID != "keep" {
		t.Fatalf("Expected only keep left, got %+v", got)
	}

	// Removing a missing id is a no-op.
	if err := q.Remove("ghost"); err != nil {
		t.Fatalf("Remove of missing id failed: %v", err)
	}
}

func TestLocalQueue_Drain(t *testing.T) {
	q := NewLocalQueue(filepath.Join(t.TempDir(), "queue.json"))
	q.Add(Proposal{ID: "x"})

	drained, err := q.Drain()
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(drained) != 1 {
		t.Fatalf("Expected 1 drained, got %d", len(drained))
	}
	left, _ := q.Peek()
	if len(left) != 0 {
		t.Fatalf("Expected empty queue after drain, got %d", len(left))
	}
}

func TestProcessedStore_CountSince(t *testing.T) {
	s, err := OpenProcessedStore(filepath.Join(t.TempDir(), "processed.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	s.Mark("old-complete", OutcomeCompleted)
	s.Mark("new-complete", OutcomeCompleted)
	s.Mark("new-rejected", OutcomeRejected)

	// Backdate one record past the cutoff.
	s.mu.Lock()
	rec := s.records["old-complete"]
	rec.ProcessedAt = time.Now().UTC().Add(-48 * time.Hour)
	s.records["old-complete"] = rec
	s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-time.Hour)
	if got := s.CountSince(cutoff, OutcomeCompleted); got != 1 {
		t.Errorf("Expected 1 completed since cutoff, got %d", got)
	}
}

func TestProcessedStore_CorruptFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := OpenProcessedStore(path); err == nil {
		t.Fatal("Expected error for corrupt store")
	}
}

func TestAtomicWrite_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "file.json")
	if err := atomicWrite(path, []byte("v1")); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := atomicWrite(path, []byte("v2")); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "v2" {
		t.Errorf("Expected v2, got %q", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file left behind")
	}
}
