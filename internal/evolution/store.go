package evolution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// LOCAL QUEUE
// =============================================================================

// LocalQueue is the file-backed drop box for manually submitted proposals.
// The file is a JSON array; the queue rewrites it whole on every mutation
// via a temp-file rename so a crash never leaves a torn file.
type LocalQueue struct {
	mu   sync.Mutex
	path string
}

// NewLocalQueue creates a queue backed by the given file path.
func NewLocalQueue(path string) *LocalQueue {
	return &LocalQueue{path: path}
}

// Add appends a proposal to the queue file.
func (q *LocalQueue) Add(p Proposal) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load()
	if err != nil {
		return err
	}
	items = append(items, p)
	return q.save(items)
}

// Drain returns all queued proposals and empties the queue.
func (q *LocalQueue) Drain() ([]Proposal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	if err := q.save(nil); err != nil {
		return nil, err
	}
	return items, nil
}

// Peek returns the queued proposals without removing them.
func (q *LocalQueue) Peek() ([]Proposal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// Remove deletes the proposal with the given id, if queued.
func (q *LocalQueue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load()
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, p := range items {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(items) {
		return nil
	}
	return q.save(kept)
}

func (q *LocalQueue) load() ([]Proposal, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue %s: %w", q.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var items []Proposal
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse queue %s: %w", q.path, err)
	}
	return items, nil
}

func (q *LocalQueue) save(items []Proposal) error {
	if items == nil {
		items = []Proposal{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}
	return atomicWrite(q.path, data)
}

// =============================================================================
// PROCESSED STORE
// =============================================================================

// ProcessedStore persists the terminal outcome of every proposal the
// pipeline has finished with. It is the idempotency boundary: a proposal
// whose id is recorded here is never collected again, across restarts.
//
// On disk it is a JSON object mapping proposal id to record, rewritten
// atomically on every mark.
type ProcessedStore struct {
	mu      sync.RWMutex
	path    string
	records map[string]ProcessedRecord
}

// OpenProcessedStore loads (or initializes) the store at path.
func OpenProcessedStore(path string) (*ProcessedStore, error) {
	s := &ProcessedStore{
		path:    path,
		records: make(map[string]ProcessedRecord),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read processed store %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.records); err != nil {
			return nil, fmt.Errorf("failed to parse processed store %s: %w", path, err)
		}
	}
	return s, nil
}

// Seen reports whether the proposal id already has a terminal record.
func (s *ProcessedStore) Seen(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok
}

// Get returns the record for id, if any.
func (s *ProcessedStore) Get(id string) (ProcessedRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Mark records a terminal outcome for id and persists the store. The write
// hits disk before Mark returns so a crash cannot cause reprocessing.
func (s *ProcessedStore) Mark(id, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = ProcessedRecord{
		Outcome:     outcome,
		ProcessedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal processed store: %w", err)
	}
	if err := atomicWrite(s.path, data); err != nil {
		return fmt.Errorf("failed to persist processed store: %w", err)
	}
	return nil
}

// Len returns the number of recorded proposals.
func (s *ProcessedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Outcomes tallies records per terminal outcome tag.
func (s *ProcessedStore) Outcomes() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tally := make(map[string]int)
	for _, rec := range s.records {
		tally[rec.Outcome]++
	}
	return tally
}

// CountSince counts completed proposals recorded at or after cutoff.
// Used to rebuild the daily commit counter on restart.
func (s *ProcessedStore) CountSince(cutoff time.Time, outcome string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if rec.Outcome == outcome && !rec.ProcessedAt.Before(cutoff) {
			n++
		}
	}
	return n
}

// atomicWrite writes data to path through a temp file plus rename.
func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
