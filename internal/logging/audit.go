// Package logging provides the append-only audit trail of pipeline events.
// The trail is newline-delimited JSON, one object per stage transition. It is
// the authoritative record of what happened even if the process crashes
// mid-run, so it is written before the pipeline moves on - but it is strictly
// best-effort: an I/O error is noted on stderr and swallowed, it never blocks
// or fails the pipeline.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType names a pipeline stage transition.
type EventType string

const (
	EventDaemonStart      EventType = "DAEMON_START"
	EventDaemonStop       EventType = "DAEMON_STOP"
	EventCycleSkipped     EventType = "CYCLE_SKIPPED"
	EventProposalStart    EventType = "PROPOSAL_START"
	EventProposalJudged   EventType = "PROPOSAL_JUDGED"
	EventPlanCreated      EventType = "PLAN_CREATED"
	EventPlanInvalid      EventType = "PLAN_INVALID"
	EventWriteApplied     EventType = "WRITE_APPLIED"
	EventWriteFailed      EventType = "WRITE_FAILED"
	EventValidationPassed EventType = "VALIDATION_PASSED"
	EventValidationFailed EventType = "VALIDATION_FAILED"
	EventRolledBack       EventType = "ROLLED_BACK"
	EventCommitFailed     EventType = "COMMIT_FAILED"
	EventProposalComplete EventType = "PROPOSAL_COMPLETE"
	EventProposalQueued   EventType = "PROPOSAL_QUEUED"
)

// Entry is one audit log line.
type Entry struct {
	Timestamp  string                 `json:"ts"` // UTC, RFC 3339
	Event      EventType              `json:"event"`
	ProposalID string                 `json:"proposal_id,omitempty"`
	Outcome    string                 `json:"outcome,omitempty"`
	Detail     string                 `json:"detail,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// Trail is an append-only audit log backed by a single NDJSON file.
// Safe for concurrent use.
type Trail struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewTrail opens (creating if needed) the audit file at path. The returned
// Trail is usable even when the file cannot be opened; appends then degrade
// to stderr notes.
func NewTrail(path string) *Trail {
	t := &Trail{path: path}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "[audit] Warning: could not create audit dir: %v\n", err)
		return t
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[audit] Warning: could not open audit log %s: %v\n", path, err)
		return t
	}
	t.file = f
	return t
}

// Append writes one event line. Errors are swallowed.
func (t *Trail) Append(entry Entry) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[audit] Warning: could not marshal entry: %v\n", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return
	}
	if _, err := t.file.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "[audit] Warning: audit write failed: %v\n", err)
	}
}

// Event is shorthand for appending an event with optional structured fields.
func (t *Trail) Event(event EventType, proposalID string, fields map[string]interface{}) {
	t.Append(Entry{Event: event, ProposalID: proposalID, Fields: fields})
}

// Outcome records a terminal stage transition with its outcome tag.
func (t *Trail) Outcome(event EventType, proposalID, outcome, detail string) {
	t.Append(Entry{Event: event, ProposalID: proposalID, Outcome: outcome, Detail: detail})
}

// Close closes the underlying file.
func (t *Trail) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// Path returns the audit file location.
func (t *Trail) Path() string {
	return t.path
}
