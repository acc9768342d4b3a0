// Package evolution implements the autonomous code-evolution pipeline:
// collect change proposals, judge them against policy, turn approved ones
// into concrete file edits, apply those edits under safety guardrails,
// validate the result, and commit or roll back. The oracle that scores
// proposals and drafts plans is adversarial-by-assumption: everything it
// returns is parsed defensively and re-checked against hard policy.
package evolution

import "time"

// =============================================================================
// CORE TYPES
// =============================================================================

// Proposal is a normalized request for a code change, from any source.
// Its ID is globally unique and stable across re-collection from the same
// source. Proposals are never mutated after creation.
type Proposal struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Author    string                 `json:"author"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	CreatedAt time.Time              `json:"created_at"` // UTC
	Raw       map[string]interface{} `json:"raw,omitempty"`
}

// Verdict is the judge's decision on a proposal.
type Verdict string

const (
	VerdictApproved    Verdict = "APPROVED"
	VerdictRejected    Verdict = "REJECTED"
	VerdictNeedsReview Verdict = "NEEDS_REVIEW"
)

// Scores are the judge's independent scoring axes, each clamped to [0,10].
type Scores struct {
	Relevance   float64 `json:"relevance"`
	Value       float64 `json:"value"`
	Safety      float64 `json:"safety"`
	Feasibility float64 `json:"feasibility"`
}

// Evaluation is the judge's scored verdict on a proposal. Immutable once
// produced. The safety and threshold overrides have already been applied.
type Evaluation struct {
	Verdict  Verdict  `json:"verdict"`
	Scores   Scores   `json:"scores"`
	Reasons  []string `json:"reasons,omitempty"`
	Summary  string   `json:"summary"`
	AvgScore float64  `json:"avg_score"`
}

// ChangeAction says what a FileChange does to its path.
type ChangeAction string

const (
	ActionCreate ChangeAction = "create"
	ActionModify ChangeAction = "modify"
)

// FileChange is one concrete file operation in a plan.
type FileChange struct {
	Action      ChangeAction `json:"action"`
	FilePath    string       `json:"file_path"`
	Description string       `json:"description,omitempty"`
	Content     string       `json:"content"`
}

// Plan is the oracle's concrete change-set for an approved proposal.
// A plan is only acted on after it passes the full invariant check-list.
type Plan struct {
	Summary             string       `json:"summary"`
	Rationale           string       `json:"rationale,omitempty"`
	EstimatedComplexity string       `json:"estimated_complexity"` // low|medium|high, advisory only
	Changes             []FileChange `json:"changes"`
	Exports             []string     `json:"exports,omitempty"`
	TestCases           []string     `json:"test_cases,omitempty"`
}

// PlanResult carries a plan together with its validation outcome.
type PlanResult struct {
	Plan   *Plan
	Valid  bool
	Errors []string
}

// ChangeRecord is the writer's record of one applied change, including the
// backup needed to undo it. Owned exclusively by the writer for the lifetime
// of one run; the daemon treats the list as an opaque rollback token.
type ChangeRecord struct {
	Action     ChangeAction `json:"action"`
	FilePath   string       `json:"file_path"`
	BackupPath string       `json:"backup_path,omitempty"` // empty for a true create
}

// ApplyResult reports what the writer managed to apply.
type ApplyResult struct {
	Success bool
	Applied []ChangeRecord
	Errors  []string
}

// RollbackResult reports what rollback undid.
type RollbackResult struct {
	Success bool
	Rolled  int
	Errors  []string
}

// Check is one independent post-write validation check.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ValidationReport is the full picture of all checks; Passed is their
// conjunction. Ephemeral - only its summary is persisted to the audit trail.
type ValidationReport struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

// CommitResult is the terminal artifact of a successful run.
type CommitResult struct {
	Success    bool   `json:"success"`
	Branch     string `json:"branch,omitempty"`
	CommitHash string `json:"commit_hash,omitempty"`
	PRURL      string `json:"pr_url,omitempty"`
	Err        string `json:"error,omitempty"`
}

// ProcessedRecord marks a proposal's terminal outcome. A proposal whose id
// has a record is never re-collected; this is the idempotency boundary
// across daemon restarts.
type ProcessedRecord struct {
	Outcome     string    `json:"outcome"`
	ProcessedAt time.Time `json:"processed_at"` // UTC
}

// Terminal outcome tags recorded in the processed store.
const (
	OutcomeCompleted        = "completed"
	OutcomeRejected         = "rejected"
	OutcomeNeedsReview      = "needs_review"
	OutcomePlanFailed       = "plan_failed"
	OutcomeWriteFailed      = "write_failed"
	OutcomeValidationFailed = "validation_failed"
	OutcomeCommitFailed     = "commit_failed"
)
