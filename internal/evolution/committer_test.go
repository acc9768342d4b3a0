package evolution

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"evod/internal/config"
)

func testCommitterConfig(mode string) config.CommitterConfig {
	return config.CommitterConfig{
		Mode:         mode,
		BaseBranch:   "main",
		BranchPrefix: "evolution/",
		Remote:       "origin",
	}
}

func lowPlan() *Plan {
	return &Plan{
		Summary:             "add helper",
		EstimatedComplexity: "low",
		Changes:             []FileChange{validChange("internal/demo/helper.go")},
	}
}

func appliedRecords() []ChangeRecord {
	return []ChangeRecord{{Action: ActionCreate, FilePath: "internal/demo/helper.go"}}
}

func TestCommitter_DirectMode(t *testing.T) {
	vcs := &fakeVCS{}
	c := NewCommitter(testCommitterConfig("direct"), vcs)

	result := c.Commit(context.Background(), testProposal("p1"), Evaluation{Verdict: VerdictApproved, AvgScore: 8}, lowPlan(), appliedRecords())
	if !result.Success {
		t.Fatalf("Expected success, got %+v", result)
	}
	if result.Branch != "main" {
		t.Errorf("Expected commit on main, got %s", result.Branch)
	}
	if result.CommitHash != "abc1234" {
		t.Errorf("Expected short hash, got %q", result.CommitHash)
	}
	if result.PRURL != "" {
		t.Errorf("Expected no PR URL in direct mode, got %q", result.PRURL)
	}
	if len(vcs.StagedPaths) != 1 || vcs.StagedPaths[0][0] != "internal/demo/helper.go" {
		t.Errorf("Expected exactly the changed files staged, got %v", vcs.StagedPaths)
	}
}

func TestCommitter_PRMode(t *testing.T) {
	vcs := &fakeVCS{}
	c := NewCommitter(testCommitterConfig("pr"), vcs)

	result := c.Commit(context.Background(), testProposal("p1"), Evaluation{Verdict: VerdictApproved, AvgScore: 8}, lowPlan(), appliedRecords())
	if !result.Success {
		t.Fatalf("Expected success, got %+v", result)
	}
	if result.Branch != "evolution/add-retry-helper" {
		t.Errorf("Unexpected branch name %q", result.Branch)
	}
	if result.PRURL == "" {
		t.Error("Expected a PR URL")
	}
	// The working tree must end up back on the base branch.
	if vcs.Ops[len(vcs.Ops)-1] != "checkout-base" {
		t.Errorf("Expected final op to return to base, got %v", vcs.Ops)
	}
	if len(vcs.PushedForce) != 1 || !vcs.PushedForce[0] {
		t.Errorf("Expected a force push of the feature branch, got %v", vcs.PushedForce)
	}
}

func TestCommitter_PRCreationFailureIsPartialSuccess(t *testing.T) {
	vcs := &fakeVCS{
		OpenPullRequestFunc: func(ctx context.Context, branch, title, body string, labels []string) (string, error) {
			return "", fmt.Errorf("gh: command not found")
		},
	}
	c := NewCommitter(testCommitterConfig("pr"), vcs)

	result := c.Commit(context.Background(), testProposal("p1"), Evaluation{}, lowPlan(), appliedRecords())
	if !result.Success {
		t.Fatalf("Branch push should count as partial success, got %+v", result)
	}
	if result.PRURL != "" {
		t.Errorf("Expected empty PR URL, got %q", result.PRURL)
	}
	if result.Err == "" {
		t.Error("Expected the PR failure surfaced in the error field")
	}
}

func TestCommitter_PushFailureIsHardFailure(t *testing.T) {
	vcs := &fakeVCS{
		PushFunc: func(ctx context.Context, branch string, force bool) error {
			return fmt.Errorf("remote rejected")
		},
	}
	c := NewCommitter(testCommitterConfig("pr"), vcs)

	result := c.Commit(context.Background(), testProposal("p1"), Evaluation{}, lowPlan(), appliedRecords())
	if result.Success {
		t.Fatalf("Expected hard failure on push error, got %+v", result)
	}
}

func TestCommitSubject(t *testing.T) {
	p := testProposal("p1")

	low := commitSubject(p, &Plan{EstimatedComplexity: "low"})
	if !strings.HasPrefix(low, "fix(evolution): ") {
		t.Errorf("Expected fix prefix for low complexity, got %q", low)
	}
	high := commitSubject(p, &Plan{EstimatedComplexity: "high"})
	if !strings.HasPrefix(high, "feat(evolution): ") {
		t.Errorf("Expected feat prefix for high complexity, got %q", high)
	}
}

func TestCommitMessage_Traceability(t *testing.T) {
	p := testProposal("gh-issue-42")
	msg := commitMessage(p, Evaluation{Verdict: VerdictApproved, AvgScore: 8.5}, lowPlan())

	for _, want := range []string{"gh-issue-42", "tester", "8.5", "APPROVED"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Commit message missing %q:\n%s", want, msg)
		}
	}
}

func TestPRBody(t *testing.T) {
	body := prBody(testProposal("p1"), Evaluation{Verdict: VerdictApproved, AvgScore: 8,
		Scores: Scores{Relevance: 9, Value: 8, Safety: 7, Feasibility: 8}},
		lowPlan(), []string{"internal/demo/helper.go"})

	if !strings.Contains(body, "| Safety | 7.0 |") {
		t.Errorf("Expected score table in PR body:\n%s", body)
	}
	if !strings.Contains(body, "`internal/demo/helper.go`") {
		t.Errorf("Expected file list in PR body:\n%s", body)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"Add retry helper", 40, "add-retry-helper"},
		{"Fix: crash on empty input!!", 40, "fix-crash-on-empty-input"},
		{"A very long proposal title that keeps going and going", 20, "a-very-long-proposal"},
		{"!!!", 40, "proposal"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in, tt.max); got != tt.want {
			t.Errorf("slugify(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
