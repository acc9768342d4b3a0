package evolution

import (
	"context"
	"fmt"
	"strings"

	"evod/internal/config"
	"evod/internal/logging"
)

// =============================================================================
// COMMITTER
// =============================================================================

// prLabels tag every pull request the pipeline opens.
var prLabels = []string{"evolution", "automated"}

// Committer turns an applied, validated change-set into a commit on the
// base branch or a pushed branch with a pull request. Either way it leaves
// the working tree back on the base branch so the next run starts clean.
type Committer struct {
	cfg config.CommitterConfig
	vcs VersionControl
}

// NewCommitter builds a committer over the given version-control backend.
func NewCommitter(cfg config.CommitterConfig, vcs VersionControl) *Committer {
	return &Committer{cfg: cfg, vcs: vcs}
}

// Commit publishes the run. A VCS error is a hard failure (the daemon rolls
// back); a PR-creation failure after a successful branch push is a partial
// success the operator can finish by hand.
func (c *Committer) Commit(ctx context.Context, p Proposal, eval Evaluation, plan *Plan, applied []ChangeRecord) CommitResult {
	paths := make([]string, 0, len(applied))
	for _, rec := range applied {
		paths = append(paths, rec.FilePath)
	}
	message := commitMessage(p, eval, plan)

	if c.cfg.Mode == "direct" {
		return c.commitDirect(ctx, paths, message)
	}
	return c.commitPR(ctx, p, eval, plan, paths, message)
}

func (c *Committer) commitDirect(ctx context.Context, paths []string, message string) CommitResult {
	if err := c.vcs.CheckoutBase(ctx); err != nil {
		return CommitResult{Err: fmt.Sprintf("checkout %s: %v", c.cfg.BaseBranch, err)}
	}
	hash, err := c.vcs.StageAndCommit(ctx, paths, message)
	if err != nil {
		return CommitResult{Err: fmt.Sprintf("commit: %v", err)}
	}
	if err := c.vcs.Push(ctx, c.cfg.BaseBranch, false); err != nil {
		return CommitResult{Err: fmt.Sprintf("push %s: %v", c.cfg.BaseBranch, err)}
	}

	logging.Committer("[Committer] Direct commit %s on %s", hash, c.cfg.BaseBranch)
	return CommitResult{Success: true, Branch: c.cfg.BaseBranch, CommitHash: hash}
}

func (c *Committer) commitPR(ctx context.Context, p Proposal, eval Evaluation, plan *Plan, paths []string, message string) CommitResult {
	branch := c.cfg.BranchPrefix + slugify(p.Title, 40)

	if err := c.vcs.CheckoutBase(ctx); err != nil {
		return CommitResult{Err: fmt.Sprintf("checkout %s: %v", c.cfg.BaseBranch, err)}
	}
	// Whatever happens from here, the next run starts on the base branch.
	defer func() {
		if err := c.vcs.CheckoutBase(ctx); err != nil {
			logging.CommitterError("[Committer] Could not return to %s: %v", c.cfg.BaseBranch, err)
		}
	}()

	if err := c.vcs.CreateOrResetBranch(ctx, branch); err != nil {
		return CommitResult{Err: fmt.Sprintf("branch %s: %v", branch, err)}
	}
	hash, err := c.vcs.StageAndCommit(ctx, paths, message)
	if err != nil {
		return CommitResult{Branch: branch, Err: fmt.Sprintf("commit: %v", err)}
	}
	if err := c.vcs.Push(ctx, branch, true); err != nil {
		return CommitResult{Branch: branch, CommitHash: hash, Err: fmt.Sprintf("push %s: %v", branch, err)}
	}

	title := commitSubject(p, plan)
	url, err := c.vcs.OpenPullRequest(ctx, branch, title, prBody(p, eval, plan, paths), prLabels)
	if err != nil {
		// The branch is pushed; the operator can open the PR manually.
		logging.Committer("[Committer] Branch %s pushed but PR creation failed: %v", branch, err)
		return CommitResult{
			Success:    true,
			Branch:     branch,
			CommitHash: hash,
			Err:        fmt.Sprintf("branch pushed but PR creation failed: %v", err),
		}
	}

	logging.Committer("[Committer] Opened PR %s from %s (%s)", url, branch, hash)
	return CommitResult{Success: true, Branch: branch, CommitHash: hash, PRURL: url}
}

// =============================================================================
// MESSAGE GENERATION
// =============================================================================

// commitSubject builds the conventional-commit subject line. Low-complexity
// plans read as fixes, the rest as features.
func commitSubject(p Proposal, plan *Plan) string {
	typ := "feat"
	if plan.EstimatedComplexity == "low" {
		typ = "fix"
	}
	return fmt.Sprintf("%s(evolution): %s", typ, truncateString(p.Title, 72))
}

func commitMessage(p Proposal, eval Evaluation, plan *Plan) string {
	var b strings.Builder
	b.WriteString(commitSubject(p, plan))
	b.WriteString("\n\n")
	if plan.Summary != "" {
		b.WriteString(plan.Summary)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Proposal: %s\nAuthor: %s\nJudge score: %.1f/10 (%s)\n", p.ID, p.Author, eval.AvgScore, eval.Verdict)
	return b.String()
}

// prBody renders the Markdown pull-request description.
func prBody(p Proposal, eval Evaluation, plan *Plan, paths []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated change for proposal `%s` by %s.\n\n", p.ID, p.Author)
	if plan.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", plan.Summary)
	}

	b.WriteString("## Evaluation\n\n")
	fmt.Fprintf(&b, "Verdict: **%s** (avg %.1f/10)\n\n", eval.Verdict, eval.AvgScore)
	b.WriteString("| Axis | Score |\n|---|---|\n")
	fmt.Fprintf(&b, "| Relevance | %.1f |\n", eval.Scores.Relevance)
	fmt.Fprintf(&b, "| Value | %.1f |\n", eval.Scores.Value)
	fmt.Fprintf(&b, "| Safety | %.1f |\n", eval.Scores.Safety)
	fmt.Fprintf(&b, "| Feasibility | %.1f |\n\n", eval.Scores.Feasibility)

	b.WriteString("## Changed files\n\n")
	for _, path := range paths {
		fmt.Fprintf(&b, "- `%s`\n", path)
	}
	return b.String()
}

// slugify turns a title into a branch-safe slug of at most maxLen runes.
func slugify(title string, maxLen int) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= maxLen {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "proposal"
	}
	return slug
}
