package evolution

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"evod/internal/logging"
)

// =============================================================================
// VERSION CONTROL
// =============================================================================

// VersionControl is the narrow capability the committer needs. Keeping it
// narrow means the dangerous-content scanner only ever has to reason about
// plan content, never about this layer's own shell-outs, and tests swap in
// an in-memory fake.
type VersionControl interface {
	// CheckoutBase returns the working tree to the base branch, rebasing
	// onto the remote when one is configured.
	CheckoutBase(ctx context.Context) error

	// CreateOrResetBranch checks out the named branch, creating it from the
	// base branch or resetting it if it already exists.
	CreateOrResetBranch(ctx context.Context, name string) error

	// StageAndCommit stages exactly the given paths and commits them,
	// returning the short commit hash.
	StageAndCommit(ctx context.Context, paths []string, message string) (string, error)

	// Push pushes the named branch to the remote.
	Push(ctx context.Context, branch string, force bool) error

	// OpenPullRequest opens a PR for the branch and returns its URL.
	OpenPullRequest(ctx context.Context, branch, title, body string, labels []string) (string, error)
}

// gitVCS shells out to git (and gh for pull requests).
type gitVCS struct {
	repoRoot   string
	baseBranch string
	remote     string
	timeout    time.Duration
}

// NewGitVCS builds the subprocess-backed VersionControl implementation.
func NewGitVCS(repoRoot, baseBranch, remote string, timeout time.Duration) VersionControl {
	if baseBranch == "" {
		baseBranch = "main"
	}
	if remote == "" {
		remote = "origin"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &gitVCS{repoRoot: repoRoot, baseBranch: baseBranch, remote: remote, timeout: timeout}
}

// run executes one git/gh invocation with a bounded timeout.
func (g *gitVCS) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = g.repoRoot
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		logging.CommitterError("[VCS] %s %s failed: %v: %s", name, strings.Join(args, " "), err, truncateString(output, 300))
		return output, fmt.Errorf("%s %s: %w: %s", name, args[0], err, truncateString(output, 300))
	}
	return output, nil
}

func (g *gitVCS) CheckoutBase(ctx context.Context) error {
	if _, err := g.run(ctx, "git", "checkout", g.baseBranch); err != nil {
		return err
	}
	// A missing or unreachable remote degrades to local-only operation.
	if _, err := g.run(ctx, "git", "pull", "--rebase", g.remote, g.baseBranch); err != nil {
		logging.Committer("[VCS] Pull of %s/%s failed, continuing with local %s", g.remote, g.baseBranch, g.baseBranch)
	}
	return nil
}

func (g *gitVCS) CreateOrResetBranch(ctx context.Context, name string) error {
	_, err := g.run(ctx, "git", "checkout", "-B", name, g.baseBranch)
	return err
}

func (g *gitVCS) StageAndCommit(ctx context.Context, paths []string, message string) (string, error) {
	args := append([]string{"add", "--"}, paths...)
	if _, err := g.run(ctx, "git", args...); err != nil {
		return "", err
	}
	if _, err := g.run(ctx, "git", "commit", "-m", message); err != nil {
		return "", err
	}
	return g.run(ctx, "git", "rev-parse", "--short", "HEAD")
}

func (g *gitVCS) Push(ctx context.Context, branch string, force bool) error {
	args := []string{"push"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, g.remote, branch)
	_, err := g.run(ctx, "git", args...)
	return err
}

func (g *gitVCS) OpenPullRequest(ctx context.Context, branch, title, body string, labels []string) (string, error) {
	args := []string{"pr", "create",
		"--base", g.baseBranch,
		"--head", branch,
		"--title", title,
		"--body", body,
	}
	if len(labels) > 0 {
		args = append(args, "--label", strings.Join(labels, ","))
	}
	return g.run(ctx, "gh", args...)
}
