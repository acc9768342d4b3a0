package evolution

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"evod/internal/config"
)

// --- mockOracle ---

type mockOracle struct {
	mu           sync.Mutex
	CompleteFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// State for verification
	Calls []string
}

func (m *mockOracle) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *mockOracle) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, userPrompt)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, systemPrompt, userPrompt)
	}
	return "", fmt.Errorf("no response configured")
}

// --- fakeVCS ---

// fakeVCS records version-control operations in memory.
type fakeVCS struct {
	CheckoutBaseFunc    func(ctx context.Context) error
	CreateBranchFunc    func(ctx context.Context, name string) error
	StageAndCommitFunc  func(ctx context.Context, paths []string, message string) (string, error)
	PushFunc            func(ctx context.Context, branch string, force bool) error
	OpenPullRequestFunc func(ctx context.Context, branch, title, body string, labels []string) (string, error)

	// State for verification
	Ops           []string
	Branches      []string
	CommittedMsgs []string
	StagedPaths   [][]string
	PushedForce   []bool
}

func (f *fakeVCS) CheckoutBase(ctx context.Context) error {
	f.Ops = append(f.Ops, "checkout-base")
	if f.CheckoutBaseFunc != nil {
		return f.CheckoutBaseFunc(ctx)
	}
	return nil
}

func (f *fakeVCS) CreateOrResetBranch(ctx context.Context, name string) error {
	f.Ops = append(f.Ops, "branch:"+name)
	f.Branches = append(f.Branches, name)
	if f.CreateBranchFunc != nil {
		return f.CreateBranchFunc(ctx, name)
	}
	return nil
}

func (f *fakeVCS) StageAndCommit(ctx context.Context, paths []string, message string) (string, error) {
	f.Ops = append(f.Ops, "commit")
	f.StagedPaths = append(f.StagedPaths, paths)
	f.CommittedMsgs = append(f.CommittedMsgs, message)
	if f.StageAndCommitFunc != nil {
		return f.StageAndCommitFunc(ctx, paths, message)
	}
	return "abc1234", nil
}

func (f *fakeVCS) Push(ctx context.Context, branch string, force bool) error {
	f.Ops = append(f.Ops, "push:"+branch)
	f.PushedForce = append(f.PushedForce, force)
	if f.PushFunc != nil {
		return f.PushFunc(ctx, branch, force)
	}
	return nil
}

func (f *fakeVCS) OpenPullRequest(ctx context.Context, branch, title, body string, labels []string) (string, error) {
	f.Ops = append(f.Ops, "pr:"+branch)
	if f.OpenPullRequestFunc != nil {
		return f.OpenPullRequestFunc(ctx, branch, title, body, labels)
	}
	return "https://example.test/pr/1", nil
}

// --- helpers ---

func testPlannerConfig() config.PlannerConfig {
	return config.PlannerConfig{
		AllowedPaths:    []string{"internal/", "cmd/", "pkg/"},
		ForbiddenPaths:  []string{".git/", ".evod/", "vendor/", "go.mod", "go.sum"},
		MaxChanges:      10,
		MaxContentBytes: 256 * 1024,
	}
}

func testStores(t *testing.T) (*LocalQueue, *ProcessedStore) {
	t.Helper()
	dir := t.TempDir()
	queue := NewLocalQueue(filepath.Join(dir, "queue.json"))
	processed, err := OpenProcessedStore(filepath.Join(dir, "processed.json"))
	if err != nil {
		t.Fatalf("OpenProcessedStore failed: %v", err)
	}
	return queue, processed
}

func testProposal(id string) Proposal {
	return Proposal{
		ID:        id,
		Source:    "local",
		Author:    "tester",
		Title:     "Add retry helper",
		Body:      "Add a small retry helper for transient errors",
		CreatedAt: time.Now().UTC(),
	}
}
