package evolution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validChange(path string) FileChange {
	return FileChange{
		Action:   ActionCreate,
		FilePath: path,
		Content:  "package demo\n",
	}
}

func TestPlanner_Validate_TooManyChanges(t *testing.T) {
	p := NewPlanner(nil, testPlannerConfig(), t.TempDir())

	plan := &Plan{Summary: "big plan", EstimatedComplexity: "high"}
	for i := 0; i < 11; i++ {
		plan.Changes = append(plan.Changes, validChange(fmt.Sprintf("internal/demo/file%d.go", i)))
	}

	errs := p.Validate(plan)
	if len(errs) == 0 {
		t.Fatal("Expected validation errors for 11 changes")
	}
	want := "Too many changes (11). Maximum is 10 per proposal."
	found := false
	for _, e := range errs {
		if e == want {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected error %q, got %v", want, errs)
	}
}

func TestPlanner_Validate_ForbiddenPath(t *testing.T) {
	p := NewPlanner(nil, testPlannerConfig(), t.TempDir())

	plan := &Plan{Changes: []FileChange{
		{Action: ActionModify, FilePath: ".git/config", Content: "[core]\n"},
	}}

	errs := p.Validate(plan)
	if len(errs) == 0 {
		t.Fatal("Expected validation error for .git/config")
	}
	if !strings.Contains(errs[0], "Forbidden path") {
		t.Errorf("Expected forbidden-path error, got %v", errs)
	}
}

func TestPlanner_Validate_PathOutsideAllowList(t *testing.T) {
	p := NewPlanner(nil, testPlannerConfig(), t.TempDir())

	plan := &Plan{Changes: []FileChange{validChange("docs/readme.md")}}
	errs := p.Validate(plan)
	if len(errs) == 0 {
		t.Fatal("Expected validation error for path outside allow-list")
	}
}

func TestPlanner_Validate_PathEscape(t *testing.T) {
	p := NewPlanner(nil, testPlannerConfig(), t.TempDir())

	tests := []string{
		"../outside.go",
		"internal/../../escape.go",
		"/etc/passwd",
	}
	for _, path := range tests {
		plan := &Plan{Changes: []FileChange{validChange(path)}}
		if errs := p.Validate(plan); len(errs) == 0 {
			t.Errorf("Expected rejection of escaping path %q", path)
		}
	}
}

func TestPlanner_Validate_DangerousContent(t *testing.T) {
	p := NewPlanner(nil, testPlannerConfig(), t.TempDir())

	tests := []struct {
		name    string
		content string
	}{
		{"shell exec", "package x\nimport \"os/exec\"\nfunc run() { exec.Command(\"rm\") }\n"},
		{"remove all", "package x\nimport \"os\"\nfunc wipe() { os.RemoveAll(\"/data\") }\n"},
		{"rm -rf", "#!/bin/sh\nrm -rf /\n"},
		{"credential probe", "package x\nvar keyPath = \"~/.ssh/id_rsa\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := &Plan{Changes: []FileChange{
				{Action: ActionCreate, FilePath: "internal/demo/x.go", Content: tt.content},
			}}
			if errs := p.Validate(plan); len(errs) == 0 {
				t.Errorf("Expected dangerous-content rejection for %s", tt.name)
			}
		})
	}
}

func TestPlanner_Validate_AllowPrefixIsComponentBound(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.AllowedPaths = []string{"internal"}
	p := NewPlanner(nil, cfg, t.TempDir())

	// A sibling directory sharing the prefix string is not allowed.
	plan := &Plan{Changes: []FileChange{validChange("internals/evil.go")}}
	if errs := p.Validate(plan); len(errs) == 0 {
		t.Fatal("Expected rejection of internals/ under allow entry \"internal\"")
	}

	plan = &Plan{Changes: []FileChange{validChange("internal/ok.go")}}
	if errs := p.Validate(plan); len(errs) != 0 {
		t.Fatalf("Expected internal/ok.go allowed, got %v", errs)
	}
}

func TestPlanner_Validate_EmptyCreateContent(t *testing.T) {
	p := NewPlanner(nil, testPlannerConfig(), t.TempDir())

	plan := &Plan{Changes: []FileChange{
		{Action: ActionCreate, FilePath: "internal/demo/empty.go", Content: "   \n"},
	}}
	errs := p.Validate(plan)
	if len(errs) == 0 {
		t.Fatal("Expected rejection of create with empty content")
	}
}

func TestPlanner_Validate_CleanPlanPasses(t *testing.T) {
	p := NewPlanner(nil, testPlannerConfig(), t.TempDir())

	plan := &Plan{
		Summary: "add helper",
		Changes: []FileChange{
			validChange("internal/demo/helper.go"),
			{Action: ActionModify, FilePath: "cmd/demo/main.go", Content: "package main\n"},
		},
	}
	if errs := p.Validate(plan); len(errs) != 0 {
		t.Fatalf("Expected clean plan to pass, got %v", errs)
	}
}

func TestPlanner_Plan_ParsesOracleResponse(t *testing.T) {
	oracle := &mockOracle{
		CompleteFunc: func(ctx context.Context, sys, user string) (string, error) {
			return "```json\n" + `{
				"summary": "add helper",
				"rationale": "requested",
				"estimated_complexity": "low",
				"changes": [{"action": "create", "file_path": "internal/demo/helper.go", "description": "new helper", "content": "package demo\n"}],
				"exports": ["Helper"],
				"test_cases": ["helper works"]
			}` + "\n```", nil
		},
	}
	p := NewPlanner(oracle, testPlannerConfig(), t.TempDir())

	result := p.Plan(context.Background(), testProposal("p1"), Evaluation{Verdict: VerdictApproved, AvgScore: 8})
	if !result.Valid {
		t.Fatalf("Expected valid plan, got errors %v", result.Errors)
	}
	if len(result.Plan.Changes) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(result.Plan.Changes))
	}
	if result.Plan.EstimatedComplexity != "low" {
		t.Errorf("Expected complexity low, got %s", result.Plan.EstimatedComplexity)
	}
}

func TestPlanner_Plan_OracleFailureIsInvalid(t *testing.T) {
	oracle := &mockOracle{
		CompleteFunc: func(ctx context.Context, sys, user string) (string, error) {
			return "", fmt.Errorf("timeout")
		},
	}
	p := NewPlanner(oracle, testPlannerConfig(), t.TempDir())

	result := p.Plan(context.Background(), testProposal("p1"), Evaluation{})
	if result.Valid {
		t.Fatal("Expected invalid result on oracle failure")
	}
	if len(result.Errors) == 0 {
		t.Fatal("Expected non-empty errors on oracle failure")
	}
}

func TestPlanner_TreeSnapshot(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "internal", "demo", "a.go"), "package demo\n")
	mustWrite(t, filepath.Join(root, ".git", "config"), "[core]\n")
	mustWrite(t, filepath.Join(root, "vendor", "dep.go"), "package dep\n")
	mustWrite(t, filepath.Join(root, "image.png"), "binary")

	p := NewPlanner(nil, testPlannerConfig(), root)
	snapshot := p.treeSnapshot()

	if !strings.Contains(snapshot, "internal/demo/a.go") {
		t.Errorf("Expected snapshot to include source file, got:\n%s", snapshot)
	}
	if strings.Contains(snapshot, ".git") || strings.Contains(snapshot, "vendor") {
		t.Errorf("Expected snapshot to exclude .git and vendor, got:\n%s", snapshot)
	}
	if strings.Contains(snapshot, "image.png") {
		t.Errorf("Expected snapshot to skip non-source files, got:\n%s", snapshot)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}
