package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"evod/internal/config"
	"evod/internal/logging"
	"evod/internal/oracle"
)

// =============================================================================
// CODE PLANNER
// =============================================================================

// Planner turns an approved proposal into a concrete change-set by asking
// the oracle, then refuses to believe the answer until it passes the full
// invariant check-list. An invalid plan never reaches disk.
type Planner struct {
	client   oracle.Client
	cfg      config.PlannerConfig
	repoRoot string
}

// NewPlanner builds a planner rooted at the repository under evolution.
func NewPlanner(client oracle.Client, cfg config.PlannerConfig, repoRoot string) *Planner {
	return &Planner{client: client, cfg: cfg, repoRoot: repoRoot}
}

const plannerSystemPrompt = `You are the planning stage of an autonomous code-evolution pipeline
for a Go codebase. You produce minimal, self-contained change-sets.
You respond with JSON only, no prose.`

// planResponse is the shape we expect back from the oracle.
type planResponse struct {
	Summary             string   `json:"summary"`
	Rationale           string   `json:"rationale"`
	EstimatedComplexity string   `json:"estimated_complexity"`
	Changes             []struct {
		Action      string `json:"action"`
		FilePath    string `json:"file_path"`
		Description string `json:"description"`
		Content     string `json:"content"`
	} `json:"changes"`
	Exports   []string `json:"exports"`
	TestCases []string `json:"test_cases"`
}

// Plan asks the oracle for a change-set and validates it. Oracle failure or
// an unparseable response yields an invalid result, never an error the
// daemon has to interpret.
func (p *Planner) Plan(ctx context.Context, proposal Proposal, eval Evaluation) PlanResult {
	snapshot := p.treeSnapshot()
	prompt := p.buildPrompt(proposal, eval, snapshot)

	raw, err := p.client.CompleteWithSystem(ctx, plannerSystemPrompt, prompt)
	if err == nil && logging.IsDebugMode() {
		logging.PlannerDebug("[Planner] Raw oracle response for %s:\n%s", proposal.ID, raw)
	}
	if err != nil {
		logging.Get(logging.CategoryPlanner).Error("[Planner] Oracle failed for %s: %v", proposal.ID, err)
		return PlanResult{Errors: []string{fmt.Sprintf("oracle error: %v", err)}}
	}

	plan, ok := p.parse(raw)
	if !ok {
		logging.Get(logging.CategoryPlanner).Error("[Planner] Unparseable oracle response for %s: %s",
			proposal.ID, truncateString(raw, 200))
		return PlanResult{Errors: []string{"oracle response unparseable"}}
	}

	errs := p.Validate(plan)
	if len(errs) > 0 {
		logging.Planner("[Planner] Plan for %s invalid: %s", proposal.ID, strings.Join(errs, "; "))
		return PlanResult{Plan: plan, Errors: errs}
	}

	logging.Planner("[Planner] Plan for %s: %d changes, complexity=%s: %s",
		proposal.ID, len(plan.Changes), plan.EstimatedComplexity, truncateString(plan.Summary, 120))
	return PlanResult{Plan: plan, Valid: true}
}

func (p *Planner) buildPrompt(proposal Proposal, eval Evaluation, snapshot string) string {
	var b strings.Builder
	b.WriteString("Plan the implementation of this approved proposal.\n\n")
	fmt.Fprintf(&b, "Proposal %s by %s:\nTitle: %s\n\nBody:\n%s\n\n",
		proposal.ID, proposal.Author, proposal.Title, truncateString(proposal.Body, 8000))
	fmt.Fprintf(&b, "Judge summary: %s (avg score %.1f)\n\n", eval.Summary, eval.AvgScore)
	b.WriteString("Repository layout (path: size in bytes):\n")
	b.WriteString(snapshot)
	fmt.Fprintf(&b, `
Constraints:
- at most %d file changes
- file paths must start with one of: %s
- file paths must not start with any of: %s
- no shell execution, process control, or destructive file operations
- "create" changes must include complete file content

Respond with exactly this JSON shape:
{
  "summary": "...",
  "rationale": "...",
  "estimated_complexity": "low" | "medium" | "high",
  "changes": [{"action": "create" | "modify", "file_path": "...", "description": "...", "content": "..."}],
  "exports": ["..."],
  "test_cases": ["..."]
}`, p.cfg.MaxChanges, strings.Join(p.cfg.AllowedPaths, ", "), strings.Join(p.cfg.ForbiddenPaths, ", "))
	return b.String()
}

func (p *Planner) parse(raw string) (*Plan, bool) {
	block := extractJSONBlock(raw)
	if block == "" {
		return nil, false
	}
	var resp planResponse
	if err := json.Unmarshal([]byte(block), &resp); err != nil {
		return nil, false
	}

	complexity := strings.ToLower(strings.TrimSpace(resp.EstimatedComplexity))
	switch complexity {
	case "low", "medium", "high":
	default:
		complexity = "medium"
	}

	plan := &Plan{
		Summary:             strings.TrimSpace(resp.Summary),
		Rationale:           strings.TrimSpace(resp.Rationale),
		EstimatedComplexity: complexity,
		Exports:             resp.Exports,
		TestCases:           resp.TestCases,
	}
	for _, c := range resp.Changes {
		plan.Changes = append(plan.Changes, FileChange{
			Action:      ChangeAction(strings.ToLower(strings.TrimSpace(c.Action))),
			FilePath:    strings.TrimSpace(c.FilePath),
			Description: c.Description,
			Content:     c.Content,
		})
	}
	return plan, true
}

// Validate runs the full invariant check-list. An empty result means the
// plan may be written.
func (p *Planner) Validate(plan *Plan) []string {
	var errs []string

	if len(plan.Changes) == 0 {
		errs = append(errs, "Plan contains no changes.")
	}
	if len(plan.Changes) > p.cfg.MaxChanges {
		errs = append(errs, fmt.Sprintf("Too many changes (%d). Maximum is %d per proposal.",
			len(plan.Changes), p.cfg.MaxChanges))
	}

	for _, c := range plan.Changes {
		switch c.Action {
		case ActionCreate, ActionModify:
		default:
			errs = append(errs, fmt.Sprintf("Unknown action %q for %s.", c.Action, c.FilePath))
			continue
		}
		errs = append(errs, checkPath(p.cfg, c.FilePath)...)
		errs = append(errs, scanContent(c.FilePath, c.Content)...)
		if c.Action == ActionCreate && strings.TrimSpace(c.Content) == "" {
			errs = append(errs, fmt.Sprintf("Create action for %s has empty content.", c.FilePath))
		}
	}
	return errs
}

// checkPath enforces the allow/deny prefix policy on a plan-relative path.
// Shared with the writer, which re-checks at apply time.
func checkPath(cfg config.PlannerConfig, path string) []string {
	var errs []string

	clean := filepath.ToSlash(filepath.Clean(path))
	if path == "" || clean == "." {
		return []string{"Change has empty file path."}
	}
	if filepath.IsAbs(path) || strings.HasPrefix(clean, "..") {
		return []string{fmt.Sprintf("Path escapes repository: %s", path)}
	}

	for _, deny := range cfg.ForbiddenPaths {
		if strings.HasPrefix(clean, strings.TrimSuffix(deny, "/")+"/") || clean == strings.TrimSuffix(deny, "/") {
			errs = append(errs, fmt.Sprintf("Forbidden path: %s (matches %s)", path, deny))
			return errs
		}
	}

	allowed := false
	for _, allow := range cfg.AllowedPaths {
		// Same trailing-slash normalization as the deny check, so an
		// allow entry "internal" cannot admit "internals/evil.go".
		prefix := strings.TrimSuffix(allow, "/")
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			allowed = true
			break
		}
	}
	if !allowed {
		errs = append(errs, fmt.Sprintf("Path outside allowed prefixes: %s", path))
	}
	return errs
}

// =============================================================================
// TREE SNAPSHOT
// =============================================================================

// snapshot walk bounds. The oracle only needs enough layout to place files
// sensibly, not the whole tree.
const (
	snapshotMaxDepth   = 8
	snapshotMaxEntries = 500
)

var snapshotExclusions = map[string]bool{
	".git":         true,
	".evod":        true,
	"vendor":       true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"testdata":     true,
}

// treeSnapshot serializes the repository layout as "path: size" lines for
// source files, one per line. Explicit stack-based traversal with a depth
// bound; symlinks are never followed.
func (p *Planner) treeSnapshot() string {
	type frame struct {
		path  string // relative, "" for root
		depth int
	}

	var lines []string
	stack := []frame{{path: "", depth: 0}}

	for len(stack) > 0 && len(lines) < snapshotMaxEntries {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(filepath.Join(p.repoRoot, f.path))
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			rel := name
			if f.path != "" {
				rel = f.path + "/" + name
			}
			if e.Type()&os.ModeSymlink != 0 {
				continue
			}
			if e.IsDir() {
				if snapshotExclusions[name] || strings.HasPrefix(name, ".") {
					continue
				}
				if f.depth+1 < snapshotMaxDepth {
					stack = append(stack, frame{path: rel, depth: f.depth + 1})
				}
				continue
			}
			if !isSourceFile(name) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: %d", rel, info.Size()))
		}
	}

	sort.Strings(lines)
	if len(lines) == 0 {
		return "(empty repository)\n"
	}
	return strings.Join(lines, "\n") + "\n"
}

func isSourceFile(name string) bool {
	switch filepath.Ext(name) {
	case ".go", ".mod", ".sum", ".md", ".yaml", ".yml", ".json":
		return true
	}
	return false
}
