package evolution

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"evod/internal/config"
	"evod/internal/logging"
)

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator checks the working tree after a write. Checks are independent:
// one failure never short-circuits the rest, so the report is always the
// full picture. The report's Passed field is the conjunction of all checks.
type Validator struct {
	cfg      config.ValidatorConfig
	repoRoot string
}

// NewValidator builds a validator over the repository at repoRoot.
func NewValidator(cfg config.ValidatorConfig, repoRoot string) *Validator {
	return &Validator{cfg: cfg, repoRoot: repoRoot}
}

// Validate runs syntax checks on every changed source file, build checks on
// each configured entry point, and optionally the full test suite.
func (v *Validator) Validate(ctx context.Context, applied []ChangeRecord) ValidationReport {
	var checks []Check

	for _, rec := range applied {
		checks = append(checks, v.syntaxCheck(rec.FilePath))
	}
	for _, entry := range v.cfg.EntryPoints {
		checks = append(checks, v.buildCheck(ctx, entry))
	}
	if v.cfg.RunTests {
		checks = append(checks, v.testCheck(ctx))
	}

	passed := true
	for _, c := range checks {
		if !c.Passed {
			passed = false
		}
	}

	logging.Validator("[Validator] %d checks, passed=%v", len(checks), passed)
	return ValidationReport{Passed: passed, Checks: checks}
}

// syntaxCheck parses one changed file. Non-Go files have no syntax to
// check and pass trivially.
func (v *Validator) syntaxCheck(relPath string) Check {
	name := "syntax:" + relPath
	if filepath.Ext(relPath) != ".go" {
		return Check{Name: name, Passed: true, Detail: "not a Go file, skipped"}
	}

	path := filepath.Join(v.repoRoot, filepath.FromSlash(relPath))
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.AllErrors)
	if err != nil {
		logging.ValidatorDebug("[Validator] Syntax check failed for %s: %v", relPath, err)
		return Check{Name: name, Passed: false, Detail: err.Error()}
	}

	exports := exportedNames(file)
	detail := "ok"
	if len(exports) > 0 {
		detail = "exports: " + strings.Join(exports, ", ")
	}
	return Check{Name: name, Passed: true, Detail: detail}
}

// exportedNames lists the exported top-level identifiers of a parsed file.
func exportedNames(file *ast.File) []string {
	var names []string
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil && d.Name.IsExported() {
				names = append(names, d.Name.Name)
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					if s.Name.IsExported() {
						names = append(names, s.Name.Name)
					}
				case *ast.ValueSpec:
					for _, n := range s.Names {
						if n.IsExported() {
							names = append(names, n.Name)
						}
					}
				}
			}
		}
	}
	sort.Strings(names)
	return names
}

// buildCheck compiles one entry point in an isolated subprocess.
func (v *Validator) buildCheck(ctx context.Context, entry string) Check {
	name := "build:" + entry
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout())
	defer cancel()
	defer logging.StartTimer(logging.CategoryValidator, name).Stop()

	cmd := exec.CommandContext(ctx, "go", "build", "./"+strings.TrimPrefix(entry, "./"))
	cmd.Dir = v.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		logging.ValidatorDebug("[Validator] Build check failed for %s: %v", entry, err)
		return Check{Name: name, Passed: false, Detail: fmt.Sprintf("%v: %s", err, truncateString(string(out), 500))}
	}
	return Check{Name: name, Passed: true, Detail: "ok"}
}

// testCheck runs the full test suite with a bounded timeout.
func (v *Validator) testCheck(ctx context.Context) Check {
	timeout := v.cfg.Timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer logging.StartTimer(logging.CategoryValidator, "tests").Stop()

	cmd := exec.CommandContext(ctx, "go", "test", fmt.Sprintf("-timeout=%s", timeout), "./...")
	cmd.Dir = v.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Check{Name: "tests", Passed: false, Detail: fmt.Sprintf("%v: %s", err, truncateString(string(out), 500))}
	}
	return Check{Name: "tests", Passed: true, Detail: "ok"}
}
