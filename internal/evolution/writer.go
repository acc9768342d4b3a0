package evolution

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"evod/internal/config"
	"evod/internal/logging"
)

// =============================================================================
// CODE WRITER
// =============================================================================

// Writer applies a validated plan to the working tree. It is the only
// component that touches repository files, and it is strictly single-run:
// one Apply, optionally one Rollback, then the next run starts fresh.
//
// Every path is re-checked against the allow/deny policy at apply time.
// The planner's check must not be the only gate between oracle output and
// the filesystem.
type Writer struct {
	mu       sync.Mutex
	cfg      config.PlannerConfig
	repoRoot string
	stateDir string

	runDir  string
	applied []ChangeRecord
}

// NewWriter builds a writer over the repository at repoRoot, keeping
// backups under stateDir.
func NewWriter(cfg config.PlannerConfig, repoRoot, stateDir string) *Writer {
	return &Writer{cfg: cfg, repoRoot: repoRoot, stateDir: stateDir}
}

// Apply writes each change in order, backing up pre-existing content first.
// Success requires zero per-file errors and at least one applied change.
// A partial application is returned as-is; the daemon decides whether the
// surviving subset is worth validating.
func (w *Writer) Apply(plan *Plan) ApplyResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.runDir = filepath.Join(w.stateDir, "backups", fmt.Sprintf("run-%d", time.Now().UnixNano()))
	w.applied = nil

	var errs []string
	for _, change := range plan.Changes {
		if err := w.applyOne(change); err != nil {
			logging.WriterError("[Writer] %s %s failed: %v", change.Action, change.FilePath, err)
			errs = append(errs, fmt.Sprintf("%s %s: %v", change.Action, change.FilePath, err))
		}
	}

	result := ApplyResult{
		Success: len(errs) == 0 && len(w.applied) > 0,
		Applied: append([]ChangeRecord(nil), w.applied...),
		Errors:  errs,
	}
	logging.Writer("[Writer] Applied %d/%d changes (run dir %s)", len(w.applied), len(plan.Changes), w.runDir)
	return result
}

func (w *Writer) applyOne(change FileChange) error {
	if violations := checkPath(w.cfg, change.FilePath); len(violations) > 0 {
		return fmt.Errorf("path rejected: %s", violations[0])
	}
	if w.cfg.MaxContentBytes > 0 && len(change.Content) > w.cfg.MaxContentBytes {
		return fmt.Errorf("content too large: %d bytes (limit %d)", len(change.Content), w.cfg.MaxContentBytes)
	}

	target := filepath.Join(w.repoRoot, filepath.FromSlash(change.FilePath))
	record := ChangeRecord{Action: change.Action, FilePath: change.FilePath}

	_, statErr := os.Stat(target)
	exists := statErr == nil

	// A create hitting an existing file becomes a modify with backup; we
	// never silently skip or clobber without a restore point.
	if exists {
		backup, err := w.backup(change.FilePath, target)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		record.Action = ActionModify
		record.BackupPath = backup
	} else if change.Action == ActionModify {
		// Modify of a missing file degrades to create; rollback deletes it.
		record.Action = ActionCreate
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create parent dirs: %w", err)
	}
	if err := os.WriteFile(target, []byte(change.Content), 0644); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	w.applied = append(w.applied, record)
	return nil
}

// backup copies target into the per-run backup directory, mirroring its
// repository-relative path.
func (w *Writer) backup(relPath, target string) (string, error) {
	backupPath := filepath.Join(w.runDir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(backupPath), 0755); err != nil {
		return "", err
	}

	src, err := os.Open(target)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(backupPath)
		return "", err
	}
	return backupPath, nil
}

// Rollback undoes the applied changes in reverse order: creates are
// deleted, modifies restored from backup. Idempotent; the applied list is
// cleared afterward, so a second call is a no-op.
func (w *Writer) Rollback() RollbackResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.applied) == 0 {
		return RollbackResult{Success: true}
	}

	var errs []string
	rolled := 0
	for i := len(w.applied) - 1; i >= 0; i-- {
		rec := w.applied[i]
		target := filepath.Join(w.repoRoot, filepath.FromSlash(rec.FilePath))

		var err error
		if rec.BackupPath != "" {
			err = restoreFile(rec.BackupPath, target)
		} else {
			err = os.Remove(target)
			if os.IsNotExist(err) {
				err = nil
			}
		}
		if err != nil {
			logging.WriterError("[Writer] Rollback of %s failed: %v", rec.FilePath, err)
			errs = append(errs, fmt.Sprintf("%s: %v", rec.FilePath, err))
			continue
		}
		rolled++
	}

	w.applied = nil
	logging.Writer("[Writer] Rolled back %d changes", rolled)
	return RollbackResult{Success: len(errs) == 0, Rolled: rolled, Errors: errs}
}

// AppliedChanges returns a copy of the current run's change records.
func (w *Writer) AppliedChanges() []ChangeRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ChangeRecord(nil), w.applied...)
}

// ClearApplied forgets the current run without undoing it. Called after a
// successful commit, when backups are retained for forensics only.
func (w *Writer) ClearApplied() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.applied = nil
}

func restoreFile(backupPath, target string) error {
	src, err := os.Open(backupPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
