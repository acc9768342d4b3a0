package evolution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"evod/internal/config"
	"evod/internal/logging"
)

// =============================================================================
// EVOLUTION DAEMON
// =============================================================================

// Daemon drives the pipeline: a periodic cycle collects proposals and runs
// each one through judge, planner, writer, validator and committer, strictly
// one at a time. The writer, the git working tree and the backup directory
// are singleton shared resources; concurrency here would corrupt them.
//
// All timer state lives on the value; there are no package-level timers.
type Daemon struct {
	cfg       *config.Config
	collector *Collector
	judge     *Judge
	planner   *Planner
	writer    *Writer
	validator *Validator
	committer *Committer
	audit     *logging.Trail
	processed *ProcessedStore

	mu          sync.Mutex
	running     bool
	dailyCount  int
	cycleCount  int
	lastCycleAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDaemon wires the pipeline together.
func NewDaemon(cfg *config.Config, collector *Collector, judge *Judge, planner *Planner,
	writer *Writer, validator *Validator, committer *Committer,
	processed *ProcessedStore, audit *logging.Trail) *Daemon {
	return &Daemon{
		cfg:       cfg,
		collector: collector,
		judge:     judge,
		planner:   planner,
		writer:    writer,
		validator: validator,
		committer: committer,
		processed: processed,
		audit:     audit,
	}
}

// Start arms the cycle and midnight timers and begins processing. It returns
// immediately; work happens on a background goroutine.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	interval, err := d.cfg.Daemon.Interval()
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("invalid cycle interval: %w", err)
	}
	d.running = true
	d.stopCh = make(chan struct{})
	// Rebuild the daily counter from durable state so a restart cannot
	// grant a fresh budget.
	d.dailyCount = d.processed.CountSince(startOfToday(), OutcomeCompleted)
	d.mu.Unlock()

	d.audit.Event(logging.EventDaemonStart, "", map[string]interface{}{
		"interval":     interval.String(),
		"max_per_day":  d.cfg.Daemon.MaxProposalsPerDay,
		"daily_so_far": d.dailyCount,
	})
	logging.Daemon("[Daemon] Started: interval=%s max/day=%d already-committed-today=%d",
		interval, d.cfg.Daemon.MaxProposalsPerDay, d.dailyCount)

	d.wg.Add(1)
	go d.loop(ctx, interval)
	return nil
}

// Stop prevents new cycles and waits for any in-flight proposal to finish.
// It never interrupts a proposal already in progress.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	d.audit.Event(logging.EventDaemonStop, "", nil)
	logging.Daemon("[Daemon] Stopped")
}

func (d *Daemon) loop(ctx context.Context, interval time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	midnight := time.NewTimer(time.Until(nextMidnight()))
	defer midnight.Stop()

	// First cycle runs immediately; the ticker covers the rest.
	d.RunCycle(ctx)

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-midnight.C:
			d.resetDailyCounter()
			midnight.Reset(time.Until(nextMidnight()))
		case <-ticker.C:
			d.RunCycle(ctx)
		}
	}
}

// resetDailyCounter zeroes the calendar-day commit counter. Driven by the
// midnight timer in loop.
func (d *Daemon) resetDailyCounter() {
	d.mu.Lock()
	d.dailyCount = 0
	d.mu.Unlock()
	logging.Daemon("[Daemon] Daily counter reset")
}

// RunCycle collects a batch and processes it sequentially. Exposed so the
// CLI can run a single cycle without starting timers.
func (d *Daemon) RunCycle(ctx context.Context) {
	d.mu.Lock()
	if d.dailyCount >= d.cfg.Daemon.MaxProposalsPerDay {
		d.mu.Unlock()
		logging.Daemon("[Daemon] Daily cap reached (%d), skipping cycle", d.cfg.Daemon.MaxProposalsPerDay)
		d.audit.Event(logging.EventCycleSkipped, "", map[string]interface{}{
			"reason": "daily cap reached",
		})
		return
	}
	d.cycleCount++
	d.lastCycleAt = time.Now().UTC()
	cycle := d.cycleCount
	d.mu.Unlock()

	batch, err := d.collector.Collect(ctx)
	if err != nil {
		logging.Daemon("[Daemon] Cycle %d: collection failed: %v", cycle, err)
		return
	}
	logging.Daemon("[Daemon] Cycle %d: %d proposals", cycle, len(batch))
	if logging.IsDebugMode() && len(batch) > 0 {
		ids := make([]string, len(batch))
		for i, p := range batch {
			ids[i] = p.ID
		}
		logging.DaemonDebug("[Daemon] Cycle %d batch: %s", cycle, strings.Join(ids, ", "))
	}

	for _, proposal := range batch {
		if d.stopped() {
			logging.Daemon("[Daemon] Stop requested, abandoning rest of batch")
			return
		}
		d.mu.Lock()
		capped := d.dailyCount >= d.cfg.Daemon.MaxProposalsPerDay
		d.mu.Unlock()
		if capped {
			logging.Daemon("[Daemon] Daily cap reached mid-batch, abandoning rest")
			return
		}
		d.processProposal(ctx, proposal)
	}
}

func (d *Daemon) stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopCh == nil {
		return false
	}
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// processProposal walks one proposal through the state machine. Every
// transition is audited before the pipeline moves on, and every terminal
// outcome lands in the processed store so the proposal is never retried
// automatically.
func (d *Daemon) processProposal(ctx context.Context, p Proposal) {
	logging.Daemon("[Daemon] Processing %s: %s", p.ID, truncateString(p.Title, 80))
	d.audit.Event(logging.EventProposalStart, p.ID, map[string]interface{}{
		"source": p.Source,
		"title":  truncateString(p.Title, 200),
	})

	eval := d.judge.Evaluate(ctx, p)
	d.audit.Append(logging.Entry{
		Event:      logging.EventProposalJudged,
		ProposalID: p.ID,
		Detail:     eval.Summary,
		Fields: map[string]interface{}{
			"verdict":   string(eval.Verdict),
			"avg_score": eval.AvgScore,
			"safety":    eval.Scores.Safety,
		},
	})

	switch eval.Verdict {
	case VerdictRejected:
		d.finish(p, OutcomeRejected, eval.Summary)
		return
	case VerdictNeedsReview:
		d.finish(p, OutcomeNeedsReview, eval.Summary)
		return
	}

	result := d.planner.Plan(ctx, p, eval)
	if !result.Valid {
		d.audit.Outcome(logging.EventPlanInvalid, p.ID, OutcomePlanFailed, strings.Join(result.Errors, "; "))
		d.finish(p, OutcomePlanFailed, "")
		return
	}
	plan := result.Plan
	d.audit.Event(logging.EventPlanCreated, p.ID, map[string]interface{}{
		"changes":    len(plan.Changes),
		"complexity": plan.EstimatedComplexity,
		"summary":    truncateString(plan.Summary, 200),
	})

	applied := d.writer.Apply(plan)
	if len(applied.Applied) == 0 {
		// Nothing durable changed, so there is nothing to roll back.
		d.audit.Outcome(logging.EventWriteFailed, p.ID, OutcomeWriteFailed, strings.Join(applied.Errors, "; "))
		d.finish(p, OutcomeWriteFailed, "")
		return
	}
	d.audit.Event(logging.EventWriteApplied, p.ID, map[string]interface{}{
		"applied": len(applied.Applied),
		"errors":  len(applied.Errors),
	})

	report := d.validator.Validate(ctx, applied.Applied)
	if !report.Passed {
		d.audit.Outcome(logging.EventValidationFailed, p.ID, OutcomeValidationFailed, summarizeChecks(report))
		d.rollback(p)
		d.finish(p, OutcomeValidationFailed, "")
		return
	}
	d.audit.Event(logging.EventValidationPassed, p.ID, map[string]interface{}{
		"checks": len(report.Checks),
	})

	commit := d.committer.Commit(ctx, p, eval, plan, applied.Applied)
	if !commit.Success {
		d.audit.Outcome(logging.EventCommitFailed, p.ID, OutcomeCommitFailed, commit.Err)
		d.rollback(p)
		d.finish(p, OutcomeCommitFailed, "")
		return
	}

	// Backups are kept for forensics only once the commit lands.
	d.writer.ClearApplied()
	d.audit.Append(logging.Entry{
		Event:      logging.EventProposalComplete,
		ProposalID: p.ID,
		Outcome:    OutcomeCompleted,
		Detail:     commit.Err,
		Fields: map[string]interface{}{
			"branch": commit.Branch,
			"commit": commit.CommitHash,
			"pr_url": commit.PRURL,
		},
	})
	d.finish(p, OutcomeCompleted, "")

	d.mu.Lock()
	d.dailyCount++
	count := d.dailyCount
	d.mu.Unlock()
	logging.Daemon("[Daemon] %s completed (%s, %d/%d today)",
		p.ID, commit.CommitHash, count, d.cfg.Daemon.MaxProposalsPerDay)
}

// finish persists the terminal outcome. The durable mark must land before
// the daemon considers the proposal done.
func (d *Daemon) finish(p Proposal, outcome, detail string) {
	if err := d.collector.MarkProcessed(p, outcome); err != nil {
		logging.Get(logging.CategoryDaemon).Error("[Daemon] Could not mark %s processed: %v", p.ID, err)
	}
	if outcome != OutcomeCompleted {
		logging.Daemon("[Daemon] %s finished: %s %s", p.ID, outcome, truncateString(detail, 120))
	}
}

func (d *Daemon) rollback(p Proposal) {
	result := d.writer.Rollback()
	d.audit.Event(logging.EventRolledBack, p.ID, map[string]interface{}{
		"rolled":  result.Rolled,
		"success": result.Success,
	})
}

// Status is a point-in-time snapshot for the CLI.
type Status struct {
	Running     bool      `json:"running"`
	DailyCount  int       `json:"daily_count"`
	DailyMax    int       `json:"daily_max"`
	Cycles      int       `json:"cycles"`
	LastCycleAt time.Time `json:"last_cycle_at,omitempty"`
	Processed   int       `json:"processed_total"`
}

// Status reports the daemon's current counters.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Running:     d.running,
		DailyCount:  d.dailyCount,
		DailyMax:    d.cfg.Daemon.MaxProposalsPerDay,
		Cycles:      d.cycleCount,
		LastCycleAt: d.lastCycleAt,
		Processed:   d.processed.Len(),
	}
}

func summarizeChecks(report ValidationReport) string {
	var failed []string
	for _, c := range report.Checks {
		if !c.Passed {
			failed = append(failed, c.Name)
		}
	}
	return "failed checks: " + strings.Join(failed, ", ")
}

func startOfToday() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func nextMidnight() time.Time {
	return startOfToday().Add(24 * time.Hour)
}
