package evolution

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"evod/internal/config"
	"evod/internal/logging"
)

// =============================================================================
// INBOX COLLECTOR
// =============================================================================

// Source is anything that can produce proposals for the pipeline. A failing
// source degrades a cycle, it never aborts it.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Proposal, error)
}

// Collector gathers proposals from the local queue and all configured
// sources, drops everything already processed, and hands the daemon a
// bounded, newest-first batch.
type Collector struct {
	cfg       config.CollectorConfig
	queue     *LocalQueue
	processed *ProcessedStore
	sources   []Source
	audit     *logging.Trail
}

// NewCollector builds a collector. Nil sources are ignored.
func NewCollector(cfg config.CollectorConfig, queue *LocalQueue, processed *ProcessedStore, sources ...Source) *Collector {
	c := &Collector{
		cfg:       cfg,
		queue:     queue,
		processed: processed,
	}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// AttachAudit makes the collector record queue admissions in the audit
// trail. Without a trail, Submit still works; it just is not audited.
func (c *Collector) AttachAudit(trail *logging.Trail) {
	c.audit = trail
}

// Submit normalizes a manually submitted proposal and enqueues it.
// The generated id is unique across restarts.
func (c *Collector) Submit(title, body, author string) (Proposal, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Proposal{}, fmt.Errorf("proposal title is required")
	}
	if author == "" {
		author = "local"
	}

	p := Proposal{
		ID:        fmt.Sprintf("local-%d-%s", time.Now().Unix(), uuid.NewString()[:8]),
		Source:    "local",
		Author:    author,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.queue.Add(p); err != nil {
		return Proposal{}, fmt.Errorf("failed to enqueue proposal: %w", err)
	}
	if c.audit != nil {
		c.audit.Event(logging.EventProposalQueued, p.ID, map[string]interface{}{
			"author": p.Author,
			"title":  truncateString(p.Title, 200),
		})
	}
	logging.Collector("[Collector] Queued local proposal %s: %s", p.ID, truncateString(p.Title, 80))
	return p, nil
}

// Collect returns the batch of unprocessed proposals for this cycle:
// local queue first, then remote sources fetched concurrently, deduplicated
// by id, filtered by age, sorted newest first and capped at max_per_cycle.
//
// Queue entries are not consumed here; they leave the queue only when
// MarkProcessed records their terminal outcome.
func (c *Collector) Collect(ctx context.Context) ([]Proposal, error) {
	var all []Proposal

	queued, err := c.queue.Peek()
	if err != nil {
		logging.CollectorWarn("[Collector] Local queue unreadable: %v", err)
	} else {
		all = append(all, queued...)
	}

	if len(c.sources) > 0 {
		results := make([][]Proposal, len(c.sources))
		g, gctx := errgroup.WithContext(ctx)
		for i, src := range c.sources {
			g.Go(func() error {
				proposals, err := src.Fetch(gctx)
				if err != nil {
					// Degraded, not fatal: other sources still count.
					logging.CollectorWarn("[Collector] Source %s failed: %v", src.Name(), err)
					return nil
				}
				results[i] = proposals
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, proposals := range results {
			all = append(all, proposals...)
		}
	}

	batch := c.filter(all)
	logging.Collector("[Collector] Collected %d proposals (%d candidates)", len(batch), len(all))
	return batch, nil
}

func (c *Collector) filter(all []Proposal) []Proposal {
	var cutoff time.Time
	if c.cfg.MaxAgeHours > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(c.cfg.MaxAgeHours) * time.Hour)
	}

	seen := make(map[string]bool, len(all))
	batch := make([]Proposal, 0, len(all))
	for _, p := range all {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		if c.processed.Seen(p.ID) {
			continue
		}
		if !cutoff.IsZero() && p.CreatedAt.Before(cutoff) {
			logging.CollectorDebug("[Collector] Skipping stale proposal %s (created %s)", p.ID, p.CreatedAt.Format(time.RFC3339))
			continue
		}
		batch = append(batch, p)
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].CreatedAt.After(batch[j].CreatedAt)
	})

	if c.cfg.MaxPerCycle > 0 && len(batch) > c.cfg.MaxPerCycle {
		batch = batch[:c.cfg.MaxPerCycle]
	}
	return batch
}

// MarkProcessed records the terminal outcome for a proposal and, for local
// submissions, removes it from the queue. The store write is durable before
// this returns.
func (c *Collector) MarkProcessed(p Proposal, outcome string) error {
	if err := c.processed.Mark(p.ID, outcome); err != nil {
		return err
	}
	if p.Source == "local" {
		if err := c.queue.Remove(p.ID); err != nil {
			logging.CollectorWarn("[Collector] Could not dequeue %s: %v", p.ID, err)
		}
	}
	return nil
}
