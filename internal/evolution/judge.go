package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"evod/internal/config"
	"evod/internal/logging"
	"evod/internal/oracle"
)

// =============================================================================
// PROPOSAL JUDGE
// =============================================================================

// Judge scores proposals with the oracle and applies the hard policy the
// oracle cannot override: a safety floor and an approval threshold.
//
// Evaluate never returns an error. Any failure - oracle down, garbage
// response, missing fields - fails closed into a REJECTED or NEEDS_REVIEW
// verdict so a broken oracle can never approve anything.
type Judge struct {
	client oracle.Client
	cfg    config.JudgeConfig
}

// NewJudge builds a judge over the given oracle.
func NewJudge(client oracle.Client, cfg config.JudgeConfig) *Judge {
	return &Judge{client: client, cfg: cfg}
}

const judgeSystemPrompt = `You are the review gate of an autonomous code-evolution pipeline.
You evaluate change proposals for a Go codebase. You are conservative:
when in doubt, score low. You respond with JSON only, no prose.`

// judgeResponse is what we expect the oracle to produce.
type judgeResponse struct {
	Verdict string   `json:"verdict"`
	Scores  Scores   `json:"scores"`
	Reasons []string `json:"reasons"`
	Summary string   `json:"summary"`
}

// Evaluate scores one proposal. The returned evaluation always has a
// definite verdict.
func (j *Judge) Evaluate(ctx context.Context, p Proposal) Evaluation {
	prompt := j.buildPrompt(p)

	raw, err := j.client.CompleteWithSystem(ctx, judgeSystemPrompt, prompt)
	if err == nil && logging.IsDebugMode() {
		// Full responses are large; only render them when debug logging is on.
		logging.JudgeDebug("[Judge] Raw oracle response for %s:\n%s", p.ID, raw)
	}
	if err != nil {
		logging.JudgeError("[Judge] Oracle failed for %s: %v", p.ID, err)
		return Evaluation{
			Verdict: VerdictRejected,
			Summary: "oracle unavailable, rejecting by default",
			Reasons: []string{fmt.Sprintf("oracle error: %v", err)},
		}
	}

	// A response with no extractable JSON fails closed just like an oracle
	// error. Only an unknown verdict inside an otherwise-parseable response
	// defers to human review (see parse).
	eval, ok := j.parse(raw)
	if !ok {
		logging.JudgeError("[Judge] Unparseable oracle response for %s: %s", p.ID, truncateString(raw, 200))
		return Evaluation{
			Verdict: VerdictRejected,
			Summary: "oracle response unparseable, rejecting by default",
			Reasons: []string{"no well-formed evaluation in oracle response"},
		}
	}

	eval = j.applyPolicy(eval)
	logging.Judge("[Judge] %s -> %s (avg=%.1f safety=%.1f): %s",
		p.ID, eval.Verdict, eval.AvgScore, eval.Scores.Safety, truncateString(eval.Summary, 120))
	return eval
}

func (j *Judge) buildPrompt(p Proposal) string {
	var b strings.Builder
	b.WriteString("Evaluate this change proposal.\n\n")
	fmt.Fprintf(&b, "Source: %s\nAuthor: %s\nTitle: %s\n\nBody:\n%s\n\n",
		p.Source, p.Author, p.Title, truncateString(p.Body, 8000))
	b.WriteString(`Score each axis from 0 to 10:
- relevance: does this belong in this codebase?
- value: how much does it improve the codebase?
- safety: could implementing it cause harm (data loss, security, abuse)?
- feasibility: can it be implemented as a small, self-contained change?

Respond with exactly this JSON shape:
{
  "verdict": "APPROVED" | "REJECTED" | "NEEDS_REVIEW",
  "scores": {"relevance": 0, "value": 0, "safety": 0, "feasibility": 0},
  "reasons": ["..."],
  "summary": "one sentence"
}`)
	return b.String()
}

// parse digs the evaluation out of the raw oracle text.
func (j *Judge) parse(raw string) (Evaluation, bool) {
	block := extractJSONBlock(raw)
	if block == "" {
		return Evaluation{}, false
	}

	var resp judgeResponse
	if err := json.Unmarshal([]byte(block), &resp); err != nil {
		return Evaluation{}, false
	}

	var verdict Verdict
	switch strings.ToUpper(strings.TrimSpace(resp.Verdict)) {
	case string(VerdictApproved):
		verdict = VerdictApproved
	case string(VerdictRejected):
		verdict = VerdictRejected
	case string(VerdictNeedsReview):
		verdict = VerdictNeedsReview
	default:
		// Unknown verdicts defer to a human, never to approval.
		verdict = VerdictNeedsReview
	}

	scores := Scores{
		Relevance:   clampScore(resp.Scores.Relevance),
		Value:       clampScore(resp.Scores.Value),
		Safety:      clampScore(resp.Scores.Safety),
		Feasibility: clampScore(resp.Scores.Feasibility),
	}

	return Evaluation{
		Verdict:  verdict,
		Scores:   scores,
		Reasons:  resp.Reasons,
		Summary:  strings.TrimSpace(resp.Summary),
		AvgScore: (scores.Relevance + scores.Value + scores.Safety + scores.Feasibility) / 4,
	}, true
}

// applyPolicy enforces the overrides the oracle cannot talk its way past.
func (j *Judge) applyPolicy(eval Evaluation) Evaluation {
	if eval.Scores.Safety < j.cfg.SafetyMinimum {
		eval.Verdict = VerdictRejected
		eval.Summary = "[SAFETY BLOCK] " + eval.Summary
		return eval
	}
	if eval.Verdict == VerdictApproved && eval.AvgScore < j.cfg.ApprovalThreshold {
		eval.Verdict = VerdictNeedsReview
		eval.Reasons = append(eval.Reasons,
			fmt.Sprintf("average score %.1f below approval threshold %.1f", eval.AvgScore, j.cfg.ApprovalThreshold))
	}
	return eval
}
