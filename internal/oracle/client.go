// Package oracle abstracts the external LLM capability the pipeline consults
// for judging and planning. Oracle output is structured but untrusted text:
// callers must parse and validate it, never execute or trust it blindly.
package oracle

import "context"

// Client is the minimal interface the pipeline uses to call the oracle.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
