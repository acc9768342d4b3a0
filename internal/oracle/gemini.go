package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"evod/internal/logging"
)

// =============================================================================
// GOOGLE GENAI ORACLE
// =============================================================================

// GeminiClient implements Client using Google's Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient creates a Gemini-backed oracle client.
func NewGeminiClient(apiKey, model string, timeout time.Duration) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		model:   model,
		timeout: timeout,
	}, nil
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message. Judging must be
// reproducible, so the temperature is pinned low.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	// Centralized timeout handling: apply ours only if the caller did not.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	logging.OracleDebug("[Gemini] CompleteWithSystem: model=%s system_len=%d user_len=%d",
		c.model, len(systemPrompt), len(userPrompt))

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.2),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}

	// Retry loop for rate limits
	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("GenAI completion failed: %w", lastErr)
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			}
		}

		result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
		if err != nil {
			lastErr = err
			if isTransient(err) {
				logging.OracleDebug("[Gemini] Transient error (attempt %d): %v", i+1, err)
				continue
			}
			logging.Get(logging.CategoryOracle).Error("[Gemini] GenerateContent failed after %v: %v", time.Since(start), err)
			return "", fmt.Errorf("GenAI completion failed: %w", err)
		}

		text := result.Text()
		if text == "" {
			return "", fmt.Errorf("no completion returned")
		}

		logging.Oracle("[Gemini] CompleteWithSystem: completed in %v response_len=%d", time.Since(start), len(text))
		return text, nil
	}

	logging.Get(logging.CategoryOracle).Error("[Gemini] GenerateContent exhausted retries after %v: %v", time.Since(start), lastErr)
	return "", fmt.Errorf("GenAI completion failed: %w", lastErr)
}

// isTransient reports whether the error is worth retrying (rate limits,
// temporary unavailability).
func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "UNAVAILABLE")
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}
