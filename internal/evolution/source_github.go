package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"evod/internal/config"
	"evod/internal/logging"
)

// =============================================================================
// GITHUB ISSUE SOURCE
// =============================================================================

// githubSource pulls open, labeled issues from a GitHub repository and
// normalizes them into proposals. Pull requests share the issues endpoint
// and are skipped.
type githubSource struct {
	cfg    config.GitHubSource
	client *http.Client
}

// NewGitHubSource builds the issue-tracker source. Returns nil when no
// repository is configured.
func NewGitHubSource(cfg config.GitHubSource) Source {
	if cfg.Repo == "" {
		return nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	return &githubSource{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *githubSource) Name() string { return "github" }

// githubIssue is the subset of the issues API response we consume.
type githubIssue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	HTMLURL   string     `json:"html_url"`
	CreatedAt time.Time  `json:"created_at"`
	User      githubUser `json:"user"`
	// Non-nil when the "issue" is actually a pull request.
	PullRequest *struct{} `json:"pull_request,omitempty"`
	Labels      []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

type githubUser struct {
	Login string `json:"login"`
}

// Fetch lists open labeled issues and maps them to proposals.
func (g *githubSource) Fetch(ctx context.Context) ([]Proposal, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/issues", strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.Repo)

	params := url.Values{}
	params.Set("state", "open")
	params.Set("sort", "created")
	params.Set("direction", "desc")
	params.Set("per_page", "50")
	if len(g.cfg.Labels) > 0 {
		params.Set("labels", strings.Join(g.cfg.Labels, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build issues request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issues from %s: %w", g.cfg.Repo, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read issues response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("issues request returned %d: %s", resp.StatusCode, truncateString(string(body), 200))
	}

	var issues []githubIssue
	if err := json.Unmarshal(body, &issues); err != nil {
		return nil, fmt.Errorf("failed to parse issues response: %w", err)
	}

	proposals := make([]Proposal, 0, len(issues))
	for _, issue := range issues {
		if issue.PullRequest != nil {
			continue
		}
		labels := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			labels = append(labels, l.Name)
		}
		proposals = append(proposals, Proposal{
			ID:        fmt.Sprintf("gh-issue-%d", issue.Number),
			Source:    g.Name(),
			Author:    issue.User.Login,
			Title:     issue.Title,
			Body:      issue.Body,
			CreatedAt: issue.CreatedAt.UTC(),
			Raw: map[string]interface{}{
				"number": issue.Number,
				"url":    issue.HTMLURL,
				"labels": labels,
			},
		})
	}

	logging.CollectorDebug("[GitHub] Fetched %d issues (%d usable) from %s", len(issues), len(proposals), g.cfg.Repo)
	return proposals, nil
}
