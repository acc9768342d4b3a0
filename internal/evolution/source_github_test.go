package evolution

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evod/internal/config"
)

func TestGitHubSource_MapsIssuesToProposals(t *testing.T) {
	var gotAuth, gotLabels string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotLabels = r.URL.Query().Get("labels")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"number": 7, "title": "Add caching", "body": "cache things",
			 "html_url": "https://example.test/owner/repo/issues/7",
			 "created_at": "2026-08-01T10:00:00Z",
			 "user": {"login": "alice"},
			 "labels": [{"name": "evolution"}]},
			{"number": 8, "title": "A pull request", "body": "",
			 "created_at": "2026-08-02T10:00:00Z",
			 "user": {"login": "bob"},
			 "pull_request": {}}
		]`))
	}))
	defer server.Close()

	src := NewGitHubSource(config.GitHubSource{
		BaseURL: server.URL,
		Repo:    "owner/repo",
		Token:   "tok",
		Labels:  []string{"evolution"},
	})

	proposals, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "evolution", gotLabels)

	// The pull request entry is skipped.
	require.Len(t, proposals, 1)
	p := proposals[0]
	assert.Equal(t, "gh-issue-7", p.ID)
	assert.Equal(t, "alice", p.Author)
	assert.Equal(t, "Add caching", p.Title)
	assert.Equal(t, "github", p.Source)
	assert.Equal(t, "2026-08-01T10:00:00Z", p.CreatedAt.Format("2006-01-02T15:04:05Z"))
	assert.Equal(t, 7, p.Raw["number"])
	assert.Equal(t, "https://example.test/owner/repo/issues/7", p.Raw["url"])
}

func TestGitHubSource_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	src := NewGitHubSource(config.GitHubSource{BaseURL: server.URL, Repo: "owner/repo"})
	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestGitHubSource_DisabledWithoutRepo(t *testing.T) {
	assert.Nil(t, NewGitHubSource(config.GitHubSource{}))
}
