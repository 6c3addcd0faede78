package forge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julesfleet/julesfleet/internal/common/logger"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("acme", "widgets", StaticToken("test-token"), logger.Default()).
		WithBaseURL(srv.URL)
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_ = json.NewEncoder(w).Encode(map[string]any{"number": 1})
	}))

	_, err := c.GetIssue(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", got.Get("Authorization"))
	assert.Equal(t, "application/vnd.github+json", got.Get("Accept"))
	assert.Equal(t, "2022-11-28", got.Get("X-GitHub-Api-Version"))
}

func TestListIssuesFiltersPullRequests(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/issues", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"number": 1, "title": "real issue"},
			{"number": 2, "title": "actually a PR", "pull_request": map[string]string{"html_url": "https://example.com/pr/2"}},
		})
	}))

	issues, err := c.ListIssues(context.Background(), IssueListOptions{State: "open"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, 1, issues[0].Number)
}

func TestAPIErrorCarriesStatus(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}))

	_, err := c.GetMilestone(context.Background(), 9)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.False(t, IsStatus(err, http.StatusUnprocessableEntity))

	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Message, "Not Found")
}

func TestMergePullUsesSquash(t *testing.T) {
	var payload map[string]string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/repos/acme/widgets/pulls/7/merge", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_ = json.NewEncoder(w).Encode(map[string]any{"merged": true, "sha": "abc"})
	}))

	result, err := c.MergePull(context.Background(), 7, "Custom title")
	require.NoError(t, err)
	assert.True(t, result.Merged)
	assert.Equal(t, "squash", payload["merge_method"])
	assert.Equal(t, "Custom title", payload["commit_title"])
}

func TestUpdatePullBranchConflict(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	err := c.UpdatePullBranch(context.Background(), 3)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnprocessableEntity))
}

func TestCreateOrUpdateFileEncodesContent(t *testing.T) {
	var payload map[string]string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusCreated)
	}))

	err := c.CreateOrUpdateFile(context.Background(), ".fleet/fleet.yml", FileWrite{
		Message: "Add config",
		Content: []byte("baseBranch: main\n"),
		Branch:  "fleet/init-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Add config", payload["message"])
	assert.Equal(t, "YmFzZUJyYW5jaDogbWFpbgo=", payload["content"])
	assert.Equal(t, "fleet/init-1", payload["branch"])
	assert.NotContains(t, payload, "sha")
}

func TestListCheckRunsUnwrapsEnvelope(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/commits/abc123/check-runs", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total_count": 1,
			"check_runs":  []map[string]any{{"id": 11, "name": "build", "status": "completed", "conclusion": "success"}},
		})
	}))

	runs, err := c.ListCheckRuns(context.Background(), "abc123")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "build", runs[0].Name)
	assert.True(t, runs[0].Completed())
	assert.True(t, runs[0].Passed())
}

func TestNewFromEnv(t *testing.T) {
	env := map[string]string{
		"GITHUB_REPOSITORY": "acme/widgets",
		"GITHUB_TOKEN":      "tok",
	}
	getenv := func(k string) string { return env[k] }

	c, err := NewFromEnv(getenv, logger.Default())
	require.NoError(t, err)
	assert.Equal(t, "acme", c.Owner())
	assert.Equal(t, "widgets", c.Repo())

	env["GITHUB_REPOSITORY"] = "not-a-slug"
	_, err = NewFromEnv(getenv, logger.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner/repo")
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, "docs/release%20notes.md", escapePath("docs/release notes.md"))
	assert.Equal(t, ".fleet/goals/example-goal.md", escapePath(".fleet/goals/example-goal.md"))
}

func TestStaticTokenEmpty(t *testing.T) {
	_, err := StaticToken("").Token(context.Background())
	require.Error(t, err)
}
