package jules

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julesfleet/julesfleet/internal/common/config"
	"github.com/julesfleet/julesfleet/internal/common/logger"
	"github.com/julesfleet/julesfleet/internal/storage"
	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		API: testAPIConfig(baseURL),
		Cache: config.CacheConfig{
			ForceMemory: true,
		},
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := Connect(Options{
		Config: testConfig(baseURL),
		Store:  storage.NewMemoryProvider(),
		Logger: logger.Default(),
	})
	require.NoError(t, err)
	return client
}

func TestCreateSessionBody(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write(sessionJSON("s123", v1.SessionStateQueued))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	session, err := client.CreateSession(context.Background(), SessionConfig{
		Prompt: "do the thing",
		Source: GitHubSource{Owner: "acme", Repo: "widgets", BaseBranch: "main"},
		Title:  "widget work",
	})
	require.NoError(t, err)
	assert.Equal(t, "s123", session.ID())

	assert.Equal(t, "do the thing", gotBody["prompt"])
	assert.Equal(t, "widget work", gotBody["title"])
	assert.Equal(t, "AUTOMATION_MODE_UNSPECIFIED", gotBody["automationMode"])
	assert.Equal(t, true, gotBody["requirePlanApproval"])

	sourceCtx := gotBody["sourceContext"].(map[string]any)
	assert.Equal(t, "sources/github/acme/widgets", sourceCtx["source"])
	repoCtx := sourceCtx["githubRepoContext"].(map[string]any)
	assert.Equal(t, "main", repoCtx["startingBranch"])
}

func TestRunDefaultsToAutomated(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write(sessionJSON("s9", v1.SessionStateQueued))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	session, err := client.Run(context.Background(), SessionConfig{
		Prompt: "automate",
		Source: GitHubSource{Owner: "acme", Repo: "widgets", BaseBranch: "main"},
	})
	require.NoError(t, err)
	assert.Equal(t, "s9", session.ID())
	assert.Equal(t, "AUTO_CREATE_PR", gotBody["automationMode"])
	assert.Equal(t, false, gotBody["requirePlanApproval"])
}

func TestCreateSessionPersistsResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(sessionJSON("s5", v1.SessionStateQueued))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.CreateSession(context.Background(), SessionConfig{
		Prompt: "p",
		Source: GitHubSource{Owner: "a", Repo: "b", BaseBranch: "main"},
	})
	require.NoError(t, err)

	envelope, ok, err := client.Store().Sessions().Get("s5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s5", envelope.Resource.ID)
}

func TestSourceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Source(context.Background(), "acme", "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceNotFound))
}

func TestSessionsCursorPagesAndPersists(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "p2" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"sessions": []map[string]any{{
					"name":       "sessions/s2",
					"state":      "completed",
					"createTime": now.Add(-2 * time.Hour).Format(time.RFC3339),
				}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessions": []map[string]any{{
				"name":       "sessions/s1",
				"state":      "inProgress",
				"createTime": now.Add(-time.Hour).Format(time.RFC3339),
			}},
			"nextPageToken": "p2",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	all, err := client.Sessions(SessionsOptions{}).Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "s1", all[0].ID) // name prefix stripped
	assert.Equal(t, "s2", all[1].ID)

	entries, err := client.Store().Sessions().ScanIndex()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSessionsCursorHonoursLimit(t *testing.T) {
	now := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessions": []map[string]any{
				{"name": "sessions/s1", "state": "completed", "createTime": now.Format(time.RFC3339)},
				{"name": "sessions/s2", "state": "completed", "createTime": now.Format(time.RFC3339)},
				{"name": "sessions/s3", "state": "completed", "createTime": now.Format(time.RFC3339)},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	all, err := client.Sessions(SessionsOptions{Limit: 2}).Drain(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAllPreservesInputOrder(t *testing.T) {
	var counter atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := counter.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = body
		w.Write(sessionJSON(time.Now().Format("150405.000")+"-"+string(rune('a'+id)), v1.SessionStateQueued))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	prompts := []string{"one", "two", "three"}
	sessions, err := All(context.Background(), client, prompts, func(p string) SessionConfig {
		return SessionConfig{Prompt: p, Source: GitHubSource{Owner: "a", Repo: "b", BaseBranch: "main"}}
	}, AllOptions{Concurrency: 3})
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	for _, s := range sessions {
		assert.NotEmpty(t, s.ID())
	}
}

func TestWithSharesStorage(t *testing.T) {
	client := newTestClient(t, "http://localhost:0")
	derived := client.With(Overrides{APIKey: "other-key"})
	assert.Same(t, client.Store(), derived.Store())
}

func TestSyncIncrementalStopsAtHighWaterMark(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessions": []map[string]any{
				{"name": "sessions/new1", "state": "completed", "createTime": now.Format(time.RFC3339)},
				{"name": "sessions/old1", "state": "completed", "createTime": now.Add(-2 * time.Hour).Format(time.RFC3339)},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	// Pre-seed the high-water mark between old1 and new1.
	require.NoError(t, client.Store().Sessions().Upsert(&v1.Session{
		ID:         "seed",
		Name:       "sessions/seed",
		State:      v1.SessionStateCompleted,
		CreateTime: now.Add(-time.Hour),
	}))

	var progress []SyncProgress
	result, err := client.Sync(context.Background(), SyncOptions{
		Incremental: true,
		OnProgress:  func(p SyncProgress) { progress = append(progress, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SessionsIngested)

	for i := 1; i < len(progress); i++ {
		if progress[i].Phase == progress[i-1].Phase {
			assert.GreaterOrEqual(t, progress[i].Current, progress[i-1].Current)
		}
	}
}
