package fleet

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeOverlapClean(t *testing.T) {
	report := AnalyzeOverlap([]IssueFiles{
		{Issue: 1, TargetFiles: []string{"a.go"}},
		{Issue: 2, TargetFiles: []string{"b.go"}},
	})
	assert.True(t, report.Clean)
	assert.Empty(t, report.Overlaps)
	assert.Empty(t, report.Clusters)
}

func TestAnalyzeOverlapTransitiveClustering(t *testing.T) {
	// 1 and 2 share b.go, 2 and 3 share c.go: one cluster through the chain.
	// 4 touches nothing shared and stays out of the report.
	report := AnalyzeOverlap([]IssueFiles{
		{Issue: 1, TargetFiles: []string{"a.go", "b.go"}},
		{Issue: 2, TargetFiles: []string{"b.go", "c.go"}},
		{Issue: 3, TargetFiles: []string{"c.go", "d.go"}},
		{Issue: 4, TargetFiles: []string{"e.go"}},
	})
	assert.False(t, report.Clean)

	require.Len(t, report.Overlaps, 2)
	assert.Equal(t, Overlap{File: "b.go", Issues: []int{1, 2}}, report.Overlaps[0])
	assert.Equal(t, Overlap{File: "c.go", Issues: []int{2, 3}}, report.Overlaps[1])

	require.Len(t, report.Clusters, 1)
	assert.Equal(t, []int{1, 2, 3}, report.Clusters[0].Issues)
	assert.Equal(t, []string{"b.go", "c.go"}, report.Clusters[0].SharedFiles)
}

func TestAnalyzeOverlapDisjointClusters(t *testing.T) {
	report := AnalyzeOverlap([]IssueFiles{
		{Issue: 10, TargetFiles: []string{"x.go"}},
		{Issue: 11, TargetFiles: []string{"x.go"}},
		{Issue: 20, TargetFiles: []string{"y.go"}},
		{Issue: 21, TargetFiles: []string{"y.go"}},
	})
	require.Len(t, report.Clusters, 2)
	assert.Equal(t, []int{10, 11}, report.Clusters[0].Issues)
	assert.Equal(t, []int{20, 21}, report.Clusters[1].Issues)
}

func TestAnalyzeOverlapDeduplicatesWithinIssue(t *testing.T) {
	// Listing the same file twice in one issue must not fabricate an overlap.
	report := AnalyzeOverlap([]IssueFiles{
		{Issue: 1, TargetFiles: []string{"a.go", "a.go"}},
	})
	assert.True(t, report.Clean)
}

func TestOverlapResolvesFilesFromPullRequests(t *testing.T) {
	dispatchedAt := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == repoRoot+"/issues":
			assert.Equal(t, "3", r.URL.Query().Get("milestone"))
			writeJSON(w, []map[string]any{
				{"number": 1, "title": "Cache layer", "state": "open", "labels": []map[string]string{{"name": LabelFleet}}},
				{"number": 2, "title": "Cache metrics", "state": "open", "labels": []map[string]string{{"name": LabelFleet}}},
			})
		case r.Method == http.MethodGet && r.URL.Path == repoRoot+"/issues/1/comments":
			writeJSON(w, []map[string]any{{"id": 1, "body": dispatchEventComment("sess-1", dispatchedAt), "created_at": dispatchedAt}})
		case r.Method == http.MethodGet && r.URL.Path == repoRoot+"/issues/2/comments":
			writeJSON(w, []map[string]any{{"id": 2, "body": dispatchEventComment("sess-2", dispatchedAt), "created_at": dispatchedAt}})
		case r.Method == http.MethodGet && r.URL.Path == repoRoot+"/pulls":
			writeJSON(w, []map[string]any{
				{"number": 21, "title": "Cache layer", "state": "open", "head": map[string]string{"ref": "jules/sess-1"}, "base": map[string]string{"ref": "main"}, "created_at": dispatchedAt},
				{"number": 22, "title": "Cache metrics", "state": "open", "head": map[string]string{"ref": "jules/sess-2"}, "base": map[string]string{"ref": "main"}, "created_at": dispatchedAt},
			})
		case r.Method == http.MethodGet && r.URL.Path == repoRoot+"/pulls/21/files":
			writeJSON(w, []map[string]any{{"filename": "a.go"}, {"filename": "b.go"}})
		case r.Method == http.MethodGet && r.URL.Path == repoRoot+"/pulls/22/files":
			writeJSON(w, []map[string]any{{"filename": "b.go"}, {"filename": "c.go"}})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	o := testOrchestrator(t, handler, &fakeDispatcher{})

	result := o.Overlap(context.Background(), OverlapInput{Milestone: 3})
	require.True(t, result.IsOK(), "overlap failed: %v", result.Err())

	report := result.Data()
	assert.False(t, report.Clean)
	require.Len(t, report.Overlaps, 1)
	assert.Equal(t, Overlap{File: "b.go", Issues: []int{1, 2}}, report.Overlaps[0])
	require.Len(t, report.Clusters, 1)
	assert.Equal(t, []int{1, 2}, report.Clusters[0].Issues)
}

func TestOverlapRequiresMilestone(t *testing.T) {
	o := testOrchestrator(t, http.NotFoundHandler(), &fakeDispatcher{})
	result := o.Overlap(context.Background(), OverlapInput{})
	require.False(t, result.IsOK())
	assert.Equal(t, CodeUnknown, result.Err().Code)
}

func TestUnionFind(t *testing.T) {
	uf := newUnionFind()
	uf.union(1, 2)
	uf.union(3, 4)
	assert.Equal(t, uf.find(1), uf.find(2))
	assert.NotEqual(t, uf.find(1), uf.find(3))

	uf.union(2, 3)
	assert.Equal(t, uf.find(1), uf.find(4))
}
