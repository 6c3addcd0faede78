package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julesfleet/julesfleet/internal/forge"
)

func TestDispatchSkipsMarkedIssues(t *testing.T) {
	var postedComments []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == repoRoot+"/milestones/3":
			writeJSON(w, map[string]any{"number": 3, "title": "Sprint 12", "state": "open"})
		case r.Method == http.MethodGet && r.URL.Path == repoRoot+"/issues":
			assert.Equal(t, "3", r.URL.Query().Get("milestone"))
			assert.Equal(t, LabelFleet, r.URL.Query().Get("labels"))
			writeJSON(w, []map[string]any{
				{"number": 1, "title": "Add retry logic", "body": "details", "state": "open"},
				{"number": 2, "title": "Already running", "body": "details", "state": "open"},
			})
		case r.Method == http.MethodGet && r.URL.Path == repoRoot+"/issues/1/comments":
			writeJSON(w, []any{})
		case r.Method == http.MethodGet && r.URL.Path == repoRoot+"/issues/2/comments":
			writeJSON(w, []map[string]any{
				{"id": 9, "body": dispatchEventComment("sess-old", time.Now())},
			})
		case r.Method == http.MethodPost && r.URL.Path == repoRoot+"/issues/1/comments":
			var payload map[string]string
			_ = json.NewDecoder(r.Body).Decode(&payload)
			postedComments = append(postedComments, payload["body"])
			writeJSON(w, map[string]any{"id": 100, "body": payload["body"]})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	dispatcher := &fakeDispatcher{}
	o := testOrchestrator(t, handler, dispatcher)
	result := o.Dispatch(context.Background(), DispatchInput{Milestone: 3})
	require.True(t, result.IsOK(), "dispatch failed: %v", result.Err())

	report := result.Data()
	require.Len(t, report.Dispatched, 1)
	assert.Equal(t, 1, report.Dispatched[0].Issue)
	assert.Equal(t, "sess-1", report.Dispatched[0].SessionID)
	assert.Equal(t, []int{2}, report.Skipped)
	assert.Empty(t, report.Failures)

	// The marker comment carries the literal marker and the session id line.
	require.Len(t, postedComments, 1)
	assert.Contains(t, postedComments[0], DispatchMarker)
	assert.Contains(t, postedComments[0], "Session: sess-1")

	// Only the unmarked issue reached the dispatcher.
	require.Len(t, dispatcher.requests, 1)
	assert.Contains(t, dispatcher.requests[0].Prompt, "Add retry logic")
	assert.Equal(t, "acme", dispatcher.requests[0].Owner)
	assert.Equal(t, "widgets", dispatcher.requests[0].Repo)
}

func TestDispatchMilestoneNotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	o := testOrchestrator(t, handler, &fakeDispatcher{})
	result := o.Dispatch(context.Background(), DispatchInput{Milestone: 99})
	require.False(t, result.IsOK())
	assert.Equal(t, CodeMilestoneNotFound, result.Err().Code)
	assert.False(t, result.Err().Recoverable)
}

func TestDispatchRecordsPerIssueFailures(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, repoRoot+"/milestones/"):
			writeJSON(w, map[string]any{"number": 3, "title": "Sprint", "state": "open"})
		case r.URL.Path == repoRoot+"/issues":
			writeJSON(w, []map[string]any{
				{"number": 5, "title": "Broken dispatch", "state": "open"},
			})
		case r.URL.Path == repoRoot+"/issues/5/comments":
			writeJSON(w, []any{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	dispatcher := &fakeDispatcher{err: assert.AnError}
	o := testOrchestrator(t, handler, dispatcher)
	result := o.Dispatch(context.Background(), DispatchInput{Milestone: 3})
	require.True(t, result.IsOK())

	report := result.Data()
	assert.Empty(t, report.Dispatched)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 5, report.Failures[0].Issue)
}

func TestFindDispatchMarker(t *testing.T) {
	withSession := &forge.Comment{Body: dispatchEventComment("sess-42", time.Now())}
	bareMarker := &forge.Comment{Body: "**" + DispatchMarker + "** without a session line"}
	unrelated := &forge.Comment{Body: "just a comment"}

	id, found := findDispatchMarker([]*forge.Comment{unrelated, withSession})
	assert.True(t, found)
	assert.Equal(t, "sess-42", id)

	id, found = findDispatchMarker([]*forge.Comment{bareMarker})
	assert.True(t, found)
	assert.Empty(t, id)

	_, found = findDispatchMarker([]*forge.Comment{unrelated})
	assert.False(t, found)

	_, found = findDispatchMarker(nil)
	assert.False(t, found)
}
