package fleet

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julesfleet/julesfleet/internal/forge"
)

func TestCreateSignalResolvesScopeCaseInsensitively(t *testing.T) {
	var created forge.NewIssue
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == repoRoot+"/milestones":
			writeJSON(w, []map[string]any{
				{"number": 2, "title": "Backlog", "state": "open"},
				{"number": 4, "title": "Sprint 12", "state": "open"},
			})
		case r.Method == http.MethodPost && r.URL.Path == repoRoot+"/issues":
			decodeJSONBody(t, r, &created)
			writeJSON(w, map[string]any{"number": 77, "title": created.Title, "state": "open"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	o := testOrchestrator(t, handler, &fakeDispatcher{})
	result := o.CreateSignal(context.Background(), SignalInput{
		Kind:  SignalInsight,
		Title: "Flaky integration suite",
		Body:  "Seen in three sessions",
		Tags:  []string{"ci"},
		Scope: "sprint 12",
	})
	require.True(t, result.IsOK(), "signal failed: %v", result.Err())
	assert.Equal(t, 77, result.Data().Issue.Number)

	assert.Equal(t, "Flaky integration suite", created.Title)
	assert.Equal(t, 4, created.Milestone)
	assert.Equal(t, []string{LabelInsight, "ci"}, created.Labels)
}

func TestCreateSignalAssessmentLabel(t *testing.T) {
	var created forge.NewIssue
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decodeJSONBody(t, r, &created)
		writeJSON(w, map[string]any{"number": 1})
	})
	o := testOrchestrator(t, handler, &fakeDispatcher{})
	result := o.CreateSignal(context.Background(), SignalInput{
		Kind:  SignalAssessment,
		Title: "Milestone at risk",
	})
	require.True(t, result.IsOK())
	assert.Equal(t, []string{LabelAssessment}, created.Labels)
	assert.Equal(t, 0, created.Milestone)
}

func TestCreateSignalScopeNotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"number": 2, "title": "Backlog", "state": "open"}})
	})
	o := testOrchestrator(t, handler, &fakeDispatcher{})
	result := o.CreateSignal(context.Background(), SignalInput{
		Kind:  SignalInsight,
		Title: "orphan",
		Scope: "Sprint 99",
	})
	require.False(t, result.IsOK())
	assert.Equal(t, CodeScopeNotFound, result.Err().Code)
}

func TestCreateSignalValidation(t *testing.T) {
	o := testOrchestrator(t, http.NotFoundHandler(), &fakeDispatcher{})

	badKind := o.CreateSignal(context.Background(), SignalInput{Kind: "rumor", Title: "x"})
	require.False(t, badKind.IsOK())
	assert.Equal(t, CodeUnknown, badKind.Err().Code)

	noTitle := o.CreateSignal(context.Background(), SignalInput{Kind: SignalInsight})
	require.False(t, noTitle.IsOK())
	assert.Equal(t, CodeUnknown, noTitle.Err().Code)
}
