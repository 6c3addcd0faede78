package v1

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeState(t *testing.T) {
	tests := []struct {
		raw  string
		want SessionState
	}{
		{"IN_PROGRESS", SessionStateInProgress},
		{"AWAITING_PLAN_APPROVAL", SessionStateAwaitingPlanApproval},
		{"COMPLETED", SessionStateCompleted},
		{"STATE_UNSPECIFIED", SessionStateUnspecified},
		{"inProgress", SessionStateInProgress}, // already normalised
		{"SOMETHING_NEW", SessionState("something_new")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeState(tt.raw), tt.raw)
	}
}

func TestSessionUnmarshalNormalisesState(t *testing.T) {
	var s Session
	require.NoError(t, json.Unmarshal([]byte(`{"id":"s1","state":"IN_PROGRESS"}`), &s))
	assert.Equal(t, SessionStateInProgress, s.State)
}

func TestSessionStateIsTerminal(t *testing.T) {
	assert.True(t, SessionStateCompleted.IsTerminal())
	assert.True(t, SessionStateFailed.IsTerminal())
	assert.False(t, SessionStateInProgress.IsTerminal())
	assert.False(t, SessionStateQueued.IsTerminal())
}

func TestSourceContextLabel(t *testing.T) {
	github := &SourceContext{Source: "sources/github/acme/widgets"}
	assert.Equal(t, "acme/widgets", github.Label())

	other := &SourceContext{Source: "sources/custom/thing"}
	assert.Equal(t, "sources/custom/thing", other.Label())

	var nilCtx *SourceContext
	assert.Empty(t, nilCtx.Label())
}

func TestSessionPullRequestOutput(t *testing.T) {
	s := &Session{Outputs: []SessionOutput{
		{Type: "other"},
		{Type: OutputPullRequest, PullRequest: &PullRequestOutput{URL: "https://example.com/pr/1"}},
	}}
	pr := s.PullRequest()
	require.NotNil(t, pr)
	assert.Equal(t, "https://example.com/pr/1", pr.URL)

	assert.Nil(t, (&Session{}).PullRequest())
}

func TestArtifactUnmarshalNestedShape(t *testing.T) {
	raw := `{"type":"bashOutput","bashOutput":{"command":"go test ./...","stdout":"ok","exitCode":0}}`
	var a Artifact
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	assert.Equal(t, ArtifactBashOutput, a.Type)
	require.NotNil(t, a.BashOutput)
	assert.Equal(t, "go test ./...", a.BashOutput.Command)
}

func TestArtifactUnmarshalFlatLegacyShape(t *testing.T) {
	raw := `{"type":"bashOutput","command":"make build","stderr":"warning","exitCode":2}`
	var a Artifact
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	require.NotNil(t, a.BashOutput)
	assert.Equal(t, "make build", a.BashOutput.Command)
	assert.Equal(t, 2, a.BashOutput.ExitCode)
}

func TestArtifactUnknownTypeRoundTrips(t *testing.T) {
	raw := `{"type":"holographic","payload":{"x":1}}`
	var a Artifact
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	assert.Equal(t, ArtifactType("holographic"), a.Type)
	require.NotNil(t, a.Raw)

	out, err := json.Marshal(&a)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestArtifactMarshalCanonicalShape(t *testing.T) {
	a := &Artifact{Type: ArtifactChangeSet, ChangeSet: &ChangeSetArtifact{Patch: "diff"}}
	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"changeSet","changeSet":{"patch":"diff"}}`, string(out))
}

const samplePatch = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
 package main
+import "fmt"
-func old() {}
diff --git a/added.go b/added.go
new file mode 100644
--- /dev/null
+++ b/added.go
@@ -0,0 +1,2 @@
+package main
+func added() {}
diff --git a/gone.go b/gone.go
deleted file mode 100644
--- a/gone.go
+++ /dev/null
@@ -1,1 +0,0 @@
-package main
`

func TestChangeSetFiles(t *testing.T) {
	cs := &ChangeSetArtifact{Patch: samplePatch}
	files := cs.Files()
	require.Len(t, files, 3)

	assert.Equal(t, FileDiff{Path: "main.go", ChangeType: ChangeModified, Additions: 1, Deletions: 1}, files[0])
	assert.Equal(t, FileDiff{Path: "added.go", ChangeType: ChangeCreated, Additions: 2, Deletions: 0}, files[1])
	assert.Equal(t, FileDiff{Path: "gone.go", ChangeType: ChangeDeleted, Additions: 0, Deletions: 1}, files[2])

	// The parse is cached; a second call returns the same slice.
	assert.Same(t, &files[0], &cs.Files()[0])
}

func TestChangeSetFilesEmptyPatch(t *testing.T) {
	cs := &ChangeSetArtifact{}
	assert.Empty(t, cs.Files())
}

func TestActivitySummary(t *testing.T) {
	plan := &Activity{Type: ActivityPlanGenerated, Plan: &Plan{Steps: []PlanStep{{Title: "a"}, {Title: "b"}}}}
	assert.Equal(t, "Plan generated with 2 steps", plan.Summary(0))

	message := &Activity{Type: ActivityAgentMessaged, Message: "  hello there  "}
	assert.Equal(t, "hello there", message.Summary(0))

	progress := &Activity{Type: ActivityProgressUpdated, Progress: &Progress{Title: "Tests", Description: "running suite"}}
	assert.Equal(t, "Tests: running suite", progress.Summary(0))

	failed := &Activity{Type: ActivitySessionFailed, Outcome: &Outcome{Reason: "quota exceeded"}}
	assert.Equal(t, "Session failed: quota exceeded", failed.Summary(0))

	unknown := &Activity{Type: "mystery"}
	assert.Equal(t, "mystery", unknown.Summary(0))
}

func TestActivitySummaryTruncation(t *testing.T) {
	long := &Activity{Type: ActivityAgentMessaged, Message: strings.Repeat("x", 500)}
	got := long.Summary(DefaultSummaryLength)
	runes := []rune(got)
	assert.Len(t, runes, DefaultSummaryLength)
	assert.Equal(t, '…', runes[len(runes)-1])
}

func TestActivityIsTerminal(t *testing.T) {
	assert.True(t, (&Activity{Type: ActivitySessionCompleted}).IsTerminal())
	assert.True(t, (&Activity{Type: ActivitySessionFailed}).IsTerminal())
	assert.False(t, (&Activity{Type: ActivityAgentMessaged}).IsTerminal())
}
