package v1

import (
	"encoding/json"
	"strings"
	"time"
)

// SessionState is the lifecycle state of a remote session, normalised to
// camelCase on ingress.
type SessionState string

const (
	SessionStateUnspecified          SessionState = "unspecified"
	SessionStateQueued               SessionState = "queued"
	SessionStatePlanning             SessionState = "planning"
	SessionStateInProgress           SessionState = "inProgress"
	SessionStateAwaitingPlanApproval SessionState = "awaitingPlanApproval"
	SessionStateAwaitingUserFeedback SessionState = "awaitingUserFeedback"
	SessionStatePaused               SessionState = "paused"
	SessionStateCompleted            SessionState = "completed"
	SessionStateFailed               SessionState = "failed"
)

// screamingStates maps the wire SCREAMING_SNAKE_CASE values to camelCase.
var screamingStates = map[string]SessionState{
	"STATE_UNSPECIFIED":         SessionStateUnspecified,
	"SESSION_STATE_UNSPECIFIED": SessionStateUnspecified,
	"QUEUED":                    SessionStateQueued,
	"PLANNING":                  SessionStatePlanning,
	"IN_PROGRESS":               SessionStateInProgress,
	"AWAITING_PLAN_APPROVAL":    SessionStateAwaitingPlanApproval,
	"AWAITING_USER_FEEDBACK":    SessionStateAwaitingUserFeedback,
	"PAUSED":                    SessionStatePaused,
	"COMPLETED":                 SessionStateCompleted,
	"FAILED":                    SessionStateFailed,
}

var camelStates = map[SessionState]bool{
	SessionStateUnspecified:          true,
	SessionStateQueued:               true,
	SessionStatePlanning:             true,
	SessionStateInProgress:           true,
	SessionStateAwaitingPlanApproval: true,
	SessionStateAwaitingUserFeedback: true,
	SessionStatePaused:               true,
	SessionStateCompleted:            true,
	SessionStateFailed:               true,
}

// NormalizeState converts a wire state to its camelCase form. Already
// normalised values pass through; unrecognised values fall back to lowercase.
func NormalizeState(raw string) SessionState {
	if s, ok := screamingStates[raw]; ok {
		return s
	}
	if camelStates[SessionState(raw)] {
		return SessionState(raw)
	}
	return SessionState(strings.ToLower(raw))
}

// IsTerminal reports whether the state ends the session lifecycle.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateCompleted || s == SessionStateFailed
}

// SourceContext identifies the repository a session works against.
type SourceContext struct {
	// Source is a resource name, e.g. sources/github/{owner}/{repo}.
	Source            string             `json:"source"`
	GithubRepoContext *GithubRepoContext `json:"githubRepoContext,omitempty"`
}

// GithubRepoContext carries the base branch for a GitHub-backed source.
type GithubRepoContext struct {
	StartingBranch string `json:"startingBranch,omitempty"`
}

// Label returns a short owner/repo label for the source, or the raw resource
// name if it does not follow the sources/github/{owner}/{repo} shape.
func (sc *SourceContext) Label() string {
	if sc == nil {
		return ""
	}
	const prefix = "sources/github/"
	if strings.HasPrefix(sc.Source, prefix) {
		return strings.TrimPrefix(sc.Source, prefix)
	}
	return sc.Source
}

// SessionOutputType discriminates session outputs.
type SessionOutputType string

const OutputPullRequest SessionOutputType = "pullRequest"

// SessionOutput is a typed output variant attached to a session.
type SessionOutput struct {
	Type        SessionOutputType  `json:"type"`
	PullRequest *PullRequestOutput `json:"pullRequest,omitempty"`
}

// PullRequestOutput describes a PR produced by an automated session.
type PullRequestOutput struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	BaseRef string `json:"baseRef,omitempty"`
	HeadRef string `json:"headRef,omitempty"`
}

// Session is the remote session resource.
type Session struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	Title         string          `json:"title,omitempty"`
	Prompt        string          `json:"prompt,omitempty"`
	SourceContext *SourceContext  `json:"sourceContext,omitempty"`
	URL           string          `json:"url,omitempty"`
	State         SessionState    `json:"state"`
	CreateTime    time.Time       `json:"createTime"`
	UpdateTime    time.Time       `json:"updateTime,omitempty"`
	Outputs       []SessionOutput `json:"outputs,omitempty"`
}

// UnmarshalJSON normalises the state field on ingress.
func (s *Session) UnmarshalJSON(data []byte) error {
	type alias Session
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	a.State = NormalizeState(string(a.State))
	*s = Session(a)
	return nil
}

// PullRequest returns the first pullRequest output, if any.
func (s *Session) PullRequest() *PullRequestOutput {
	for _, out := range s.Outputs {
		if out.Type == OutputPullRequest && out.PullRequest != nil {
			return out.PullRequest
		}
	}
	return nil
}

// SessionIndexEntry is the lightweight projection persisted in the store
// index for O(index) listing without hydrating full resources.
type SessionIndexEntry struct {
	ID          string       `json:"id"`
	Title       string       `json:"title,omitempty"`
	State       SessionState `json:"state"`
	CreateTime  time.Time    `json:"createTime"`
	SourceLabel string       `json:"sourceLabel,omitempty"`
	UpdatedAt   int64        `json:"_updatedAt"`
}

// SessionEnvelope wraps a cached session resource with sync metadata.
type SessionEnvelope struct {
	Resource     *Session `json:"resource"`
	LastSyncedAt int64    `json:"_lastSyncedAt"` // epoch millis
}
