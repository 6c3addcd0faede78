package fleet

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julesfleet/julesfleet/internal/forge"
)

// TraceEvent is one step in a session's correlation chain.
type TraceEvent struct {
	Type string // dispatched, pr_created, pr_merged
	At   time.Time
}

// IssueRef points at the issue that dispatched a session.
type IssueRef struct {
	Number int
	Title  string
}

// PRRef points at the pull request produced by a session.
type PRRef struct {
	Number int
	Title  string
	State  string
	Merged bool
}

// SessionTrace is the reconstructed chain for one session.
type SessionTrace struct {
	SessionID    string
	DispatchedBy *IssueRef
	PullRequest  *PRRef
	ChangedFiles []string
	Events       []TraceEvent
}

// TraceInput selects the entry point: exactly one of SessionID, IssueNumber,
// or Milestone.
type TraceInput struct {
	SessionID   string
	IssueNumber int
	Milestone   int
}

// TraceReport holds one trace per resolved session.
type TraceReport struct {
	Traces []*SessionTrace
}

// Trace reconstructs the dispatch-to-merge chain from forge state: the
// marker comment ties an issue to a session, and the session id in a PR head
// ref or body ties the session to its pull request.
func (o *Orchestrator) Trace(ctx context.Context, in TraceInput) Result[*TraceReport] {
	switch {
	case in.SessionID != "":
		trace, herr := o.traceSession(ctx, in.SessionID)
		if herr != nil {
			return Fail[*TraceReport](herr)
		}
		return OK(&TraceReport{Traces: []*SessionTrace{trace}})

	case in.IssueNumber > 0:
		issue, err := o.forge.GetIssue(ctx, in.IssueNumber)
		if err != nil {
			if forge.IsStatus(err, http.StatusNotFound) {
				return Failf[*TraceReport](CodeIssueNotFound, false, "issue %d not found", in.IssueNumber)
			}
			return Fail[*TraceReport](&HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true})
		}
		trace, herr := o.traceIssue(ctx, issue)
		if herr != nil {
			return Fail[*TraceReport](herr)
		}
		if trace == nil {
			return OK(&TraceReport{})
		}
		return OK(&TraceReport{Traces: []*SessionTrace{trace}})

	case in.Milestone > 0:
		issues, err := o.forge.ListIssues(ctx, forge.IssueListOptions{
			Milestone: strconv.Itoa(in.Milestone),
			Labels:    []string{LabelFleet},
			State:     "all",
		})
		if err != nil {
			return Fail[*TraceReport](&HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true})
		}
		report := &TraceReport{}
		for _, issue := range issues {
			trace, herr := o.traceIssue(ctx, issue)
			if herr != nil {
				return Fail[*TraceReport](herr)
			}
			if trace != nil {
				report.Traces = append(report.Traces, trace)
			}
		}
		return OK(report)
	}
	return Failf[*TraceReport](CodeUnknown, false, "trace needs a session id, issue number, or milestone")
}

// traceIssue resolves an issue's dispatch marker into a full session trace.
// Undispatched issues yield nil.
func (o *Orchestrator) traceIssue(ctx context.Context, issue *forge.Issue) (*SessionTrace, *HandlerError) {
	comments, err := o.forge.ListIssueComments(ctx, issue.Number)
	if err != nil {
		return nil, &HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true}
	}
	sessionID, found := findDispatchMarker(comments)
	if !found || sessionID == "" {
		return nil, nil
	}

	trace := &SessionTrace{
		SessionID:    sessionID,
		DispatchedBy: &IssueRef{Number: issue.Number, Title: issue.Title},
	}
	for _, comment := range comments {
		if strings.Contains(comment.Body, DispatchMarker) {
			trace.Events = append(trace.Events, TraceEvent{Type: "dispatched", At: comment.CreatedAt})
			break
		}
	}
	if herr := o.attachPullRequest(ctx, trace); herr != nil {
		return nil, herr
	}
	return trace, nil
}

// traceSession starts from a session id and works outward to the issue and
// pull request.
func (o *Orchestrator) traceSession(ctx context.Context, sessionID string) (*SessionTrace, *HandlerError) {
	trace := &SessionTrace{SessionID: sessionID}

	issues, err := o.forge.ListIssues(ctx, forge.IssueListOptions{Labels: []string{LabelFleet}, State: "all"})
	if err != nil {
		return nil, &HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true}
	}
	for _, issue := range issues {
		comments, err := o.forge.ListIssueComments(ctx, issue.Number)
		if err != nil {
			return nil, &HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true}
		}
		marked, found := findDispatchMarker(comments)
		if !found || marked != sessionID {
			continue
		}
		trace.DispatchedBy = &IssueRef{Number: issue.Number, Title: issue.Title}
		for _, comment := range comments {
			if strings.Contains(comment.Body, DispatchMarker) {
				trace.Events = append(trace.Events, TraceEvent{Type: "dispatched", At: comment.CreatedAt})
				break
			}
		}
		break
	}

	if herr := o.attachPullRequest(ctx, trace); herr != nil {
		return nil, herr
	}
	return trace, nil
}

// attachPullRequest finds the PR produced by the trace's session and fills
// in files and lifecycle events.
func (o *Orchestrator) attachPullRequest(ctx context.Context, trace *SessionTrace) *HandlerError {
	pulls, err := o.forge.ListPulls(ctx, forge.PullListOptions{State: "all"})
	if err != nil {
		return &HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true}
	}
	for _, pr := range pulls {
		if !strings.Contains(pr.Head.Ref, trace.SessionID) && !strings.Contains(pr.Body, trace.SessionID) {
			continue
		}
		merged := pr.Merged || pr.MergedAt != nil
		trace.PullRequest = &PRRef{Number: pr.Number, Title: pr.Title, State: pr.State, Merged: merged}
		trace.Events = append(trace.Events, TraceEvent{Type: "pr_created", At: pr.CreatedAt})
		if merged && pr.MergedAt != nil {
			trace.Events = append(trace.Events, TraceEvent{Type: "pr_merged", At: *pr.MergedAt})
		}

		files, err := o.forge.ListPullFiles(ctx, pr.Number)
		if err != nil {
			return &HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true}
		}
		for _, file := range files {
			trace.ChangedFiles = append(trace.ChangedFiles, file.Filename)
		}
		break
	}
	return nil
}
