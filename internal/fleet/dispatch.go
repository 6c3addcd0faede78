package fleet

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/events/bus"
	"github.com/julesfleet/julesfleet/internal/forge"
)

// DispatchMarker is the literal every dispatch-event comment carries. Its
// presence on an issue makes re-dispatch a no-op.
const DispatchMarker = "Fleet Dispatch Event"

var sessionLineRe = regexp.MustCompile(`Session:\s*([A-Za-z0-9_-]+)`)

// DispatchInput selects the milestone to dispatch.
type DispatchInput struct {
	Milestone  int
	BaseBranch string
}

// DispatchedIssue records one launched worker session.
type DispatchedIssue struct {
	Issue     int
	Title     string
	SessionID string
}

// IssueFailure records an issue whose dispatch failed.
type IssueFailure struct {
	Issue int
	Error string
}

// DispatchReport is the outcome of a dispatch batch.
type DispatchReport struct {
	Dispatched []DispatchedIssue
	Skipped    []int
	Failures   []IssueFailure
}

// Dispatch launches one worker session per fleet-labeled open issue in the
// milestone. Issues already carrying a dispatch marker are skipped; per-issue
// failures shrink the batch without failing it.
func (o *Orchestrator) Dispatch(ctx context.Context, in DispatchInput) Result[*DispatchReport] {
	if _, err := o.forge.GetMilestone(ctx, in.Milestone); err != nil {
		if forge.IsStatus(err, http.StatusNotFound) {
			return Failf[*DispatchReport](CodeMilestoneNotFound, false, "milestone %d not found", in.Milestone)
		}
		return Fail[*DispatchReport](&HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true})
	}

	issues, err := o.forge.ListIssues(ctx, forge.IssueListOptions{
		Milestone: strconv.Itoa(in.Milestone),
		Labels:    []string{LabelFleet},
		State:     "open",
	})
	if err != nil {
		return Fail[*DispatchReport](&HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true})
	}

	report := &DispatchReport{}
	for _, issue := range issues {
		comments, err := o.forge.ListIssueComments(ctx, issue.Number)
		if err != nil {
			report.Failures = append(report.Failures, IssueFailure{Issue: issue.Number, Error: err.Error()})
			continue
		}
		if _, dispatched := findDispatchMarker(comments); dispatched {
			report.Skipped = append(report.Skipped, issue.Number)
			continue
		}

		sessionID, err := o.dispatcher.Dispatch(ctx, DispatchRequest{
			Prompt:     workerPrompt(issue),
			Owner:      o.forge.Owner(),
			Repo:       o.forge.Repo(),
			BaseBranch: o.resolveBase(in.BaseBranch),
			Title:      issue.Title,
		})
		if err != nil {
			o.logger.Warn("worker dispatch failed",
				zap.Int("issue", issue.Number), zap.Error(err))
			report.Failures = append(report.Failures, IssueFailure{Issue: issue.Number, Error: err.Error()})
			continue
		}

		comment := dispatchEventComment(sessionID, o.now())
		if _, err := o.forge.CreateIssueComment(ctx, issue.Number, comment); err != nil {
			// Session is running but the marker is missing; report it so the
			// operator can record the marker by hand.
			report.Failures = append(report.Failures, IssueFailure{
				Issue: issue.Number,
				Error: "session " + sessionID + " started but marker comment failed: " + err.Error(),
			})
			continue
		}

		report.Dispatched = append(report.Dispatched, DispatchedIssue{
			Issue:     issue.Number,
			Title:     issue.Title,
			SessionID: sessionID,
		})
		o.publish(ctx, bus.SubjectFleetDispatch, "worker_dispatched", map[string]any{
			"issue":     issue.Number,
			"sessionId": sessionID,
			"milestone": in.Milestone,
		})
	}

	o.logger.Info("dispatch batch finished",
		zap.Int("milestone", in.Milestone),
		zap.Int("dispatched", len(report.Dispatched)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.Failures)))
	return OK(report)
}

// findDispatchMarker scans comments for a dispatch marker and extracts the
// session id recorded in it.
func findDispatchMarker(comments []*forge.Comment) (sessionID string, found bool) {
	for _, comment := range comments {
		if !strings.Contains(comment.Body, DispatchMarker) {
			continue
		}
		if m := sessionLineRe.FindStringSubmatch(comment.Body); m != nil {
			return m[1], true
		}
		return "", true
	}
	return "", false
}
