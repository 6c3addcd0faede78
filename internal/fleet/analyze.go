package fleet

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/events/bus"
	"github.com/julesfleet/julesfleet/internal/forge"
)

// closedIssueWindow bounds how far back milestone context looks for
// recently closed issues.
const closedIssueWindow = 14 * 24 * time.Hour

// AnalyzeInput configures an analyzer batch.
type AnalyzeInput struct {
	GoalPaths  []string
	Milestone  int
	BaseBranch string
}

// GoalSession pairs a goal with the analyzer session launched for it.
type GoalSession struct {
	GoalPath  string
	GoalTitle string
	SessionID string
}

// GoalFailure records a goal whose dispatch failed.
type GoalFailure struct {
	GoalPath string
	Error    string
}

// AnalyzeReport is the outcome of an analyzer batch.
type AnalyzeReport struct {
	SessionsStarted []GoalSession
	Failures        []GoalFailure
}

// milestoneContext is the repository state the analyzer prompt embeds.
type milestoneContext struct {
	milestone    *forge.Milestone
	openIssues   []*forge.Issue
	closedIssues []*forge.Issue
	recentPRs    []*forge.PullRequest
}

// Analyze launches one analyzer session per goal file. A missing goal file
// fails the batch; a failed dispatch only shrinks SessionsStarted.
func (o *Orchestrator) Analyze(ctx context.Context, in AnalyzeInput) Result[*AnalyzeReport] {
	if len(in.GoalPaths) == 0 {
		return Failf[*AnalyzeReport](CodeGoalNotFound, false, "no goal files given")
	}
	goals := make([]*Goal, 0, len(in.GoalPaths))
	for _, path := range in.GoalPaths {
		goal, err := LoadGoal(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Failf[*AnalyzeReport](CodeGoalNotFound, false, "goal file %s not found", path)
			}
			return Failf[*AnalyzeReport](CodeGoalNotFound, false, "load goal %s: %v", path, err)
		}
		goals = append(goals, goal)
	}

	mctx, result := o.fetchMilestoneContext(ctx, in.Milestone)
	if result != nil {
		return *result
	}

	report := &AnalyzeReport{}
	for _, goal := range goals {
		prompt := analyzerPrompt(goal, mctx)
		sessionID, err := o.dispatcher.Dispatch(ctx, DispatchRequest{
			Prompt:     prompt,
			Owner:      o.forge.Owner(),
			Repo:       o.forge.Repo(),
			BaseBranch: o.resolveBase(in.BaseBranch),
			Title:      "Analyze: " + goal.Title,
		})
		if err != nil {
			o.logger.Warn("analyzer dispatch failed",
				zap.String("goal", goal.Path), zap.Error(err))
			report.Failures = append(report.Failures, GoalFailure{GoalPath: goal.Path, Error: err.Error()})
			continue
		}
		report.SessionsStarted = append(report.SessionsStarted, GoalSession{
			GoalPath:  goal.Path,
			GoalTitle: goal.Title,
			SessionID: sessionID,
		})
		o.publish(ctx, bus.SubjectFleetDispatch, "analyzer_dispatched", map[string]any{
			"goal":      goal.Path,
			"sessionId": sessionID,
			"milestone": in.Milestone,
		})
	}
	return OK(report)
}

func (o *Orchestrator) fetchMilestoneContext(ctx context.Context, milestone int) (*milestoneContext, *Result[*AnalyzeReport]) {
	mctx := &milestoneContext{}
	if milestone > 0 {
		m, err := o.forge.GetMilestone(ctx, milestone)
		if err != nil {
			if forge.IsStatus(err, http.StatusNotFound) {
				r := Failf[*AnalyzeReport](CodeMilestoneNotFound, false, "milestone %d not found", milestone)
				return nil, &r
			}
			r := Fail[*AnalyzeReport](&HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true})
			return nil, &r
		}
		mctx.milestone = m
	}

	milestoneFilter := ""
	if milestone > 0 {
		milestoneFilter = strconv.Itoa(milestone)
	}
	open, err := o.forge.ListIssues(ctx, forge.IssueListOptions{Milestone: milestoneFilter, State: "open"})
	if err != nil {
		r := Fail[*AnalyzeReport](&HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true})
		return nil, &r
	}
	mctx.openIssues = open

	since := o.now().Add(-closedIssueWindow)
	closed, err := o.forge.ListIssues(ctx, forge.IssueListOptions{Milestone: milestoneFilter, State: "closed", Since: &since})
	if err != nil {
		r := Fail[*AnalyzeReport](&HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true})
		return nil, &r
	}
	mctx.closedIssues = closed

	prs, err := o.forge.ListPulls(ctx, forge.PullListOptions{State: "all", PerPage: 20})
	if err != nil {
		r := Fail[*AnalyzeReport](&HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true})
		return nil, &r
	}
	mctx.recentPRs = prs
	return mctx, nil
}
