package fleet

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/events/bus"
	"github.com/julesfleet/julesfleet/internal/forge"
)

// MergeMode selects how PRs enter the merge batch.
type MergeMode string

const (
	MergeModeLabel    MergeMode = "label"
	MergeModeFleetRun MergeMode = "fleet-run"
)

// FleetRunMarker renders the PR-body marker associating a PR with a run.
func FleetRunMarker(runID string) string {
	return fmt.Sprintf("<!-- fleet-run: %s -->", runID)
}

const (
	defaultMaxCIWaitSeconds   = 600
	defaultMaxRetries         = 2
	defaultPollTimeoutSeconds = 900
	ciPollInterval            = 10 * time.Second
	redispatchPollInterval    = 30 * time.Second
)

// MergeInput configures a sequential merge run.
type MergeInput struct {
	Mode               MergeMode
	BaseBranch         string
	Admin              bool
	ReDispatch         bool
	MaxCIWaitSeconds   int
	MaxRetries         int
	PollTimeoutSeconds int
	RunID              string
}

// MergeReport is the outcome of a merge run.
type MergeReport struct {
	Merged       []int
	Redispatched []int
}

// Merge processes the selected PRs strictly in order: update branch from
// base, wait for CI, squash merge. A 422 on update-branch is a merge
// conflict; with ReDispatch the PR is closed and replaced by a fresh worker
// session, bounded by MaxRetries.
func (o *Orchestrator) Merge(ctx context.Context, in MergeInput) Result[*MergeReport] {
	if in.MaxCIWaitSeconds <= 0 {
		in.MaxCIWaitSeconds = defaultMaxCIWaitSeconds
	}
	if in.MaxRetries <= 0 {
		in.MaxRetries = defaultMaxRetries
	}
	if in.PollTimeoutSeconds <= 0 {
		in.PollTimeoutSeconds = defaultPollTimeoutSeconds
	}

	selected, result := o.selectMergePRs(ctx, in)
	if result != nil {
		return *result
	}

	report := &MergeReport{}
	for i, pr := range selected {
		merged, redispatches, failure := o.mergeOne(ctx, pr, i == 0, in)
		report.Redispatched = append(report.Redispatched, redispatches...)
		if failure != nil {
			return Fail[*MergeReport](failure)
		}
		report.Merged = append(report.Merged, merged)
		o.publish(ctx, bus.SubjectFleetMerge, "pr_merged", map[string]any{
			"pr":   merged,
			"base": o.resolveBase(in.BaseBranch),
		})
	}

	o.logger.Info("merge run finished",
		zap.Ints("merged", report.Merged),
		zap.Ints("redispatched", report.Redispatched))
	return OK(report)
}

// selectMergePRs returns the batch in merge order: PR number ascending.
func (o *Orchestrator) selectMergePRs(ctx context.Context, in MergeInput) ([]*forge.PullRequest, *Result[*MergeReport]) {
	open, err := o.forge.ListPulls(ctx, forge.PullListOptions{State: "open", Base: o.resolveBase(in.BaseBranch)})
	if err != nil {
		r := Fail[*MergeReport](&HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true})
		return nil, &r
	}

	var selected []*forge.PullRequest
	switch in.Mode {
	case MergeModeLabel, "":
		for _, pr := range open {
			for _, label := range pr.Labels {
				if label.Name == LabelMergeReady {
					selected = append(selected, pr)
					break
				}
			}
		}
	case MergeModeFleetRun:
		if in.RunID == "" {
			r := Failf[*MergeReport](CodeUnknown, false, "fleet-run mode requires a run id")
			return nil, &r
		}
		marker := FleetRunMarker(in.RunID)
		for _, pr := range open {
			if strings.Contains(pr.Body, marker) {
				selected = append(selected, pr)
			}
		}
	default:
		r := Failf[*MergeReport](CodeUnknown, false, "unsupported merge mode %q", in.Mode)
		return nil, &r
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i].Number < selected[j].Number })
	return selected, nil
}

// mergeOne drives a single PR through rebase, CI, and merge. It returns the
// merged PR number, any replacement PR numbers created along the way, and a
// fatal failure if the run must stop.
func (o *Orchestrator) mergeOne(ctx context.Context, pr *forge.PullRequest, first bool, in MergeInput) (int, []int, *HandlerError) {
	var redispatches []int
	for attempt := 0; ; attempt++ {
		// The first PR of a batch starts at the base head, so the first
		// attempt needs no branch update.
		if !(first && attempt == 0) {
			err := o.forge.UpdatePullBranch(ctx, pr.Number)
			if forge.IsStatus(err, http.StatusUnprocessableEntity) {
				o.logger.Warn("merge conflict detected", zap.Int("pr", pr.Number))
				if !in.ReDispatch {
					return 0, redispatches, &HandlerError{
						Code:       CodeMergeFailed,
						Message:    fmt.Sprintf("PR #%d conflicts with %s", pr.Number, o.resolveBase(in.BaseBranch)),
						Suggestion: "Resolve the conflict manually: " + pr.HTMLURL,
					}
				}
				if attempt >= in.MaxRetries {
					return 0, redispatches, &HandlerError{
						Code:       CodeRedispatchFailed,
						Message:    fmt.Sprintf("PR #%d still conflicting after %d re-dispatches", pr.Number, in.MaxRetries),
						Suggestion: "Resolve manually: " + pr.HTMLURL,
					}
				}
				replacement, rerr := o.redispatchConflict(ctx, pr, in)
				if rerr != nil {
					return 0, redispatches, &HandlerError{
						Code:       CodeRedispatchFailed,
						Message:    rerr.Error(),
						Suggestion: "Resolve manually: " + pr.HTMLURL,
					}
				}
				redispatches = append(redispatches, replacement.Number)
				pr = replacement
				continue
			}
			if err != nil {
				return 0, redispatches, &HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true}
			}
			// Re-read the PR so the CI gate polls the rebased head SHA.
			refreshed, err := o.forge.GetPull(ctx, pr.Number)
			if err != nil {
				return 0, redispatches, &HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true}
			}
			pr = refreshed
		}

		if err := o.waitForCI(ctx, pr.Head.SHA, time.Duration(in.MaxCIWaitSeconds)*time.Second); err != nil {
			// An admin merge proceeds past a red or stuck CI gate, the same
			// way required checks are bypassed on the forge side.
			if !in.Admin {
				return 0, redispatches, &HandlerError{
					Code:       CodeMergeFailed,
					Message:    fmt.Sprintf("CI gate failed for PR #%d: %v", pr.Number, err),
					Suggestion: "Inspect checks: " + pr.HTMLURL,
				}
			}
			o.logger.Warn("CI gate bypassed by admin merge",
				zap.Int("pr", pr.Number), zap.Error(err))
		}

		result, err := o.forge.MergePull(ctx, pr.Number, "")
		if err != nil || !result.Merged {
			message := "merge rejected"
			if err != nil {
				message = err.Error()
			} else if result.Message != "" {
				message = result.Message
			}
			return 0, redispatches, &HandlerError{
				Code:       CodeMergeFailed,
				Message:    fmt.Sprintf("merge PR #%d: %s", pr.Number, message),
				Suggestion: "Inspect the PR: " + pr.HTMLURL,
			}
		}
		o.logger.Info("PR merged", zap.Int("pr", pr.Number), zap.String("sha", result.SHA))
		return pr.Number, redispatches, nil
	}
}

// waitForCI polls check runs on the head SHA until they are all green. No
// check runs at all counts as green.
func (o *Orchestrator) waitForCI(ctx context.Context, headSHA string, maxWait time.Duration) error {
	deadline := o.now().Add(maxWait)
	for {
		runs, err := o.forge.ListCheckRuns(ctx, headSHA)
		if err != nil {
			return err
		}
		pending := 0
		for _, run := range runs {
			if !run.Completed() {
				pending++
				continue
			}
			if !run.Passed() {
				return fmt.Errorf("check %q concluded %s", run.Name, run.Conclusion)
			}
		}
		if pending == 0 {
			return nil
		}
		if o.now().After(deadline) {
			return fmt.Errorf("CI not green after %s (%d checks pending)", maxWait, pending)
		}
		if err := o.sleep(ctx, ciPollInterval); err != nil {
			return err
		}
	}
}

// redispatchConflict closes the conflicting PR, launches a replacement
// session from the PR body, and polls until the new session's PR appears.
func (o *Orchestrator) redispatchConflict(ctx context.Context, pr *forge.PullRequest, in MergeInput) (*forge.PullRequest, error) {
	closedBody := pr.Body + conflictClosureFooter
	closedState := "closed"
	if _, err := o.forge.UpdatePull(ctx, pr.Number, forge.PullUpdate{Body: &closedBody, State: &closedState}); err != nil {
		return nil, fmt.Errorf("close conflicting PR #%d: %w", pr.Number, err)
	}

	sessionID, err := o.dispatcher.Dispatch(ctx, DispatchRequest{
		Prompt:     pr.Body,
		Owner:      o.forge.Owner(),
		Repo:       o.forge.Repo(),
		BaseBranch: o.resolveBase(in.BaseBranch),
		Title:      pr.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch replacement for PR #%d: %w", pr.Number, err)
	}
	o.logger.Info("conflict re-dispatched",
		zap.Int("closed_pr", pr.Number), zap.String("session_id", sessionID))

	deadline := o.now().Add(time.Duration(in.PollTimeoutSeconds) * time.Second)
	for {
		open, err := o.forge.ListPulls(ctx, forge.PullListOptions{State: "open"})
		if err != nil {
			return nil, err
		}
		for _, candidate := range open {
			if strings.Contains(candidate.Head.Ref, sessionID) || strings.Contains(candidate.Body, sessionID) {
				return candidate, nil
			}
		}
		if o.now().After(deadline) {
			return nil, fmt.Errorf("no PR from session %s within %ds", sessionID, in.PollTimeoutSeconds)
		}
		if err := o.sleep(ctx, redispatchPollInterval); err != nil {
			return nil, err
		}
	}
}
