package fleet

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/forge"
)

// SignalKind classifies analyzer output issues.
type SignalKind string

const (
	SignalInsight    SignalKind = "insight"
	SignalAssessment SignalKind = "assessment"
)

// SignalInput describes a signal issue to create. Scope, when set, is a
// milestone title matched case-insensitively against open milestones.
type SignalInput struct {
	Kind  SignalKind
	Title string
	Body  string
	Tags  []string
	Scope string
}

// SignalReport holds the created issue.
type SignalReport struct {
	Issue *forge.Issue
}

// CreateSignal records an analyzer finding as a labelled forge issue.
func (o *Orchestrator) CreateSignal(ctx context.Context, in SignalInput) Result[*SignalReport] {
	var kindLabel string
	switch in.Kind {
	case SignalInsight:
		kindLabel = LabelInsight
	case SignalAssessment:
		kindLabel = LabelAssessment
	default:
		return Failf[*SignalReport](CodeUnknown, false, "unsupported signal kind %q", in.Kind)
	}
	if in.Title == "" {
		return Failf[*SignalReport](CodeUnknown, false, "signal title is required")
	}

	labels := append([]string{kindLabel}, in.Tags...)

	milestone := 0
	if in.Scope != "" {
		milestones, err := o.forge.ListMilestones(ctx, "open")
		if err != nil {
			return Fail[*SignalReport](&HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true})
		}
		for _, m := range milestones {
			if strings.EqualFold(m.Title, in.Scope) {
				milestone = m.Number
				break
			}
		}
		if milestone == 0 {
			return Failf[*SignalReport](CodeScopeNotFound, false, "no open milestone titled %q", in.Scope)
		}
	}

	issue, err := o.forge.CreateIssue(ctx, forge.NewIssue{
		Title:     in.Title,
		Body:      in.Body,
		Labels:    labels,
		Milestone: milestone,
	})
	if err != nil {
		return Fail[*SignalReport](&HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true})
	}

	o.logger.Info("signal created",
		zap.String("kind", string(in.Kind)),
		zap.Int("issue", issue.Number))
	return OK(&SignalReport{Issue: issue})
}
