package v1

import (
	"fmt"
	"strings"
)

// DefaultSummaryLength caps rendered activity summaries.
const DefaultSummaryLength = 200

// Summary renders a short textual description of an activity, truncated to
// maxLen with an ellipsis.
func (a *Activity) Summary(maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultSummaryLength
	}
	var text string
	switch a.Type {
	case ActivityPlanGenerated:
		steps := 0
		if a.Plan != nil {
			steps = len(a.Plan.Steps)
		}
		text = fmt.Sprintf("Plan generated with %d steps", steps)
	case ActivityPlanApproved:
		text = "Plan approved"
	case ActivityUserMessaged, ActivityAgentMessaged:
		text = strings.TrimSpace(a.Message)
	case ActivityProgressUpdated:
		if a.Progress != nil {
			text = strings.TrimSpace(strings.Join(nonEmpty(a.Progress.Title, a.Progress.Description), ": "))
		}
	case ActivitySessionCompleted:
		text = "Session completed"
	case ActivitySessionFailed:
		text = "Session failed"
		if a.Outcome != nil && a.Outcome.Reason != "" {
			text += ": " + a.Outcome.Reason
		}
	default:
		text = string(a.Type)
	}
	if text == "" {
		text = string(a.Type)
	}
	return truncate(text, maxLen)
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
