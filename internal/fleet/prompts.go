package fleet

import (
	"fmt"
	"strings"
	"time"

	"github.com/julesfleet/julesfleet/internal/forge"
)

// analyzerPrompt composes the multi-phase analyzer instruction for one goal.
// The milestone context lets the analyzer deduplicate against existing work
// before creating signals.
func analyzerPrompt(goal *Goal, mctx *milestoneContext) string {
	var b strings.Builder
	b.WriteString("You are a fleet analyzer. Work through the phases in order.\n\n")

	b.WriteString("## Goal\n")
	b.WriteString("Title: " + goal.Title + "\n")
	if goal.Priority != "" {
		b.WriteString("Priority: " + goal.Priority + "\n")
	}
	if len(goal.Tags) > 0 {
		b.WriteString("Tags: " + strings.Join(goal.Tags, ", ") + "\n")
	}
	b.WriteString("\n" + goal.Body + "\n\n")

	b.WriteString("## Current milestone state\n")
	if mctx.milestone != nil {
		fmt.Fprintf(&b, "Milestone: %s (#%d, %d open / %d closed issues)\n",
			mctx.milestone.Title, mctx.milestone.Number, mctx.milestone.OpenIssues, mctx.milestone.ClosedIssues)
	}
	writeIssueList(&b, "Open issues", mctx.openIssues)
	writeIssueList(&b, "Recently closed issues", mctx.closedIssues)
	if len(mctx.recentPRs) > 0 {
		b.WriteString("Recent pull requests:\n")
		for _, pr := range mctx.recentPRs {
			fmt.Fprintf(&b, "- #%d %s (%s)\n", pr.Number, pr.Title, pr.State)
		}
	}
	b.WriteString("\n")

	b.WriteString(`## Phases
1. Survey the repository for work that advances the goal.
2. Deduplicate: skip anything already covered by an open issue, a recently
   closed issue, or a recent pull request listed above.
3. For each remaining finding, create exactly one signal with the CLI:

    julesfleet signal create --kind insight --title "<short title>" --body "<finding>" [--tag <tag>] [--scope "<milestone title>"]

   Use kind "assessment" for judgements about overall goal progress instead
   of individual findings.
4. Reference concrete files and line ranges in every signal body.

Rules: one finding per signal, no duplicate signals, no code changes.
`)
	return b.String()
}

func writeIssueList(b *strings.Builder, heading string, issues []*forge.Issue) {
	if len(issues) == 0 {
		return
	}
	b.WriteString(heading + ":\n")
	for _, issue := range issues {
		fmt.Fprintf(b, "- #%d %s\n", issue.Number, issue.Title)
	}
}

// workerPrompt embeds the issue into the fleet worker instruction.
func workerPrompt(issue *forge.Issue) string {
	return fmt.Sprintf(`You are a fleet worker. Implement the task below completely, then open a
pull request.

## Task (issue #%d)
# %s

%s

Rules: stay within the scope of this issue, keep the change minimal, include
tests, and make the pull request body reference issue #%d.
`, issue.Number, issue.Title, issue.Body, issue.Number)
}

// dispatchEventComment renders the idempotency marker written back to a
// dispatched issue. The literal DispatchMarker and the session id must both
// survive any reformatting.
func dispatchEventComment(sessionID string, at time.Time) string {
	return fmt.Sprintf(`**%s**

Session: %s
Dispatched: %s
`, DispatchMarker, sessionID, at.UTC().Format(time.RFC3339))
}

// conflictClosureFooter is appended to a PR body when the merge pipeline
// closes it for re-dispatch.
const conflictClosureFooter = `

---
Closed by the fleet merge pipeline: this branch conflicts with the base
branch. A replacement session has been dispatched with the same task.`

const fleetReadmeTemplate = `# Fleet orchestration

This directory configures the fleet orchestrator for this repository.

- ` + "`fleet.yml`" + ` holds orchestration settings.
- ` + "`goals/`" + ` holds goal files consumed by ` + "`julesfleet analyze`" + `.

Issues labelled ` + "`fleet`" + ` inside a milestone are dispatched to worker
sessions with ` + "`julesfleet dispatch`" + `; finished PRs labelled
` + "`fleet-merge-ready`" + ` are merged sequentially with ` + "`julesfleet merge`" + `.
`

const fleetConfigTemplate = `# Fleet orchestration settings.
baseBranch: main
labels:
  work: fleet
  mergeReady: fleet-merge-ready
`

const exampleGoalTemplate = `---
title: Example goal
milestone: 1
priority: medium
tags: [example]
---

Describe the outcome this goal drives toward. The analyzer reads this file,
inspects the repository and milestone state, and files signal issues for
work that would advance the goal.
`
