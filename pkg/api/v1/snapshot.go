package v1

import "time"

// TimelineEntry is one row of a snapshot timeline.
type TimelineEntry struct {
	Time    time.Time    `json:"time"`
	Type    ActivityType `json:"type"`
	Summary string       `json:"summary,omitempty"`
}

// SessionInsights aggregates derived signals over a session's activity log.
type SessionInsights struct {
	CompletionAttempts int                `json:"completionAttempts"`
	PlanRegenerations  int                `json:"planRegenerations"`
	UserInterventions  int                `json:"userInterventions"`
	FailedCommands     int                `json:"failedCommands"`
	PullRequest        *PullRequestOutput `json:"pullRequest,omitempty"`
}

// SessionSnapshot is a point-in-time composition of a session resource with
// its ordered activity log and derived fields.
type SessionSnapshot struct {
	Session        *Session             `json:"session"`
	Activities     []*Activity          `json:"activities"`
	DurationMs     int64                `json:"durationMs"`
	ActivityCounts map[ActivityType]int `json:"activityCounts"`
	Timeline       []TimelineEntry      `json:"timeline"`
	Insights       SessionInsights      `json:"insights"`
}
