// Package v1 defines the shared Jules Agent API resource types: activities,
// artifacts, and sessions. These types are what the SDK caches on disk and
// returns to callers.
package v1

import "time"

// Originator identifies who produced an activity.
type Originator string

const (
	OriginatorUser   Originator = "user"
	OriginatorAgent  Originator = "agent"
	OriginatorSystem Originator = "system"
)

// ActivityType is the tagged variant discriminator for activities.
type ActivityType string

const (
	ActivityPlanGenerated    ActivityType = "planGenerated"
	ActivityPlanApproved     ActivityType = "planApproved"
	ActivityUserMessaged     ActivityType = "userMessaged"
	ActivityAgentMessaged    ActivityType = "agentMessaged"
	ActivityProgressUpdated  ActivityType = "progressUpdated"
	ActivitySessionCompleted ActivityType = "sessionCompleted"
	ActivitySessionFailed    ActivityType = "sessionFailed"
)

// Activity is an immutable record emitted by the Agent API. Within a session
// ids are unique and createTime is monotonic modulo upstream anomalies; the
// client deduplicates rather than assuming strict ordering.
type Activity struct {
	ID         string       `json:"id"`
	CreateTime time.Time    `json:"createTime"`
	Originator Originator   `json:"originator,omitempty"`
	Type       ActivityType `json:"type"`

	// Variant payloads; exactly one is meaningful for a given Type.
	Message  string    `json:"message,omitempty"`
	Plan     *Plan     `json:"plan,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
	Outcome  *Outcome  `json:"outcome,omitempty"`

	Artifacts []*Artifact `json:"artifacts,omitempty"`
}

// Plan is the payload of a planGenerated activity.
type Plan struct {
	ID    string     `json:"id,omitempty"`
	Steps []PlanStep `json:"steps,omitempty"`
}

// PlanStep is a single step of a generated plan.
type PlanStep struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	Index int    `json:"index"`
}

// Progress is the payload of a progressUpdated activity.
type Progress struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Outcome is the payload of a sessionCompleted or sessionFailed activity.
type Outcome struct {
	Reason string `json:"reason,omitempty"`
}

// IsTerminal reports whether the activity ends the session.
func (a *Activity) IsTerminal() bool {
	return a.Type == ActivitySessionCompleted || a.Type == ActivitySessionFailed
}
