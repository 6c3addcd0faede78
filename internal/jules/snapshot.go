package jules

import (
	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

// buildSnapshot computes the derived fields of a session snapshot from the
// resource and its ordered activity log.
func buildSnapshot(session *v1.Session, activities []*v1.Activity) *v1.SessionSnapshot {
	snapshot := &v1.SessionSnapshot{
		Session:        session,
		Activities:     activities,
		ActivityCounts: make(map[v1.ActivityType]int),
		Timeline:       make([]v1.TimelineEntry, 0, len(activities)),
	}

	if !session.UpdateTime.IsZero() && session.UpdateTime.After(session.CreateTime) {
		snapshot.DurationMs = session.UpdateTime.Sub(session.CreateTime).Milliseconds()
	}

	planGenerations := 0
	for _, a := range activities {
		snapshot.ActivityCounts[a.Type]++
		snapshot.Timeline = append(snapshot.Timeline, v1.TimelineEntry{
			Time:    a.CreateTime,
			Type:    a.Type,
			Summary: a.Summary(v1.DefaultSummaryLength),
		})

		switch a.Type {
		case v1.ActivityPlanGenerated:
			planGenerations++
		case v1.ActivityUserMessaged:
			snapshot.Insights.UserInterventions++
		case v1.ActivitySessionCompleted, v1.ActivitySessionFailed:
			snapshot.Insights.CompletionAttempts++
		}
		for _, artifact := range a.Artifacts {
			if artifact.Type == v1.ArtifactBashOutput && artifact.BashOutput != nil && artifact.BashOutput.ExitCode != 0 {
				snapshot.Insights.FailedCommands++
			}
		}
	}
	if planGenerations > 1 {
		snapshot.Insights.PlanRegenerations = planGenerations - 1
	}
	snapshot.Insights.PullRequest = session.PullRequest()
	return snapshot
}
