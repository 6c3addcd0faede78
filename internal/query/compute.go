package query

import (
	"encoding/json"
	"fmt"

	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

// Default projections applied when a query has no select clause.
var (
	defaultActivitySelect = []string{"id", "type", "createTime", "originator", "artifactCount", "summary"}
	defaultSessionSelect  = []string{"id", "state", "title", "createTime"}
)

// toDoc converts a typed resource to its JSON document form.
func toDoc(value any) (map[string]any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// injectActivityComputed adds the computed fields of an activity document.
// Computed fields are selectable but never filterable, so injection happens
// after filtering.
func injectActivityComputed(doc map[string]any, a *v1.Activity) {
	doc["artifactCount"] = len(a.Artifacts)
	doc["summary"] = a.Summary(v1.DefaultSummaryLength)
}

// injectSessionComputed adds the computed fields of a session document.
func injectSessionComputed(doc map[string]any, s *v1.Session) {
	duration := int64(0)
	if !s.UpdateTime.IsZero() && s.UpdateTime.After(s.CreateTime) {
		duration = s.UpdateTime.Sub(s.CreateTime).Milliseconds()
	}
	doc["durationMs"] = duration
}
