package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() map[string]any {
	return map[string]any{
		"id":    "a1",
		"type":  "planGenerated",
		"state": "completed",
		"plan": map[string]any{
			"id": "p1",
			"steps": []any{
				map[string]any{"id": "st1", "title": "one", "index": float64(0)},
				map[string]any{"id": "st2", "title": "two", "index": float64(1)},
			},
		},
		"artifacts": []any{
			map[string]any{"type": "bashOutput", "bashOutput": map[string]any{"command": "go test", "stdout": "ok"}},
		},
	}
}

func TestProjectTopLevelFields(t *testing.T) {
	out := Project(sampleDoc(), []string{"id", "type"})
	assert.Equal(t, map[string]any{"id": "a1", "type": "planGenerated"}, out)
}

func TestProjectNestedPath(t *testing.T) {
	out := Project(sampleDoc(), []string{"id", "plan.id"})
	assert.Equal(t, "a1", out["id"])
	plan, ok := out["plan"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": "p1"}, plan)
}

func TestProjectArrayElementWise(t *testing.T) {
	out := Project(sampleDoc(), []string{"plan.steps.title"})
	plan := out["plan"].(map[string]any)
	steps, ok := plan["steps"].([]any)
	require.True(t, ok)
	require.Len(t, steps, 2)
	assert.Equal(t, map[string]any{"title": "one"}, steps[0])
	assert.Equal(t, map[string]any{"title": "two"}, steps[1])
}

func TestProjectWildcardWithExclusion(t *testing.T) {
	out := Project(sampleDoc(), []string{"*", "-artifacts", "-plan.id"})
	assert.NotContains(t, out, "artifacts")
	assert.Equal(t, "a1", out["id"])
	plan := out["plan"].(map[string]any)
	assert.NotContains(t, plan, "id")
	assert.Contains(t, plan, "steps")
}

func TestProjectExclusionThroughArrays(t *testing.T) {
	out := Project(sampleDoc(), []string{"*", "-plan.steps.index"})
	steps := out["plan"].(map[string]any)["steps"].([]any)
	for _, s := range steps {
		assert.NotContains(t, s.(map[string]any), "index")
		assert.Contains(t, s.(map[string]any), "title")
	}
}

func TestProjectMissingFieldSkipped(t *testing.T) {
	out := Project(sampleDoc(), []string{"id", "missing", "plan.absent.deeper"})
	assert.Equal(t, "a1", out["id"])
	assert.NotContains(t, out, "missing")
	plan := out["plan"].(map[string]any)
	assert.Empty(t, plan)
}

func TestProjectPathIntoScalarIgnored(t *testing.T) {
	out := Project(sampleDoc(), []string{"id.sub"})
	assert.NotContains(t, out, "id")
}

func TestProjectEmptySelectsClones(t *testing.T) {
	doc := sampleDoc()
	out := Project(doc, nil)
	assert.Equal(t, doc, out)

	// The projection is a deep copy; mutating it leaves the source intact.
	out["plan"].(map[string]any)["id"] = "mutated"
	assert.Equal(t, "p1", doc["plan"].(map[string]any)["id"])
}
