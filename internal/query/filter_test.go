package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchWhereScalarEquality(t *testing.T) {
	doc := map[string]any{"state": "completed", "attempts": float64(3)}

	assert.True(t, matchWhere(doc, Where{"state": "completed"}, nil))
	assert.False(t, matchWhere(doc, Where{"state": "failed"}, nil))

	// JSON numbers decode as float64; int operands still compare equal.
	assert.True(t, matchWhere(doc, Where{"attempts": 3}, nil))
	assert.False(t, matchWhere(doc, Where{"attempts": 4}, nil))

	// A missing field never matches a scalar condition.
	assert.False(t, matchWhere(doc, Where{"missing": "x"}, nil))
}

func TestMatchWhereOperators(t *testing.T) {
	doc := map[string]any{
		"state":      "inProgress",
		"title":      "Fix Widget Login",
		"createTime": "2026-08-20T10:00:00Z",
		"steps":      float64(5),
	}

	tests := []struct {
		name  string
		where Where
		want  bool
	}{
		{"eq matches", Where{"state": map[string]any{"eq": "inProgress"}}, true},
		{"neq excludes", Where{"state": map[string]any{"neq": "inProgress"}}, false},
		{"neq on missing field passes", Where{"missing": map[string]any{"neq": "x"}}, true},
		{"contains is case-insensitive", Where{"title": map[string]any{"contains": "widget"}}, true},
		{"contains misses", Where{"title": map[string]any{"contains": "parser"}}, false},
		{"in matches member", Where{"state": map[string]any{"in": []any{"queued", "inProgress"}}}, true},
		{"in misses", Where{"state": map[string]any{"in": []any{"queued", "failed"}}}, false},
		{"gt on numbers", Where{"steps": map[string]any{"gt": 4}}, true},
		{"gte boundary", Where{"steps": map[string]any{"gte": 5}}, true},
		{"lt excludes boundary", Where{"steps": map[string]any{"lt": 5}}, false},
		{"lte boundary", Where{"steps": map[string]any{"lte": 5}}, true},
		{"gt on RFC3339 strings", Where{"createTime": map[string]any{"gt": "2026-08-19T00:00:00Z"}}, true},
		{"lt on RFC3339 strings", Where{"createTime": map[string]any{"lt": "2026-08-19T00:00:00Z"}}, false},
		{"exists true", Where{"title": map[string]any{"exists": true}}, true},
		{"exists false on present field", Where{"title": map[string]any{"exists": false}}, false},
		{"exists false on missing field", Where{"missing": map[string]any{"exists": false}}, true},
		{"combined operators all apply", Where{"steps": map[string]any{"gte": 1, "lt": 5}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchWhere(doc, tt.where, nil))
		})
	}
}

func TestMatchWhereDotPathExistential(t *testing.T) {
	doc := map[string]any{
		"outputs": []any{
			map[string]any{"type": "pullRequest", "pullRequest": map[string]any{"url": "https://example.com/pr/1"}},
			map[string]any{"type": "other"},
		},
	}

	// Any element satisfying the path condition satisfies the clause.
	assert.True(t, matchWhere(doc, Where{"outputs.type": "pullRequest"}, nil))
	assert.True(t, matchWhere(doc, Where{"outputs.pullRequest.url": map[string]any{"exists": true}}, nil))
	assert.True(t, matchWhere(doc, Where{"outputs.pullRequest.url": map[string]any{"contains": "/pr/"}}, nil))
	assert.False(t, matchWhere(doc, Where{"outputs.type": "artifact"}, nil))
	assert.False(t, matchWhere(doc, Where{"outputs.missing.url": map[string]any{"exists": true}}, nil))
}

func TestMatchWhereSkipKeys(t *testing.T) {
	doc := map[string]any{"sessionId": "s1"}
	where := Where{"sessionId": "other"}

	assert.False(t, matchWhere(doc, where, nil))
	assert.True(t, matchWhere(doc, where, map[string]bool{"sessionId": true}))
}

func TestIsConditionObject(t *testing.T) {
	assert.True(t, isConditionObject(map[string]any{"eq": "x"}))
	assert.True(t, isConditionObject(map[string]any{"gte": 1, "lt": 5}))
	assert.False(t, isConditionObject(map[string]any{}))
	assert.False(t, isConditionObject(map[string]any{"url": "x"}))
	assert.False(t, isConditionObject("scalar"))
}

func TestResolvePathFansOutThroughArrays(t *testing.T) {
	doc := map[string]any{
		"plan": map[string]any{
			"steps": []any{
				map[string]any{"title": "one"},
				map[string]any{"title": "two"},
			},
		},
	}
	leaves := resolvePath(doc, []string{"plan", "steps", "title"})
	assert.ElementsMatch(t, []any{"one", "two"}, leaves)

	assert.Nil(t, resolvePath(doc, []string{"plan", "missing"}))
	assert.Nil(t, resolvePath(doc, []string{"plan", "steps", "title", "deeper"}))
}
