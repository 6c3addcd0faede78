// Package query implements the structured query language over cached
// sessions and activities: filter operators, existential dot-path matching,
// projection with wildcard and exclusion, computed fields, virtual joins,
// and cursor pagination.
package query

// Domain selects the queried collection.
type Domain string

const (
	DomainSessions   Domain = "sessions"
	DomainActivities Domain = "activities"
)

// Order is the sort direction on (createTime, id).
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Where is a filter clause: field (or dot-path) to scalar or operator object.
type Where map[string]any

// IncludeActivities joins matching activities onto each session result.
// The zero value includes all cached activities.
type IncludeActivities struct {
	Where Where
	Limit int
}

// IncludeSession joins the owning session onto each activity result.
type IncludeSession struct {
	Select []string
}

// Include describes cross-domain virtual joins.
type Include struct {
	Activities *IncludeActivities
	Session    *IncludeSession
}

// Query is a structured query over a domain.
type Query struct {
	From       Domain
	Where      Where
	Select     []string // nil: per-domain default; empty: full doc + computed
	Order      Order    // default desc
	Limit      int
	StartAt    string // inclusive id cursor
	StartAfter string // exclusive id cursor
	Include    *Include
}

// Operator keys recognised inside a condition object.
var operatorKeys = map[string]bool{
	"eq": true, "neq": true, "contains": true,
	"gt": true, "gte": true, "lt": true, "lte": true,
	"in": true, "exists": true,
}

// isConditionObject reports whether v is an operator object rather than a
// scalar (or structural) equality target.
func isConditionObject(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return false
	}
	for k := range m {
		if !operatorKeys[k] {
			return false
		}
	}
	return true
}
