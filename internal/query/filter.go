package query

import (
	"strings"
)

// matchWhere evaluates a where clause against a document. Keys in skip are
// ignored (used to exclude routing keys like sessionId). Dot keys are paths;
// path evaluation maps into arrays with existential (any-match) semantics.
func matchWhere(doc map[string]any, where Where, skip map[string]bool) bool {
	for key, cond := range where {
		if skip[key] {
			continue
		}
		var candidates []any
		if strings.Contains(key, ".") {
			candidates = resolvePath(doc, strings.Split(key, "."))
		} else if v, ok := doc[key]; ok {
			candidates = []any{v}
		}
		if !matchCondition(candidates, cond) {
			return false
		}
	}
	return true
}

// resolvePath walks a dot-path. When an intermediate value is an array the
// walk fans out into every element; the returned slice holds every reachable
// leaf value.
func resolvePath(value any, path []string) []any {
	if len(path) == 0 {
		if value == nil {
			return nil
		}
		return []any{value}
	}
	switch v := value.(type) {
	case map[string]any:
		child, ok := v[path[0]]
		if !ok {
			return nil
		}
		return resolvePath(child, path[1:])
	case []any:
		var out []any
		for _, elem := range v {
			out = append(out, resolvePath(elem, path)...)
		}
		return out
	default:
		return nil
	}
}

// matchCondition applies a scalar-equality or operator condition against the
// candidate values; any matching candidate satisfies the condition.
func matchCondition(candidates []any, cond any) bool {
	if !isConditionObject(cond) {
		for _, c := range candidates {
			if looseEqual(c, cond) {
				return true
			}
		}
		return false
	}

	ops := cond.(map[string]any)
	for op, operand := range ops {
		if !matchOperator(candidates, op, operand) {
			return false
		}
	}
	return true
}

func matchOperator(candidates []any, op string, operand any) bool {
	switch op {
	case "exists":
		want, _ := operand.(bool)
		has := false
		for _, c := range candidates {
			if c != nil {
				has = true
				break
			}
		}
		return has == want

	case "neq":
		for _, c := range candidates {
			if looseEqual(c, operand) {
				return false
			}
		}
		return true

	case "eq":
		return anyCandidate(candidates, func(c any) bool { return looseEqual(c, operand) })

	case "contains":
		needle, ok := operand.(string)
		if !ok {
			return false
		}
		needle = strings.ToLower(needle)
		return anyCandidate(candidates, func(c any) bool {
			s, ok := c.(string)
			return ok && strings.Contains(strings.ToLower(s), needle)
		})

	case "in":
		list, ok := operand.([]any)
		if !ok {
			return false
		}
		return anyCandidate(candidates, func(c any) bool {
			for _, item := range list {
				if looseEqual(c, item) {
					return true
				}
			}
			return false
		})

	case "gt", "gte", "lt", "lte":
		return anyCandidate(candidates, func(c any) bool {
			cmp, ok := compareValues(c, operand)
			if !ok {
				return false
			}
			switch op {
			case "gt":
				return cmp > 0
			case "gte":
				return cmp >= 0
			case "lt":
				return cmp < 0
			default:
				return cmp <= 0
			}
		})
	}
	return false
}

func anyCandidate(candidates []any, fn func(any) bool) bool {
	for _, c := range candidates {
		if fn(c) {
			return true
		}
	}
	return false
}

// looseEqual compares with JSON-style number normalisation.
func looseEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

// compareValues orders two values: numbers numerically, strings
// lexicographically (RFC 3339 timestamps order correctly as strings).
func compareValues(a, b any) (int, bool) {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
