package query

import "strings"

// Project applies a select expression list to a document:
//   - "field" / "a.b.c" include a field or path
//   - "-a.b" excludes a path
//   - "*" includes everything (exclusions still apply)
//
// With a wildcard the document is deep-cloned then exclusions are deleted.
// Without one, inclusions are grouped by top-level key; arrays are projected
// element-wise; nested objects recurse. An empty list returns the full
// document.
func Project(doc map[string]any, selects []string) map[string]any {
	if len(selects) == 0 {
		return deepClone(doc).(map[string]any)
	}

	var includes [][]string
	var excludes [][]string
	wildcard := false
	for _, expr := range selects {
		switch {
		case expr == "*":
			wildcard = true
		case strings.HasPrefix(expr, "-"):
			excludes = append(excludes, strings.Split(expr[1:], "."))
		default:
			includes = append(includes, strings.Split(expr, "."))
		}
	}

	var out map[string]any
	if wildcard {
		out = deepClone(doc).(map[string]any)
	} else {
		out = projectInclude(doc, includes)
	}
	for _, path := range excludes {
		deletePath(out, path)
	}
	return out
}

// projectInclude builds a document holding only the included paths.
func projectInclude(doc map[string]any, paths [][]string) map[string]any {
	out := make(map[string]any)
	grouped := make(map[string][][]string)
	var order []string
	for _, path := range paths {
		if len(path) == 0 {
			continue
		}
		head := path[0]
		if _, seen := grouped[head]; !seen {
			order = append(order, head)
		}
		grouped[head] = append(grouped[head], path[1:])
	}

	for _, head := range order {
		value, ok := doc[head]
		if !ok {
			continue
		}
		tails := grouped[head]
		wholeValue := false
		var subpaths [][]string
		for _, tail := range tails {
			if len(tail) == 0 {
				wholeValue = true
			} else {
				subpaths = append(subpaths, tail)
			}
		}
		if wholeValue {
			out[head] = deepClone(value)
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			out[head] = projectInclude(v, subpaths)
		case []any:
			projected := make([]any, 0, len(v))
			for _, elem := range v {
				if m, ok := elem.(map[string]any); ok {
					projected = append(projected, projectInclude(m, subpaths))
				} else {
					projected = append(projected, deepClone(elem))
				}
			}
			out[head] = projected
		default:
			// A path descends into a scalar: nothing to include.
		}
	}
	return out
}

// deletePath removes a path from a document. Arrays along the path have the
// field deleted from every element.
func deletePath(value any, path []string) {
	if len(path) == 0 {
		return
	}
	switch v := value.(type) {
	case map[string]any:
		if len(path) == 1 {
			delete(v, path[0])
			return
		}
		if child, ok := v[path[0]]; ok {
			deletePath(child, path[1:])
		}
	case []any:
		for _, elem := range v {
			deletePath(elem, path)
		}
	}
}

// deepClone copies a JSON-shaped value.
func deepClone(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = deepClone(elem)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = deepClone(elem)
		}
		return out
	default:
		return v
	}
}
