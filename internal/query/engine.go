package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/async"
	"github.com/julesfleet/julesfleet/internal/common/logger"
	"github.com/julesfleet/julesfleet/internal/jules"
	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

// Engine evaluates queries against the cache, reaching the network only
// through read-through session info fetches. Activity reads are always
// finite cache scans.
type Engine struct {
	client *jules.Client
	logger *logger.Logger
}

// NewEngine builds a query engine over a connected client.
func NewEngine(client *jules.Client, log *logger.Logger) *Engine {
	return &Engine{
		client: client,
		logger: log.WithFields(zap.String("component", "query_engine")),
	}
}

// indexSessionKeys are session filters answerable from the index alone,
// without hydrating the full resource.
var indexSessionKeys = map[string]bool{
	"id": true, "state": true, "title": true, "search": true,
}

// row pairs a result document with its sort key. Include payloads are kept
// aside so projection cannot strip them.
type row struct {
	doc        map[string]any
	includes   map[string]any
	createTime time.Time
	id         string
}

// Execute runs a query and returns projected documents.
func (e *Engine) Execute(ctx context.Context, q Query) ([]map[string]any, error) {
	var (
		rows []row
		err  error
	)
	switch q.From {
	case DomainSessions:
		rows, err = e.evalSessions(ctx, q)
	case DomainActivities:
		rows, err = e.evalActivities(ctx, q)
	default:
		return nil, fmt.Errorf("unknown query domain %q", q.From)
	}
	if err != nil {
		return nil, err
	}

	sortRows(rows, q.Order)

	rows, ok := applyCursor(rows, q.StartAt, q.StartAfter)
	if !ok {
		return []map[string]any{}, nil
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	selects := q.Select
	if selects == nil {
		if q.From == DomainActivities {
			selects = defaultActivitySelect
		} else {
			selects = defaultSessionSelect
		}
	}

	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		doc := Project(r.doc, selects)
		for k, v := range r.includes {
			doc[k] = v
		}
		out = append(out, doc)
	}
	return out, nil
}

// evalSessions runs the three-pass session pipeline: index-only filters,
// hydrated dot-path filters, then activity joins.
func (e *Engine) evalSessions(ctx context.Context, q Query) ([]row, error) {
	sessions := e.client.Store().Sessions()
	if err := sessions.Init(); err != nil {
		return nil, err
	}
	entries, err := sessions.ScanIndex()
	if err != nil {
		return nil, err
	}

	docWhere := make(Where)
	indexWhere := make(Where)
	for key, cond := range q.Where {
		if indexSessionKeys[key] && !strings.Contains(key, ".") {
			indexWhere[key] = cond
		} else {
			docWhere[key] = cond
		}
	}

	var rows []row
	for _, entry := range entries {
		if !matchIndexEntry(entry, indexWhere) {
			continue
		}
		envelope, ok, err := sessions.Get(entry.ID)
		if err != nil {
			return nil, err
		}
		if !ok || envelope.Resource == nil {
			continue
		}
		doc, err := toDoc(envelope.Resource)
		if err != nil {
			return nil, err
		}
		if !matchWhere(doc, docWhere, nil) {
			continue
		}
		injectSessionComputed(doc, envelope.Resource)

		r := row{doc: doc, createTime: envelope.Resource.CreateTime, id: entry.ID}
		if q.Include != nil && q.Include.Activities != nil {
			joined, err := e.joinActivities(ctx, entry.ID, q.Include.Activities)
			if err != nil {
				return nil, err
			}
			r.includes = map[string]any{"activities": joined}
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// joinActivities attaches cached activities matching the include clause.
func (e *Engine) joinActivities(ctx context.Context, sessionID string, inc *IncludeActivities) ([]any, error) {
	activities, err := e.client.Session(sessionID).Activities().Select(ctx, jules.SelectOptions{})
	if err != nil {
		return nil, err
	}
	joined := make([]any, 0, len(activities))
	for _, a := range activities {
		doc, err := toDoc(a)
		if err != nil {
			return nil, err
		}
		doc["sessionId"] = sessionID
		if !matchWhere(doc, inc.Where, nil) {
			continue
		}
		injectActivityComputed(doc, a)
		joined = append(joined, doc)
		if inc.Limit > 0 && len(joined) >= inc.Limit {
			break
		}
	}
	return joined, nil
}

// evalActivities scatter-gathers cached activity logs. A scalar (or eq)
// sessionId filter routes to a single log; otherwise every indexed session
// is scanned.
func (e *Engine) evalActivities(ctx context.Context, q Query) ([]row, error) {
	sessionIDs, routed, err := e.routeSessions(q.Where)
	if err != nil {
		return nil, err
	}
	skip := map[string]bool{}
	if routed {
		skip["sessionId"] = true
	}

	var rows []row
	for _, sid := range sessionIDs {
		activities, err := e.client.Session(sid).Activities().Select(ctx, jules.SelectOptions{})
		if err != nil {
			return nil, err
		}
		for _, a := range activities {
			doc, err := toDoc(a)
			if err != nil {
				return nil, err
			}
			doc["sessionId"] = sid
			if !matchWhere(doc, q.Where, skip) {
				continue
			}
			injectActivityComputed(doc, a)
			rows = append(rows, row{doc: doc, createTime: a.CreateTime, id: a.ID})
		}
	}

	if q.Include != nil && q.Include.Session != nil {
		if err := e.joinSessions(ctx, rows, q.Include.Session); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// routeSessions resolves which activity logs a query must scan.
func (e *Engine) routeSessions(where Where) ([]string, bool, error) {
	if cond, ok := where["sessionId"]; ok {
		if s, ok := cond.(string); ok && s != "" {
			return []string{s}, true, nil
		}
		if m, ok := cond.(map[string]any); ok && len(m) == 1 {
			if s, ok := m["eq"].(string); ok && s != "" {
				return []string{s}, true, nil
			}
		}
	}
	sessions := e.client.Store().Sessions()
	if err := sessions.Init(); err != nil {
		return nil, false, err
	}
	entries, err := sessions.ScanIndex()
	if err != nil {
		return nil, false, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	return ids, false, nil
}

// joinSessions attaches the owning session document to each activity row.
// One info fetch per distinct session, prefetched concurrently; a session
// that cannot be fetched is logged and left unattached.
func (e *Engine) joinSessions(ctx context.Context, rows []row, inc *IncludeSession) error {
	var ids []string
	seen := make(map[string]bool)
	for _, r := range rows {
		sid, _ := r.doc["sessionId"].(string)
		if sid == "" || seen[sid] {
			continue
		}
		seen[sid] = true
		ids = append(ids, sid)
	}
	if len(ids) == 0 {
		return nil
	}

	selects := inc.Select
	if selects == nil {
		selects = defaultSessionSelect
	}

	docs, err := async.Map(ctx, ids, async.MapOptions{Concurrency: 5},
		func(ctx context.Context, sid string, _ int) (map[string]any, error) {
			info, err := e.client.Session(sid).Info(ctx)
			if err != nil {
				return nil, err
			}
			doc, err := toDoc(info)
			if err != nil {
				return nil, err
			}
			injectSessionComputed(doc, info)
			return Project(doc, selects), nil
		})
	if err != nil {
		e.logger.Warn("session join incomplete", zap.Error(err))
	}

	byID := make(map[string]map[string]any, len(ids))
	for i, sid := range ids {
		if i < len(docs) && docs[i] != nil {
			byID[sid] = docs[i]
		}
	}
	for i := range rows {
		sid, _ := rows[i].doc["sessionId"].(string)
		if doc, ok := byID[sid]; ok {
			if rows[i].includes == nil {
				rows[i].includes = map[string]any{}
			}
			rows[i].includes["session"] = doc
		}
	}
	return nil
}

// sortRows orders rows by (createTime, id) in one uniform direction.
func sortRows(rows []row, order Order) {
	desc := order != OrderAsc
	sort.SliceStable(rows, func(i, j int) bool {
		cmp := rows[i].createTime.Compare(rows[j].createTime)
		if cmp == 0 {
			cmp = strings.Compare(rows[i].id, rows[j].id)
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// applyCursor slices rows at an id cursor: startAt is inclusive, startAfter
// exclusive. A cursor id absent from the ordered rows yields no results.
func applyCursor(rows []row, startAt, startAfter string) ([]row, bool) {
	cursor := startAt
	inclusive := true
	if cursor == "" {
		cursor = startAfter
		inclusive = false
	}
	if cursor == "" {
		return rows, true
	}
	for i, r := range rows {
		if r.id == cursor {
			if inclusive {
				return rows[i:], true
			}
			return rows[i+1:], true
		}
	}
	return nil, false
}

// matchIndexEntry evaluates index-only session filters.
func matchIndexEntry(entry v1.SessionIndexEntry, where Where) bool {
	for key, cond := range where {
		switch key {
		case "id":
			if !matchCondition([]any{entry.ID}, cond) {
				return false
			}
		case "state":
			if !matchCondition([]any{string(entry.State)}, cond) {
				return false
			}
		case "title":
			if !matchCondition([]any{entry.Title}, cond) {
				return false
			}
		case "search":
			needle, ok := cond.(string)
			if !ok {
				return false
			}
			if !strings.Contains(strings.ToLower(entry.Title), strings.ToLower(needle)) {
				return false
			}
		}
	}
	return true
}
