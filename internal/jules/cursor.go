package jules

import (
	"context"
	"strconv"

	"github.com/julesfleet/julesfleet/internal/httpclient"
	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

// SessionsOptions configures a sessions listing.
type SessionsOptions struct {
	PageSize  int
	PageToken string
	Limit     int
	Filter    string
}

type sessionsPage struct {
	Sessions      []*v1.Session `json:"sessions"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

// SessionsCursor pages through the sessions listing. It supports both a
// single-page read (NextPage) and full iteration (Next / Drain) across pages
// until exhaustion or the configured limit. Every fetched page is upserted
// into session storage (write-through).
type SessionsCursor struct {
	client    *Client
	opts      SessionsOptions
	pageToken string
	started   bool
	exhausted bool
	buffer    []*v1.Session
	yielded   int
}

// Sessions returns a cursor over the remote sessions listing.
func (c *Client) Sessions(opts SessionsOptions) *SessionsCursor {
	return &SessionsCursor{
		client:    c,
		opts:      opts,
		pageToken: opts.PageToken,
	}
}

// NextPage fetches one page and returns it with the next page token.
func (cur *SessionsCursor) NextPage(ctx context.Context) ([]*v1.Session, string, error) {
	query := map[string]string{}
	if cur.opts.PageSize > 0 {
		query["pageSize"] = strconv.Itoa(cur.opts.PageSize)
	}
	if cur.pageToken != "" {
		query["pageToken"] = cur.pageToken
	}
	if cur.opts.Filter != "" {
		query["filter"] = cur.opts.Filter
	}

	var page sessionsPage
	if err := cur.client.http.Request(ctx, "sessions", httpclient.RequestOptions{Query: query}, &page); err != nil {
		return nil, "", err
	}

	for _, s := range page.Sessions {
		if s.ID == "" {
			s.ID = trimSessionsPrefix(s.Name)
		}
	}

	sessions := cur.client.store.Sessions()
	if err := sessions.Init(); err != nil {
		return nil, "", err
	}
	if err := sessions.UpsertMany(page.Sessions); err != nil {
		return nil, "", err
	}

	cur.started = true
	cur.pageToken = page.NextPageToken
	if page.NextPageToken == "" {
		cur.exhausted = true
	}
	return page.Sessions, page.NextPageToken, nil
}

// Next yields the next session, fetching pages as needed. ok is false when
// the cursor is exhausted or the limit is reached.
func (cur *SessionsCursor) Next(ctx context.Context) (session *v1.Session, ok bool, err error) {
	if cur.opts.Limit > 0 && cur.yielded >= cur.opts.Limit {
		return nil, false, nil
	}
	for len(cur.buffer) == 0 {
		if cur.started && cur.exhausted {
			return nil, false, nil
		}
		page, _, err := cur.NextPage(ctx)
		if err != nil {
			return nil, false, err
		}
		cur.buffer = append(cur.buffer, page...)
		if len(cur.buffer) == 0 && cur.exhausted {
			return nil, false, nil
		}
	}
	session = cur.buffer[0]
	cur.buffer = cur.buffer[1:]
	cur.yielded++
	return session, true, nil
}

// Drain collects all remaining sessions up to the limit.
func (cur *SessionsCursor) Drain(ctx context.Context) ([]*v1.Session, error) {
	var out []*v1.Session
	for {
		s, ok, err := cur.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, s)
	}
}

func trimSessionsPrefix(name string) string {
	const prefix = "sessions/"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):]
	}
	return name
}
