package jules

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/common/logger"
	"github.com/julesfleet/julesfleet/internal/httpclient"
	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

// NetworkAdapter wraps the HTTP client with the per-session activity
// endpoints of the Agent API.
type NetworkAdapter struct {
	http            *httpclient.Client
	sessionID       string
	pollingInterval time.Duration
	logger          *logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// ListActivitiesOptions mirrors the list endpoint's query parameters.
type ListActivitiesOptions struct {
	PageSize  int
	PageToken string
	Filter    string
}

// ActivityPage is one page of the activities list.
type ActivityPage struct {
	Activities    []*v1.Activity `json:"activities"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

// NewNetworkAdapter creates an adapter bound to one session.
func NewNetworkAdapter(hc *httpclient.Client, sessionID string, pollingInterval time.Duration, log *logger.Logger) *NetworkAdapter {
	if pollingInterval <= 0 {
		pollingInterval = 5 * time.Second
	}
	return &NetworkAdapter{
		http:            hc,
		sessionID:       sessionID,
		pollingInterval: pollingInterval,
		logger:          log.WithFields(zap.String("component", "network_adapter"), zap.String("session_id", sessionID)),
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// FetchActivity retrieves a single activity by id.
func (n *NetworkAdapter) FetchActivity(ctx context.Context, id string) (*v1.Activity, error) {
	var activity v1.Activity
	endpoint := fmt.Sprintf("sessions/%s/activities/%s", n.sessionID, id)
	if err := n.request404Retry(ctx, endpoint, nil, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// ListActivities retrieves one page of activities.
func (n *NetworkAdapter) ListActivities(ctx context.Context, opts ListActivitiesOptions) (*ActivityPage, error) {
	query := map[string]string{}
	if opts.PageSize > 0 {
		query["pageSize"] = strconv.Itoa(opts.PageSize)
	}
	if opts.PageToken != "" {
		query["pageToken"] = opts.PageToken
	}
	if opts.Filter != "" {
		query["filter"] = opts.Filter
	}
	var page ActivityPage
	endpoint := fmt.Sprintf("sessions/%s/activities", n.sessionID)
	if err := n.request404Retry(ctx, endpoint, query, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// request404Retry retries once with a short backoff on 404: the activities
// sub-resource is eventually consistent immediately after session creation.
func (n *NetworkAdapter) request404Retry(ctx context.Context, endpoint string, query map[string]string, out any) error {
	err := n.http.Request(ctx, endpoint, httpclient.RequestOptions{Query: query}, out)
	var ce *httpclient.Error
	if err == nil || !errors.As(err, &ce) || ce.Status != http.StatusNotFound {
		return err
	}
	n.logger.Debug("activities not yet visible, retrying once")
	if serr := n.sleep(ctx, 500*time.Millisecond); serr != nil {
		return err
	}
	return n.http.Request(ctx, endpoint, httpclient.RequestOptions{Query: query}, out)
}

// RawStream polls the list endpoint forever, yielding every returned
// activity. Pages chain immediately; an exhausted listing sleeps for the
// polling interval and re-lists from the start. Deduplication is the
// caller's responsibility.
func (n *NetworkAdapter) RawStream(ctx context.Context) *ActivityStream {
	stream, streamCtx := newActivityStream(ctx, 16)
	go func() {
		defer close(stream.ch)
		pageToken := ""
		for {
			page, err := n.ListActivities(streamCtx, ListActivitiesOptions{PageToken: pageToken})
			if err != nil {
				if streamCtx.Err() == nil {
					stream.fail(err)
				}
				return
			}
			for _, a := range page.Activities {
				if !stream.emit(streamCtx, a) {
					return
				}
			}
			if page.NextPageToken != "" {
				pageToken = page.NextPageToken
				continue
			}
			pageToken = ""
			if err := n.sleep(streamCtx, n.pollingInterval); err != nil {
				return
			}
		}
	}()
	return stream
}
