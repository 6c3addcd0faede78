package jules

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/common/logger"
	"github.com/julesfleet/julesfleet/internal/storage"
	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

// ActivityClient composes the per-session activity cache with the network
// adapter: cold reads come from storage, hot reads from polling, and every
// network-sourced activity is persisted before it reaches the caller.
type ActivityClient struct {
	sessionID    string
	store        storage.ActivityLog
	network      *NetworkAdapter
	frozenCutoff time.Duration
	logger       *logger.Logger
	now          func() time.Time
}

// NewActivityClient creates an activity client for one session.
func NewActivityClient(sessionID string, store storage.ActivityLog, network *NetworkAdapter, frozenCutoff time.Duration, log *logger.Logger) *ActivityClient {
	if frozenCutoff <= 0 {
		frozenCutoff = 30 * 24 * time.Hour
	}
	return &ActivityClient{
		sessionID:    sessionID,
		store:        store,
		network:      network,
		frozenCutoff: frozenCutoff,
		logger:       log.WithFields(zap.String("component", "activity_client"), zap.String("session_id", sessionID)),
		now:          time.Now,
	}
}

// Hydrate syncs new activities from the network into the cache and returns
// the count of newly cached activities. Sessions whose newest cached activity
// is older than the frozen cutoff are not polled at all.
func (c *ActivityClient) Hydrate(ctx context.Context) (int, error) {
	if err := c.store.Init(); err != nil {
		return 0, err
	}

	latest, haveLatest, err := c.store.Latest()
	if err != nil {
		return 0, err
	}
	if haveLatest && c.now().Sub(latest.CreateTime) > c.frozenCutoff {
		c.logger.Debug("session frozen, skipping hydrate",
			zap.Time("latest_activity", latest.CreateTime))
		return 0, nil
	}

	filter := ""
	if haveLatest {
		filter = fmt.Sprintf("createTime>%q", latest.CreateTime.Format(time.RFC3339))
	}

	added := 0
	pageToken := ""
	for {
		page, err := c.network.ListActivities(ctx, ListActivitiesOptions{
			Filter:    filter,
			PageToken: pageToken,
		})
		if err != nil {
			return added, err
		}
		for _, a := range page.Activities {
			if _, exists, err := c.store.Get(a.ID); err != nil {
				return added, err
			} else if exists {
				continue
			}
			if err := c.store.Append(a); err != nil {
				return added, err
			}
			added++
		}
		if page.NextPageToken == "" {
			return added, nil
		}
		pageToken = page.NextPageToken
	}
}

// History hydrates then returns all cached activities in storage order.
// Artifact rehydration happens during JSON decoding on the way in.
func (c *ActivityClient) History(ctx context.Context) ([]*v1.Activity, error) {
	if _, err := c.Hydrate(ctx); err != nil {
		return nil, err
	}
	return c.store.Scan()
}

// Updates is the hot stream: it derives a high-water-mark from the newest
// cached activity at call time, drains the raw polling stream, and yields
// only activities past the mark. Every yielded activity is persisted first
// (write-through), so a crash never loses an observed activity.
func (c *ActivityClient) Updates(ctx context.Context) *ActivityStream {
	stream, streamCtx := newActivityStream(ctx, 16)
	go func() {
		defer close(stream.ch)

		if err := c.store.Init(); err != nil {
			stream.fail(err)
			return
		}
		var markTime time.Time
		var lastSeenID string
		if latest, ok, err := c.store.Latest(); err != nil {
			stream.fail(err)
			return
		} else if ok {
			markTime = latest.CreateTime
			lastSeenID = latest.ID
		}

		raw := c.network.RawStream(streamCtx)
		defer raw.Stop()
		for a := range raw.C() {
			if a.CreateTime.Before(markTime) {
				continue
			}
			if a.CreateTime.Equal(markTime) && a.ID == lastSeenID {
				continue
			}
			if err := c.store.Append(a); err != nil {
				stream.fail(err)
				return
			}
			if !stream.emit(streamCtx, a) {
				return
			}
			markTime = a.CreateTime
			lastSeenID = a.ID
		}
		if err := raw.Err(); err != nil {
			stream.fail(err)
		}
	}()
	return stream
}

// Stream is the concatenation of History then Updates. Because Updates
// re-derives its mark at call time, nothing falls into the gap between the
// cold and hot halves.
func (c *ActivityClient) Stream(ctx context.Context) *ActivityStream {
	stream, streamCtx := newActivityStream(ctx, 16)
	go func() {
		defer close(stream.ch)

		history, err := c.History(streamCtx)
		if err != nil {
			stream.fail(err)
			return
		}
		for _, a := range history {
			if !stream.emit(streamCtx, a) {
				return
			}
		}

		updates := c.Updates(streamCtx)
		defer updates.Stop()
		for a := range updates.C() {
			if !stream.emit(streamCtx, a) {
				return
			}
		}
		if err := updates.Err(); err != nil {
			stream.fail(err)
		}
	}()
	return stream
}

// SelectOptions filters a local scan of cached activities. After and Before
// are exclusive id cursors.
type SelectOptions struct {
	After  string
	Before string
	Type   v1.ActivityType
	Limit  int
}

// Select linearly scans the cache. It never touches the network, which makes
// it safe for finite reads inside query evaluation.
func (c *ActivityClient) Select(ctx context.Context, opts SelectOptions) ([]*v1.Activity, error) {
	if err := c.store.Init(); err != nil {
		return nil, err
	}
	all, err := c.store.Scan()
	if err != nil {
		return nil, err
	}

	var out []*v1.Activity
	started := opts.After == ""
	for _, a := range all {
		if !started {
			if a.ID == opts.After {
				started = true
			}
			continue
		}
		if opts.Before != "" && a.ID == opts.Before {
			break
		}
		if opts.Type != "" && a.Type != opts.Type {
			continue
		}
		out = append(out, a)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Get is a read-through fetch by id: cache first, then the network with a
// write-through append.
func (c *ActivityClient) Get(ctx context.Context, id string) (*v1.Activity, error) {
	if err := c.store.Init(); err != nil {
		return nil, err
	}
	if a, ok, err := c.store.Get(id); err != nil {
		return nil, err
	} else if ok {
		return a, nil
	}
	a, err := c.network.FetchActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.store.Append(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Latest returns the newest n cached activities via the tail reader.
func (c *ActivityClient) Latest(n int) ([]*v1.Activity, error) {
	if err := c.store.Init(); err != nil {
		return nil, err
	}
	return c.store.TailLatest(n)
}
