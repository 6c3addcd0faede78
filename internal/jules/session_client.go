package jules

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/julesfleet/julesfleet/internal/common/config"
	"github.com/julesfleet/julesfleet/internal/common/logger"
	"github.com/julesfleet/julesfleet/internal/httpclient"
	"github.com/julesfleet/julesfleet/internal/platform"
	"github.com/julesfleet/julesfleet/internal/storage"
	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

// SessionClient drives one remote session: cached info reads, plan approval,
// messaging, waiting, and snapshots. It exclusively owns its ActivityClient.
type SessionClient struct {
	id       string
	http     *httpclient.Client
	cfg      config.APIConfig
	activity *ActivityClient
	sessions storage.SessionStore
	platform platform.Platform
	logger   *logger.Logger
	now      func() time.Time
}

// NewSessionClient builds a session client. A leading "sessions/" prefix on
// the id is stripped.
func NewSessionClient(id string, hc *httpclient.Client, cfg config.APIConfig, store storage.Provider, p platform.Platform, log *logger.Logger) *SessionClient {
	id = strings.TrimPrefix(id, "sessions/")
	network := NewNetworkAdapter(hc, id, cfg.PollingInterval(), log)
	return &SessionClient{
		id:       id,
		http:     hc,
		cfg:      cfg,
		activity: NewActivityClient(id, store.ActivityLog(id), network, cfg.FrozenSessionCutoff(), log),
		sessions: store.Sessions(),
		platform: p,
		logger:   log.WithFields(zap.String("component", "session_client"), zap.String("session_id", id)),
		now:      time.Now,
	}
}

// ID returns the normalised session id.
func (c *SessionClient) ID() string { return c.id }

// Activities exposes the session's activity client.
func (c *SessionClient) Activities() *ActivityClient { return c.activity }

// Info is a read-through fetch of the session resource with a short TTL on
// the cached envelope. A remote 404 purges the cached entry.
func (c *SessionClient) Info(ctx context.Context) (*v1.Session, error) {
	if err := c.sessions.Init(); err != nil {
		return nil, err
	}
	if envelope, ok, err := c.sessions.Get(c.id); err != nil {
		return nil, err
	} else if ok && c.isCacheValid(envelope) {
		return envelope.Resource, nil
	}
	return c.fetchInfo(ctx)
}

func (c *SessionClient) fetchInfo(ctx context.Context) (*v1.Session, error) {
	var session v1.Session
	err := c.http.Request(ctx, "sessions/"+c.id, httpclient.RequestOptions{}, &session)
	if err != nil {
		var ce *httpclient.Error
		if errors.As(err, &ce) && ce.Status == http.StatusNotFound {
			_ = c.sessions.Delete(c.id)
			return nil, fmt.Errorf("session %s: %w", c.id, ErrSessionNotFound)
		}
		return nil, err
	}
	if session.ID == "" {
		session.ID = strings.TrimPrefix(session.Name, "sessions/")
	}
	if err := c.sessions.Upsert(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *SessionClient) isCacheValid(envelope *v1.SessionEnvelope) bool {
	ttl := c.cfg.SessionInfoTTL()
	if ttl <= 0 {
		return false
	}
	age := c.now().UnixMilli() - envelope.LastSyncedAt
	return age >= 0 && age < ttl.Milliseconds()
}

// Approve approves the generated plan. The session must be awaiting plan
// approval.
func (c *SessionClient) Approve(ctx context.Context) error {
	info, err := c.fetchInfo(ctx)
	if err != nil {
		return err
	}
	if info.State != v1.SessionStateAwaitingPlanApproval {
		return &InvalidStateError{Current: info.State, Required: v1.SessionStateAwaitingPlanApproval}
	}
	return c.http.Request(ctx, "sessions/"+c.id+":approvePlan", httpclient.RequestOptions{
		Method: http.MethodPost,
		Body:   struct{}{},
	}, nil)
}

// Send posts a message to the session, fire-and-forget.
func (c *SessionClient) Send(ctx context.Context, prompt string) error {
	return c.http.Request(ctx, "sessions/"+c.id+":sendMessage", httpclient.RequestOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"prompt": prompt},
	}, nil)
}

// Ask sends a prompt and blocks until the agent replies. Activities created
// at or before the send instant and user-originated activities are ignored.
// A session that terminates before replying yields ErrSessionEnded.
func (c *SessionClient) Ask(ctx context.Context, prompt string) (string, error) {
	t0 := c.now()
	if err := c.Send(ctx, prompt); err != nil {
		return "", err
	}

	stream := c.activity.Stream(ctx)
	defer stream.Stop()
	for a := range stream.C() {
		if a.Originator == v1.OriginatorUser {
			continue
		}
		if !a.CreateTime.After(t0) {
			continue
		}
		if a.Type == v1.ActivityAgentMessaged {
			return a.Message, nil
		}
		if a.IsTerminal() {
			return "", fmt.Errorf("session %s: %w", c.id, ErrSessionEnded)
		}
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("session %s: %w", c.id, ErrSessionEnded)
}

// WaitFor polls session info until the state equals target or the session
// reaches a terminal state.
func (c *SessionClient) WaitFor(ctx context.Context, target v1.SessionState) (*v1.Session, error) {
	for {
		info, err := c.fetchInfo(ctx)
		if err != nil {
			return nil, err
		}
		if info.State == target || info.State.IsTerminal() {
			return info, nil
		}
		if err := c.platform.Sleep(ctx, c.cfg.PollingInterval()); err != nil {
			return nil, err
		}
	}
}

// ResultOptions configures Result.
type ResultOptions struct {
	Timeout time.Duration
}

// Result polls until the session is terminal. The final resource is
// persisted before returning. A failed session yields SessionFailedError; an
// expired timeout yields ErrResultTimeout.
func (c *SessionClient) Result(ctx context.Context, opts ResultOptions) (*v1.Session, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	for {
		info, err := c.fetchInfo(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("session %s: %w", c.id, ErrResultTimeout)
			}
			return nil, err
		}
		if info.State.IsTerminal() {
			if err := c.sessions.Upsert(info); err != nil {
				return nil, err
			}
			if info.State == v1.SessionStateFailed {
				return info, &SessionFailedError{Session: info}
			}
			return info, nil
		}
		if err := c.platform.Sleep(ctx, c.cfg.PollingInterval()); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("session %s: %w", c.id, ErrResultTimeout)
			}
			return nil, err
		}
	}
}

// StreamOptions configures Stream.
type StreamOptions struct {
	Exclude []v1.Originator
}

// Stream yields the session's activity stream with optional originator
// exclusion applied locally.
func (c *SessionClient) Stream(ctx context.Context, opts StreamOptions) *ActivityStream {
	inner := c.activity.Stream(ctx)
	if len(opts.Exclude) == 0 {
		return inner
	}
	excluded := make(map[v1.Originator]bool, len(opts.Exclude))
	for _, o := range opts.Exclude {
		excluded[o] = true
	}

	filtered, filterCtx := newActivityStream(ctx, 16)
	go func() {
		defer close(filtered.ch)
		defer inner.Stop()
		for a := range inner.C() {
			if excluded[a.Originator] {
				continue
			}
			if !filtered.emit(filterCtx, a) {
				return
			}
		}
		if err := inner.Err(); err != nil {
			filtered.fail(err)
		}
	}()
	return filtered
}

// Snapshot composes the session resource with its full activity history and
// derived fields. Info and history are fetched in parallel.
func (c *SessionClient) Snapshot(ctx context.Context) (*v1.SessionSnapshot, error) {
	var (
		info       *v1.Session
		activities []*v1.Activity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = c.Info(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		activities, err = c.activity.History(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return buildSnapshot(info, activities), nil
}
