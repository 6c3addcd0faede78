// Package jules is the SDK core: it turns remote coding sessions into
// locally observable activity streams backed by a persistent write-through
// cache.
package jules

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/common/config"
	"github.com/julesfleet/julesfleet/internal/common/logger"
	"github.com/julesfleet/julesfleet/internal/events/bus"
	"github.com/julesfleet/julesfleet/internal/httpclient"
	"github.com/julesfleet/julesfleet/internal/platform"
	"github.com/julesfleet/julesfleet/internal/storage"
	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

// ErrSourceNotFound is returned when a repository source is unknown to the
// Agent API.
var ErrSourceNotFound = errors.New("source not found")

// Client is the top-level SDK entry point. It owns the HTTP client, the
// platform adapter, the storage provider, and session-client creation. It is
// stateless after construction.
type Client struct {
	http     *httpclient.Client
	platform platform.Platform
	store    storage.Provider
	bus      bus.EventBus
	cfg      *config.Config
	logger   *logger.Logger
}

// Options configures Connect. Zero values select defaults: configuration
// from the environment, OS platform, file storage under the cache root, and
// the in-memory event bus.
type Options struct {
	APIKey   string
	Config   *config.Config
	Platform platform.Platform
	Store    storage.Provider
	Bus      bus.EventBus
	Logger   *logger.Logger
}

// Connect builds a client from options plus environment defaults.
func Connect(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.APIKey != "" {
		cfg.API.Key = opts.APIKey
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	p := opts.Platform
	if p == nil {
		p = platform.NewOS()
	}
	store := opts.Store
	if store == nil {
		store = storage.New(cfg.CacheRoot(), cfg.Cache.ForceMemory, log)
	}
	eventBus := opts.Bus
	if eventBus == nil {
		var err error
		eventBus, err = bus.FromConfig(cfg.NATS, log)
		if err != nil {
			return nil, err
		}
	}

	hc := httpclient.New(httpclient.Options{
		APIKey:                cfg.API.Key,
		BaseURL:               cfg.API.BaseURL,
		Timeout:               cfg.API.Timeout(),
		Retry:                 cfg.API.Retry,
		MaxConcurrentRequests: cfg.API.MaxConcurrentRequests,
		Logger:                log,
	})

	return &Client{
		http:     hc,
		platform: p,
		store:    store,
		bus:      eventBus,
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "jules_client")),
	}, nil
}

var (
	defaultClient     *Client
	defaultClientErr  error
	defaultClientOnce sync.Once
)

// Default returns the lazily-initialised process-wide client built from
// environment and platform defaults.
func Default() (*Client, error) {
	defaultClientOnce.Do(func() {
		defaultClient, defaultClientErr = Connect(Options{})
	})
	return defaultClient, defaultClientErr
}

// Overrides derives a client with different credentials or configuration.
type Overrides struct {
	APIKey string
	Config *config.Config
}

// With returns a derived client sharing storage, platform, and event bus,
// but carrying its own configuration and HTTP client.
func (c *Client) With(overrides Overrides) *Client {
	cfg := c.cfg
	if overrides.Config != nil {
		cfg = overrides.Config
	}
	apiKey := cfg.API.Key
	if overrides.APIKey != "" {
		apiKey = overrides.APIKey
	}
	hc := httpclient.New(httpclient.Options{
		APIKey:                apiKey,
		BaseURL:               cfg.API.BaseURL,
		Timeout:               cfg.API.Timeout(),
		Retry:                 cfg.API.Retry,
		MaxConcurrentRequests: cfg.API.MaxConcurrentRequests,
		Logger:                c.logger,
	})
	return &Client{
		http:     hc,
		platform: c.platform,
		store:    c.store,
		bus:      c.bus,
		cfg:      cfg,
		logger:   c.logger,
	}
}

// Store exposes the storage provider for index scans (query engine).
func (c *Client) Store() storage.Provider { return c.store }

// Session returns a session client bound to an existing session id.
func (c *Client) Session(id string) *SessionClient {
	return NewSessionClient(id, c.http, c.cfg.API, c.store, c.platform, c.logger)
}

// GitHubSource identifies a repository plus base branch for new sessions.
type GitHubSource struct {
	Owner      string
	Repo       string
	BaseBranch string
}

// SessionConfig describes a session to create. RequireApproval defaults to
// true (interactive sessions); AutoPR maps to the API's automation mode.
type SessionConfig struct {
	Prompt          string
	Source          GitHubSource
	Title           string
	RequireApproval *bool
	AutoPR          bool
}

// CreateSession creates a remote session, persists it, and returns its
// client.
func (c *Client) CreateSession(ctx context.Context, cfg SessionConfig) (*SessionClient, error) {
	requireApproval := true
	if cfg.RequireApproval != nil {
		requireApproval = *cfg.RequireApproval
	}
	automationMode := "AUTOMATION_MODE_UNSPECIFIED"
	if cfg.AutoPR {
		automationMode = "AUTO_CREATE_PR"
	}

	body := map[string]any{
		"prompt": cfg.Prompt,
		"sourceContext": map[string]any{
			"source": fmt.Sprintf("sources/github/%s/%s", cfg.Source.Owner, cfg.Source.Repo),
			"githubRepoContext": map[string]any{
				"startingBranch": cfg.Source.BaseBranch,
			},
		},
		"automationMode":      automationMode,
		"requirePlanApproval": requireApproval,
	}
	if cfg.Title != "" {
		body["title"] = cfg.Title
	}

	var session v1.Session
	err := c.http.Request(ctx, "sessions", httpclient.RequestOptions{
		Method: http.MethodPost,
		Body:   body,
	}, &session)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		session.ID = strings.TrimPrefix(session.Name, "sessions/")
	}

	sessions := c.store.Sessions()
	if err := sessions.Init(); err != nil {
		return nil, err
	}
	if err := sessions.Upsert(&session); err != nil {
		return nil, err
	}
	c.logger.Info("session created", zap.String("session_id", session.ID))
	return c.Session(session.ID), nil
}

// Source resolves a GitHub repository against the Agent API.
func (c *Client) Source(ctx context.Context, owner, repo string) (*v1.SourceResource, error) {
	var source v1.SourceResource
	endpoint := fmt.Sprintf("sources/github/%s/%s", owner, repo)
	err := c.http.Request(ctx, endpoint, httpclient.RequestOptions{}, &source)
	if err != nil {
		var ce *httpclient.Error
		if errors.As(err, &ce) && ce.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%s/%s: %w", owner, repo, ErrSourceNotFound)
		}
		return nil, err
	}
	return &source, nil
}

// AutomatedSession is the facade returned by Run: a stream plus a terminal
// result.
type AutomatedSession struct {
	session *SessionClient
}

// ID returns the underlying session id.
func (s *AutomatedSession) ID() string { return s.session.ID() }

// Session exposes the underlying session client.
func (s *AutomatedSession) Session() *SessionClient { return s.session }

// Stream yields the session's activity stream.
func (s *AutomatedSession) Stream(ctx context.Context) *ActivityStream {
	return s.session.Stream(ctx, StreamOptions{})
}

// Result resolves on the session's terminal state.
func (s *AutomatedSession) Result(ctx context.Context, opts ResultOptions) (*v1.Session, error) {
	return s.session.Result(ctx, opts)
}

// Run creates an automated session: approval off and auto-PR on unless the
// config says otherwise.
func (c *Client) Run(ctx context.Context, cfg SessionConfig) (*AutomatedSession, error) {
	if cfg.RequireApproval == nil {
		noApproval := false
		cfg.RequireApproval = &noApproval
	}
	cfg.AutoPR = true
	session, err := c.CreateSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &AutomatedSession{session: session}, nil
}
