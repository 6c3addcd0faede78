// Package main is the julesfleet CLI: fleet orchestration handlers plus
// cache synchronisation, wired onto the SDK client and the forge client.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/common/config"
	"github.com/julesfleet/julesfleet/internal/common/logger"
	"github.com/julesfleet/julesfleet/internal/events/bus"
	"github.com/julesfleet/julesfleet/internal/fleet"
	"github.com/julesfleet/julesfleet/internal/forge"
	"github.com/julesfleet/julesfleet/internal/jules"
	"github.com/julesfleet/julesfleet/internal/query"
)

const usage = `Usage: julesfleet <command> [flags]

Commands:
  init       Bootstrap a repository for fleet orchestration
  configure  Create or delete the fleet label set
  analyze    Dispatch analyzer sessions for goal files
  dispatch   Dispatch worker sessions for a milestone
  merge      Sequentially merge ready pull requests
  trace      Reconstruct the dispatch-to-merge chain
  overlap    Report files claimed by multiple issues in a milestone
  signal     Record an analyzer signal as an issue
  sync       Synchronise the local session cache
  query      Run a structured query over cached sessions and activities
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := &cli{cfg: cfg, logger: log}
	if err := app.run(ctx, args[0], args[1:]); err != nil {
		log.Error("command failed", zap.String("command", args[0]), zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cli struct {
	cfg    *config.Config
	logger *logger.Logger
}

func (c *cli) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "init":
		return c.runInit(ctx, args)
	case "configure":
		return c.runConfigure(ctx, args)
	case "analyze":
		return c.runAnalyze(ctx, args)
	case "dispatch":
		return c.runDispatch(ctx, args)
	case "merge":
		return c.runMerge(ctx, args)
	case "trace":
		return c.runTrace(ctx, args)
	case "overlap":
		return c.runOverlap(ctx, args)
	case "signal":
		return c.runSignal(ctx, args)
	case "sync":
		return c.runSync(ctx, args)
	case "query":
		return c.runQuery(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (c *cli) sdk() (*jules.Client, error) {
	return jules.Connect(jules.Options{Config: c.cfg, Logger: c.logger})
}

func (c *cli) orchestrator() (*fleet.Orchestrator, error) {
	client, err := c.sdk()
	if err != nil {
		return nil, err
	}
	forgeClient, err := forge.NewFromEnv(os.Getenv, c.logger)
	if err != nil {
		return nil, err
	}
	eventBus, err := bus.FromConfig(c.cfg.NATS, c.logger)
	if err != nil {
		return nil, err
	}
	base := c.cfg.Fleet.BaseBranch
	if env := os.Getenv("FLEET_BASE_BRANCH"); env != "" {
		base = env
	}
	return fleet.New(forgeClient, fleet.NewJulesDispatcher(client), eventBus, base, c.logger), nil
}

// report prints a handler result as JSON and maps failure to an error.
func report[T any](result fleet.Result[T]) error {
	if !result.IsOK() {
		herr := result.Err()
		if herr.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", herr.Suggestion)
		}
		return herr
	}
	encoded, err := json.MarshalIndent(result.Data(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func (c *cli) runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	base := fs.String("base", "", "base branch (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	o, err := c.orchestrator()
	if err != nil {
		return err
	}
	return report(o.Init(ctx, fleet.InitInput{BaseBranch: *base}))
}

func (c *cli) runConfigure(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("configure", flag.ExitOnError)
	action := fs.String("action", "create", "create or delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	o, err := c.orchestrator()
	if err != nil {
		return err
	}
	return report(o.Configure(ctx, fleet.ConfigureInput{Resource: "labels", Action: *action}))
}

func (c *cli) runAnalyze(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	milestone := fs.Int("milestone", 0, "milestone number for context")
	base := fs.String("base", "", "base branch for analyzer sessions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("analyze needs at least one goal file")
	}
	o, err := c.orchestrator()
	if err != nil {
		return err
	}
	return report(o.Analyze(ctx, fleet.AnalyzeInput{
		GoalPaths:  fs.Args(),
		Milestone:  *milestone,
		BaseBranch: *base,
	}))
}

func (c *cli) runDispatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dispatch", flag.ExitOnError)
	milestone := fs.Int("milestone", 0, "milestone number")
	base := fs.String("base", "", "base branch for worker sessions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *milestone <= 0 {
		return fmt.Errorf("dispatch needs --milestone")
	}
	o, err := c.orchestrator()
	if err != nil {
		return err
	}
	return report(o.Dispatch(ctx, fleet.DispatchInput{Milestone: *milestone, BaseBranch: *base}))
}

func (c *cli) runMerge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	mode := fs.String("mode", "label", "label or fleet-run")
	base := fs.String("base", "", "base branch")
	admin := fs.Bool("admin", false, "merge with admin privileges")
	reDispatch := fs.Bool("redispatch", false, "re-dispatch conflicting PRs")
	ciWait := fs.Int("ci-wait", 0, "max seconds to wait for CI")
	retries := fs.Int("max-retries", 0, "max re-dispatch retries per PR")
	pollTimeout := fs.Int("poll-timeout", 0, "max seconds to wait for a replacement PR")
	runID := fs.String("run-id", "", "run id for fleet-run mode")
	if err := fs.Parse(args); err != nil {
		return err
	}
	o, err := c.orchestrator()
	if err != nil {
		return err
	}
	return report(o.Merge(ctx, fleet.MergeInput{
		Mode:               fleet.MergeMode(*mode),
		BaseBranch:         *base,
		Admin:              *admin,
		ReDispatch:         *reDispatch,
		MaxCIWaitSeconds:   *ciWait,
		MaxRetries:         *retries,
		PollTimeoutSeconds: *pollTimeout,
		RunID:              *runID,
	}))
}

func (c *cli) runTrace(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	session := fs.String("session", "", "session id")
	issue := fs.Int("issue", 0, "issue number")
	milestone := fs.Int("milestone", 0, "milestone number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	o, err := c.orchestrator()
	if err != nil {
		return err
	}
	return report(o.Trace(ctx, fleet.TraceInput{
		SessionID:   *session,
		IssueNumber: *issue,
		Milestone:   *milestone,
	}))
}

func (c *cli) runOverlap(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("overlap", flag.ExitOnError)
	milestone := fs.Int("milestone", 0, "milestone number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *milestone <= 0 {
		return fmt.Errorf("overlap needs --milestone")
	}
	o, err := c.orchestrator()
	if err != nil {
		return err
	}
	return report(o.Overlap(ctx, fleet.OverlapInput{Milestone: *milestone}))
}

func (c *cli) runSignal(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "create" {
		return fmt.Errorf("usage: julesfleet signal create [flags]")
	}
	fs := flag.NewFlagSet("signal create", flag.ExitOnError)
	kind := fs.String("kind", "insight", "insight or assessment")
	title := fs.String("title", "", "signal title")
	body := fs.String("body", "", "signal body")
	tags := fs.String("tag", "", "comma-separated extra labels")
	scope := fs.String("scope", "", "milestone title to attach to")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	o, err := c.orchestrator()
	if err != nil {
		return err
	}
	var tagList []string
	if *tags != "" {
		tagList = strings.Split(*tags, ",")
	}
	return report(o.CreateSignal(ctx, fleet.SignalInput{
		Kind:  fleet.SignalKind(*kind),
		Title: *title,
		Body:  *body,
		Tags:  tagList,
		Scope: *scope,
	}))
}

func (c *cli) runQuery(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	from := fs.String("from", "sessions", "sessions or activities")
	where := fs.String("where", "", "filter clause as JSON, e.g. '{\"state\":\"completed\"}'")
	selects := fs.String("select", "", "comma-separated fields ('*' for all, '-field' excludes)")
	order := fs.String("order", "", "asc or desc (default desc)")
	limit := fs.Int("limit", 0, "max results")
	startAt := fs.String("start-at", "", "inclusive id cursor")
	startAfter := fs.String("start-after", "", "exclusive id cursor")
	withActivities := fs.Bool("with-activities", false, "join activities onto each session")
	activitiesWhere := fs.String("activities-where", "", "filter for joined activities as JSON")
	activitiesLimit := fs.Int("activities-limit", 0, "max joined activities per session")
	withSession := fs.Bool("with-session", false, "join the owning session onto each activity")
	sessionSelect := fs.String("session-select", "", "comma-separated fields for the joined session")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := query.Query{
		From:       query.Domain(*from),
		Order:      query.Order(*order),
		Limit:      *limit,
		StartAt:    *startAt,
		StartAfter: *startAfter,
	}
	if *where != "" {
		if err := json.Unmarshal([]byte(*where), &q.Where); err != nil {
			return fmt.Errorf("parse --where: %w", err)
		}
	}
	if *selects != "" {
		q.Select = splitList(*selects)
	}
	if *withActivities || *activitiesWhere != "" {
		inc := &query.IncludeActivities{Limit: *activitiesLimit}
		if *activitiesWhere != "" {
			if err := json.Unmarshal([]byte(*activitiesWhere), &inc.Where); err != nil {
				return fmt.Errorf("parse --activities-where: %w", err)
			}
		}
		q.Include = &query.Include{Activities: inc}
	}
	if *withSession || *sessionSelect != "" {
		inc := &query.IncludeSession{}
		if *sessionSelect != "" {
			inc.Select = splitList(*sessionSelect)
		}
		if q.Include == nil {
			q.Include = &query.Include{}
		}
		q.Include.Session = inc
	}

	client, err := c.sdk()
	if err != nil {
		return err
	}
	results, err := query.NewEngine(client, c.logger).Execute(ctx, q)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

// splitList splits a comma-separated flag value, trimming whitespace.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (c *cli) runSync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	full := fs.Bool("full", false, "ignore the incremental high-water mark")
	limit := fs.Int("limit", 0, "max sessions to sync")
	concurrency := fs.Int("concurrency", 0, "hydration concurrency")
	activities := fs.Bool("activities", true, "hydrate activity logs too")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := c.sdk()
	if err != nil {
		return err
	}
	depth := jules.SyncMetadata
	if *activities {
		depth = jules.SyncActivities
	}
	summary, err := client.Sync(ctx, jules.SyncOptions{
		Depth:       depth,
		Incremental: !*full,
		Limit:       *limit,
		Concurrency: *concurrency,
		OnProgress: func(p jules.SyncProgress) {
			fmt.Fprintf(os.Stderr, "\r%s %d/%d", p.Phase, p.Current, p.Total)
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr)
	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
