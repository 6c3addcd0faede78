package jules

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/async"
	"github.com/julesfleet/julesfleet/internal/events/bus"
)

// SyncDepth selects how deep a reconciliation goes.
type SyncDepth string

const (
	// SyncMetadata ingests session resources only.
	SyncMetadata SyncDepth = "metadata"
	// SyncActivities additionally hydrates each ingested session's
	// activity log.
	SyncActivities SyncDepth = "activities"
)

// SyncPhase labels progress events.
type SyncPhase string

const (
	PhaseFetchingList     SyncPhase = "fetching_list"
	PhaseHydratingRecords SyncPhase = "hydrating_records"
)

// SyncProgress is emitted as sync advances. Current is monotonic per phase.
type SyncProgress struct {
	Phase          SyncPhase `json:"phase"`
	Current        int       `json:"current"`
	Total          int       `json:"total,omitempty"`
	LastIngestedID string    `json:"lastIngestedId,omitempty"`
	ActivityCount  int       `json:"activityCount,omitempty"`
}

// SyncOptions configures Sync.
type SyncOptions struct {
	Depth       SyncDepth
	Incremental bool
	Limit       int
	Concurrency int
	OnProgress  func(SyncProgress)
}

// SyncResult summarises a reconciliation run.
type SyncResult struct {
	SessionsIngested   int
	ActivitiesHydrated int
}

// Sync reconciles the local cache with the remote listing. Phase A walks the
// sessions cursor (newest first) upserting each resource; in incremental mode
// it stops at the first session at or below the local high-water-mark.
// Phase B hydrates activities for each ingested session with bounded
// parallelism.
func (c *Client) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	if opts.Depth == "" {
		opts.Depth = SyncMetadata
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 5
	}

	sessions := c.store.Sessions()
	if err := sessions.Init(); err != nil {
		return nil, err
	}

	// Local high-water-mark: the newest createTime in the index.
	var hwm time.Time
	if opts.Incremental {
		index, err := sessions.ScanIndex()
		if err != nil {
			return nil, err
		}
		for _, entry := range index {
			if entry.CreateTime.After(hwm) {
				hwm = entry.CreateTime
			}
		}
	}

	emit := func(p SyncProgress) {
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}
		_ = c.bus.Publish(ctx, bus.SubjectSyncProgress, bus.NewEvent(string(p.Phase), "sync", map[string]any{
			"current":        p.Current,
			"total":          p.Total,
			"lastIngestedId": p.LastIngestedID,
			"activityCount":  p.ActivityCount,
		}))
	}

	result := &SyncResult{}
	var ingested []string

	cursor := c.Sessions(SessionsOptions{Limit: opts.Limit})
	for {
		session, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if opts.Incremental && !hwm.IsZero() && !session.CreateTime.After(hwm) {
			break
		}
		ingested = append(ingested, session.ID)
		result.SessionsIngested++
		emit(SyncProgress{
			Phase:          PhaseFetchingList,
			Current:        result.SessionsIngested,
			LastIngestedID: session.ID,
		})
		if opts.Limit > 0 && result.SessionsIngested >= opts.Limit {
			break
		}
	}

	if opts.Depth != SyncActivities || len(ingested) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	hydrated := 0
	_, err := async.Map(ctx, ingested, async.MapOptions{
		Concurrency: opts.Concurrency,
		StopOnError: true,
	}, func(ctx context.Context, id string, _ int) (int, error) {
		count, err := c.Session(id).Activities().Hydrate(ctx)
		if err != nil {
			return 0, err
		}
		// Emit under the lock so Current is delivered monotonically even
		// when hydrations complete out of order.
		mu.Lock()
		hydrated++
		result.ActivitiesHydrated += count
		emit(SyncProgress{
			Phase:          PhaseHydratingRecords,
			Current:        hydrated,
			Total:          len(ingested),
			LastIngestedID: id,
			ActivityCount:  count,
		})
		mu.Unlock()
		return count, nil
	})
	if err != nil {
		return result, err
	}

	c.logger.Info("sync complete",
		zap.Int("sessions", result.SessionsIngested),
		zap.Int("activities", result.ActivitiesHydrated))
	return result, nil
}
