package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julesfleet/julesfleet/internal/common/logger"
	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

func activity(id string, at time.Time) *v1.Activity {
	return &v1.Activity{
		ID:         id,
		CreateTime: at,
		Type:       v1.ActivityAgentMessaged,
		Originator: v1.OriginatorAgent,
		Message:    "message " + id,
	}
}

// Both backends satisfy the same contract; every log test runs against each.
func activityLogs(t *testing.T) map[string]ActivityLog {
	t.Helper()
	return map[string]ActivityLog{
		"file":   NewFileActivityLog(t.TempDir(), logger.Default()),
		"memory": NewMemoryActivityLog(),
	}
}

func TestActivityLogAppendOrder(t *testing.T) {
	for name, log := range activityLogs(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, log.Init())
			base := time.Now().UTC().Truncate(time.Second)
			for i, id := range []string{"a1", "a2", "a3"} {
				require.NoError(t, log.Append(activity(id, base.Add(time.Duration(i)*time.Minute))))
			}

			all, err := log.Scan()
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "a1", all[0].ID)
			assert.Equal(t, "a2", all[1].ID)
			assert.Equal(t, "a3", all[2].ID)

			latest, ok, err := log.Latest()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "a3", latest.ID)

			count, err := log.Count()
			require.NoError(t, err)
			assert.Equal(t, 3, count)
		})
	}
}

func TestActivityLogAppendIdempotent(t *testing.T) {
	for name, log := range activityLogs(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, log.Init())
			base := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, log.Append(activity("a1", base)))
			require.NoError(t, log.Append(activity("a2", base.Add(time.Minute))))

			// Re-appending a1 with a new payload replaces in place.
			updated := activity("a1", base)
			updated.Message = "updated"
			require.NoError(t, log.Append(updated))

			all, err := log.Scan()
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "a1", all[0].ID)
			assert.Equal(t, "updated", all[0].Message)
			assert.Equal(t, "a2", all[1].ID)
		})
	}
}

func TestFileActivityLogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	log := NewFileActivityLog(dir, logger.Default())
	require.NoError(t, log.Init())
	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, log.Append(activity("a1", base)))
	require.NoError(t, log.Append(activity("a2", base.Add(time.Minute))))
	require.NoError(t, log.Close())

	reopened := NewFileActivityLog(dir, logger.Default())
	require.NoError(t, reopened.Init())
	all, err := reopened.Scan()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a1", all[0].ID)

	latest, ok, err := reopened.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a2", latest.ID)
}

func TestActivityLogTailLatest(t *testing.T) {
	for name, log := range activityLogs(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, log.Init())
			base := time.Now().UTC().Truncate(time.Second)
			ids := []string{"a1", "a2", "a3", "a4", "a5"}
			for i, id := range ids {
				require.NoError(t, log.Append(activity(id, base.Add(time.Duration(i)*time.Minute))))
			}

			tail, err := log.TailLatest(2)
			require.NoError(t, err)
			require.Len(t, tail, 2)
			assert.Equal(t, "a4", tail[0].ID)
			assert.Equal(t, "a5", tail[1].ID)

			all, err := log.TailLatest(100)
			require.NoError(t, err)
			assert.Len(t, all, len(ids))
		})
	}
}

func session(id string, at time.Time) *v1.Session {
	return &v1.Session{
		ID:         id,
		Name:       "sessions/" + id,
		Title:      "session " + id,
		State:      v1.SessionStateInProgress,
		CreateTime: at,
	}
}

func sessionStores(t *testing.T) map[string]SessionStore {
	t.Helper()
	return map[string]SessionStore{
		"file":   NewFileSessionStore(t.TempDir(), logger.Default()),
		"memory": NewMemorySessionStore(),
	}
}

func TestSessionStoreUpsertAndGet(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Init())
			now := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, store.Upsert(session("s1", now)))

			envelope, ok, err := store.Get("s1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "s1", envelope.Resource.ID)
			assert.Greater(t, envelope.LastSyncedAt, int64(0))

			_, ok, err = store.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSessionStoreScanIndexDedupes(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Init())
			now := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, store.Upsert(session("s1", now)))
			require.NoError(t, store.Upsert(session("s2", now.Add(time.Minute))))

			// Upserting s1 again must not duplicate it in the index, and the
			// latest entry wins.
			updated := session("s1", now)
			updated.State = v1.SessionStateCompleted
			require.NoError(t, store.Upsert(updated))

			entries, err := store.ScanIndex()
			require.NoError(t, err)
			require.Len(t, entries, 2)

			byID := map[string]v1.SessionIndexEntry{}
			for _, e := range entries {
				byID[e.ID] = e
			}
			assert.Equal(t, v1.SessionStateCompleted, byID["s1"].State)
		})
	}
}

func TestSessionStoreDeleteKeepsIndex(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Init())
			now := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, store.Upsert(session("s1", now)))
			require.NoError(t, store.Delete("s1"))

			_, ok, err := store.Get("s1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSessionStoreGlobalMetadata(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Init())
			now := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, store.Upsert(session("s1", now)))
			require.NoError(t, store.Upsert(session("s2", now)))
			require.NoError(t, store.Upsert(session("s1", now))) // update, not new

			meta, err := store.GlobalMetadata()
			require.NoError(t, err)
			assert.Equal(t, 2, meta.SessionCount)
			assert.Greater(t, meta.LastSyncedAt, int64(0))
		})
	}
}

func TestProviderSelectsMemoryWhenForced(t *testing.T) {
	t.Setenv("JULES_FORCE_MEMORY_STORAGE", "1")
	provider := New(t.TempDir(), false, logger.Default())
	_, ok := provider.(*MemoryProvider)
	assert.True(t, ok)
}
