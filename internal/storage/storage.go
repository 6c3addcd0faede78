// Package storage implements the persistent write-through cache backing the
// SDK: a per-session append-only activity log and a session store with a
// lightweight index. File-backed and in-memory implementations share the same
// interfaces; the cache root is single-writer per process.
package storage

import (
	"os"

	"github.com/julesfleet/julesfleet/internal/common/logger"
	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

// ActivityLog is a per-session append-only log with a unique id index and a
// cached latest pointer.
type ActivityLog interface {
	Init() error
	Close() error
	// Append is idempotent: appending an activity whose id is already stored
	// replaces the stored value in place, preserving its original position.
	Append(a *v1.Activity) error
	Get(id string) (*v1.Activity, bool, error)
	// Latest returns the most recently inserted activity.
	Latest() (*v1.Activity, bool, error)
	// Scan returns all activities in append order.
	Scan() ([]*v1.Activity, error)
	// TailLatest returns up to n most recent activities without scanning the
	// whole log.
	TailLatest(n int) ([]*v1.Activity, error)
	Count() (int, error)
}

// GlobalMetadata supports O(1) aggregate queries over the session store.
type GlobalMetadata struct {
	LastSyncedAt int64 `json:"lastSyncedAt"` // epoch millis
	SessionCount int   `json:"sessionCount"`
}

// SessionStore caches session resources plus a lightweight index.
type SessionStore interface {
	Init() error
	// Upsert stores the session envelope with _lastSyncedAt=now and appends
	// an index entry.
	Upsert(s *v1.Session) error
	UpsertMany(sessions []*v1.Session) error
	Get(id string) (*v1.SessionEnvelope, bool, error)
	// Delete removes the cached envelope. The index is not compacted.
	Delete(id string) error
	// ScanIndex yields index entries, deduplicated by id (latest entry wins).
	ScanIndex() ([]v1.SessionIndexEntry, error)
	GlobalMetadata() (GlobalMetadata, error)
}

// Provider hands out storage for a cache root.
type Provider interface {
	ActivityLog(sessionID string) ActivityLog
	Sessions() SessionStore
}

// New selects the storage backend. Memory storage is used when forceMemory
// is set (JULES_FORCE_MEMORY_STORAGE) or the root is empty.
func New(root string, forceMemory bool, log *logger.Logger) Provider {
	if forceMemory || root == "" || os.Getenv("JULES_FORCE_MEMORY_STORAGE") != "" {
		return NewMemoryProvider()
	}
	return NewFileProvider(root, log)
}
