package storage

import (
	"fmt"
	"sync"
	"time"

	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

// MemoryActivityLog is the in-memory ActivityLog used when
// JULES_FORCE_MEMORY_STORAGE is set or no cache root is available.
type MemoryActivityLog struct {
	mu       sync.RWMutex
	order    []string
	byID     map[string]*v1.Activity
	latestID string
	inited   bool
}

func NewMemoryActivityLog() *MemoryActivityLog {
	return &MemoryActivityLog{byID: make(map[string]*v1.Activity)}
}

func (l *MemoryActivityLog) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inited = true
	return nil
}

func (l *MemoryActivityLog) Close() error { return nil }

func (l *MemoryActivityLog) Append(a *v1.Activity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inited {
		return fmt.Errorf("activity log not initialised")
	}
	if _, exists := l.byID[a.ID]; !exists {
		l.order = append(l.order, a.ID)
	}
	l.byID[a.ID] = a
	l.latestID = a.ID
	return nil
}

func (l *MemoryActivityLog) Get(id string) (*v1.Activity, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.byID[id]
	return a, ok, nil
}

func (l *MemoryActivityLog) Latest() (*v1.Activity, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.latestID == "" {
		return nil, false, nil
	}
	a, ok := l.byID[l.latestID]
	return a, ok, nil
}

func (l *MemoryActivityLog) Scan() ([]*v1.Activity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*v1.Activity, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out, nil
}

func (l *MemoryActivityLog) TailLatest(n int) ([]*v1.Activity, error) {
	all, err := l.Scan()
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(all) == 0 {
		return nil, nil
	}
	if n > len(all) {
		n = len(all)
	}
	return all[len(all)-n:], nil
}

func (l *MemoryActivityLog) Count() (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order), nil
}

// MemorySessionStore is the in-memory SessionStore.
type MemorySessionStore struct {
	mu        sync.RWMutex
	envelopes map[string]*v1.SessionEnvelope
	index     []v1.SessionIndexEntry
	meta      GlobalMetadata
	now       func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		envelopes: make(map[string]*v1.SessionEnvelope),
		now:       time.Now,
	}
}

func (s *MemorySessionStore) Init() error { return nil }

func (s *MemorySessionStore) Upsert(session *v1.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(session)
}

func (s *MemorySessionStore) UpsertMany(sessions []*v1.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range sessions {
		if err := s.upsertLocked(session); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemorySessionStore) upsertLocked(session *v1.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session id must not be empty")
	}
	nowMs := s.now().UnixMilli()
	if _, exists := s.envelopes[session.ID]; !exists {
		s.meta.SessionCount++
	}
	s.envelopes[session.ID] = &v1.SessionEnvelope{Resource: session, LastSyncedAt: nowMs}
	s.index = append(s.index, v1.SessionIndexEntry{
		ID:          session.ID,
		Title:       session.Title,
		State:       session.State,
		CreateTime:  session.CreateTime,
		SourceLabel: session.SourceContext.Label(),
		UpdatedAt:   nowMs,
	})
	s.meta.LastSyncedAt = nowMs
	return nil
}

func (s *MemorySessionStore) Get(id string) (*v1.SessionEnvelope, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.envelopes[id]
	return e, ok, nil
}

func (s *MemorySessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.envelopes[id]; ok {
		delete(s.envelopes, id)
		if s.meta.SessionCount > 0 {
			s.meta.SessionCount--
		}
	}
	return nil
}

func (s *MemorySessionStore) ScanIndex() ([]v1.SessionIndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var order []string
	byID := make(map[string]v1.SessionIndexEntry)
	for _, entry := range s.index {
		if _, seen := byID[entry.ID]; !seen {
			order = append(order, entry.ID)
		}
		byID[entry.ID] = entry
	}
	out := make([]v1.SessionIndexEntry, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

func (s *MemorySessionStore) GlobalMetadata() (GlobalMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta, nil
}

// MemoryProvider hands out in-memory storage.
type MemoryProvider struct {
	mu       sync.Mutex
	sessions *MemorySessionStore
	logs     map[string]*MemoryActivityLog
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		sessions: NewMemorySessionStore(),
		logs:     make(map[string]*MemoryActivityLog),
	}
}

func (p *MemoryProvider) ActivityLog(sessionID string) ActivityLog {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.logs[sessionID]; ok {
		return l
	}
	l := NewMemoryActivityLog()
	p.logs[sessionID] = l
	return l
}

func (p *MemoryProvider) Sessions() SessionStore {
	return p.sessions
}
