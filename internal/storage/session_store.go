package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/common/logger"
	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

const (
	sessionFile        = "session.json"
	indexFile          = "sessions-index.jsonl"
	globalMetadataFile = "global-metadata.json"
)

// FileSessionStore persists session envelopes under <root>/<id>/session.json
// with a global append-only index and a global metadata file for O(1)
// aggregate queries.
type FileSessionStore struct {
	root   string
	logger *logger.Logger

	mu     sync.Mutex
	inited bool
	now    func() time.Time
}

// NewFileSessionStore creates a store rooted at root.
func NewFileSessionStore(root string, log *logger.Logger) *FileSessionStore {
	return &FileSessionStore{
		root:   root,
		logger: log.WithFields(zap.String("component", "session_store")),
		now:    time.Now,
	}
}

func (s *FileSessionStore) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inited {
		return nil
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create cache root: %w", err)
	}
	s.inited = true
	return nil
}

func (s *FileSessionStore) sessionPath(id string) string {
	return filepath.Join(s.root, id, sessionFile)
}

// Upsert writes the envelope, appends an index entry, and refreshes the
// global metadata. The envelope is persisted before the index so a crash
// leaves at worst an index entry missing, never a dangling one.
func (s *FileSessionStore) Upsert(session *v1.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(session)
}

func (s *FileSessionStore) UpsertMany(sessions []*v1.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range sessions {
		if err := s.upsertLocked(session); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSessionStore) upsertLocked(session *v1.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session id must not be empty")
	}
	nowMs := s.now().UnixMilli()

	_, statErr := os.Stat(s.sessionPath(session.ID))
	isNew := os.IsNotExist(statErr)

	envelope := v1.SessionEnvelope{Resource: session, LastSyncedAt: nowMs}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode session envelope: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.sessionPath(session.ID)), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(s.sessionPath(session.ID), data, 0o644); err != nil {
		return fmt.Errorf("write session envelope: %w", err)
	}

	entry := v1.SessionIndexEntry{
		ID:          session.ID,
		Title:       session.Title,
		State:       session.State,
		CreateTime:  session.CreateTime,
		SourceLabel: session.SourceContext.Label(),
		UpdatedAt:   nowMs,
	}
	if err := s.appendIndexLocked(entry); err != nil {
		return err
	}
	return s.updateMetadataLocked(nowMs, isNew)
}

func (s *FileSessionStore) appendIndexLocked(entry v1.SessionIndexEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.root, indexFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.Write(append(line, '\n'))
	return err
}

func (s *FileSessionStore) updateMetadataLocked(nowMs int64, isNew bool) error {
	meta, err := s.readMetadataLocked()
	if err != nil {
		return err
	}
	meta.LastSyncedAt = nowMs
	if isNew {
		meta.SessionCount++
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.root, globalMetadataFile), data, 0o644)
}

// readMetadataLocked reads the metadata file, falling back to a full scan
// when it is absent (migration path for pre-metadata caches).
func (s *FileSessionStore) readMetadataLocked() (GlobalMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.root, globalMetadataFile))
	if err == nil {
		var meta GlobalMetadata
		if err := json.Unmarshal(data, &meta); err == nil {
			return meta, nil
		}
		s.logger.Warn("corrupt global metadata, rebuilding from scan")
	} else if !os.IsNotExist(err) {
		return GlobalMetadata{}, err
	}

	var meta GlobalMetadata
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return meta, nil
		}
		return meta, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.sessionPath(e.Name())); err == nil {
			meta.SessionCount++
		}
	}
	return meta, nil
}

func (s *FileSessionStore) Get(id string) (*v1.SessionEnvelope, bool, error) {
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var envelope v1.SessionEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, false, fmt.Errorf("decode session envelope: %w", err)
	}
	return &envelope, true, nil
}

// Delete removes the cached envelope. Index entries for the id remain; the
// index is append-only and never compacted during normal operation.
func (s *FileSessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.sessionPath(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err == nil {
		meta, merr := s.readMetadataLocked()
		if merr != nil {
			return merr
		}
		if meta.SessionCount > 0 {
			meta.SessionCount--
		}
		data, merr := json.Marshal(meta)
		if merr != nil {
			return merr
		}
		return os.WriteFile(filepath.Join(s.root, globalMetadataFile), data, 0o644)
	}
	return nil
}

// ScanIndex streams the index, deduplicating by id with the latest entry
// winning. Order follows first appearance in the index.
func (s *FileSessionStore) ScanIndex() ([]v1.SessionIndexEntry, error) {
	f, err := os.Open(filepath.Join(s.root, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var order []string
	byID := make(map[string]v1.SessionIndexEntry)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry v1.SessionIndexEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			s.logger.Warn("skipping corrupt index entry", zap.Error(err))
			continue
		}
		if _, seen := byID[entry.ID]; !seen {
			order = append(order, entry.ID)
		}
		byID[entry.ID] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	out := make([]v1.SessionIndexEntry, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

func (s *FileSessionStore) GlobalMetadata() (GlobalMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMetadataLocked()
}

// FileProvider hands out file-backed storage under a shared cache root.
type FileProvider struct {
	root   string
	logger *logger.Logger

	mu       sync.Mutex
	sessions *FileSessionStore
	logs     map[string]*FileActivityLog
}

// NewFileProvider creates a provider rooted at root
// (conventionally <workdir>/.jules/cache).
func NewFileProvider(root string, log *logger.Logger) *FileProvider {
	return &FileProvider{
		root:   root,
		logger: log,
		logs:   make(map[string]*FileActivityLog),
	}
}

func (p *FileProvider) ActivityLog(sessionID string) ActivityLog {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.logs[sessionID]; ok {
		return l
	}
	l := NewFileActivityLog(filepath.Join(p.root, sessionID), p.logger)
	p.logs[sessionID] = l
	return l
}

func (p *FileProvider) Sessions() SessionStore {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions == nil {
		p.sessions = NewFileSessionStore(p.root, p.logger)
	}
	return p.sessions
}
